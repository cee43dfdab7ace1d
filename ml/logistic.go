package ml

import (
	"errors"
	"fmt"
	"math"
)

// LogisticRegression is a multinomial (softmax) linear model with optional
// standard scaling of the inputs, the shape most exported scikit-learn
// pipelines reduce to.
type LogisticRegression struct {
	Coef      [][]float64 `json:"coef"`
	Intercept []float64   `json:"intercept"`
	Mean      []float64   `json:"mean,omitempty"`
	Scale     []float64   `json:"scale,omitempty"`

	// training parameters, not serialized
	classes      int
	Epochs       int     `json:"-"`
	LearningRate float64 `json:"-"`
	L2           float64 `json:"-"`
}

func NewLogisticRegression(numClasses int) *LogisticRegression {
	return &LogisticRegression{
		classes:      numClasses,
		Epochs:       500,
		LearningRate: 0.5,
		L2:           1e-4,
	}
}

func (lr *LogisticRegression) NumClasses() int {
	if len(lr.Coef) == 0 {
		return lr.classes
	}
	return len(lr.Coef)
}

// Train fits the model with full-batch gradient descent on standardized
// inputs. Starting from zero weights, the result is deterministic.
func (lr *LogisticRegression) Train(features [][]float64, labels []int) error {
	if len(features) == 0 || len(features) != len(labels) {
		return errors.New("invalid training data")
	}
	classes := lr.NumClasses()
	if classes < 2 {
		return errors.New("need at least two classes")
	}
	for _, label := range labels {
		if label < 0 || label >= classes {
			return fmt.Errorf("label %d out of range [0,%d)", label, classes)
		}
	}
	if lr.Epochs <= 0 || lr.LearningRate <= 0 {
		return errors.New("epochs and learning rate must be positive")
	}

	scaler, err := FitScaler(features)
	if err != nil {
		return err
	}
	x, err := scaler.TransformAll(features)
	if err != nil {
		return err
	}
	width := len(x[0])

	coef := make([][]float64, classes)
	gradCoef := make([][]float64, classes)
	for k := range coef {
		coef[k] = make([]float64, width)
		gradCoef[k] = make([]float64, width)
	}
	intercept := make([]float64, classes)
	gradIntercept := make([]float64, classes)
	scores := make([]float64, classes)
	n := float64(len(x))

	for epoch := 0; epoch < lr.Epochs; epoch++ {
		for k := range gradCoef {
			clear(gradCoef[k])
		}
		clear(gradIntercept)

		for i, row := range x {
			softmax(coef, intercept, row, scores)
			for k := range scores {
				g := scores[k]
				if k == labels[i] {
					g--
				}
				for j, v := range row {
					gradCoef[k][j] += g * v
				}
				gradIntercept[k] += g
			}
		}

		for k := range coef {
			for j := range coef[k] {
				coef[k][j] -= lr.LearningRate * (gradCoef[k][j]/n + lr.L2*coef[k][j])
			}
			intercept[k] -= lr.LearningRate * gradIntercept[k] / n
		}
	}

	lr.Coef = coef
	lr.Intercept = intercept
	lr.Mean = scaler.Mean
	lr.Scale = scaler.Scale
	return nil
}

// softmax writes the class probabilities of x into out.
func softmax(coef [][]float64, intercept, x, out []float64) {
	maxScore := math.Inf(-1)
	for k, row := range coef {
		z := intercept[k]
		for j, w := range row {
			z += w * x[j]
		}
		out[k] = z
		if z > maxScore {
			maxScore = z
		}
	}
	var sum float64
	for k := range out {
		out[k] = math.Exp(out[k] - maxScore)
		sum += out[k]
	}
	for k := range out {
		out[k] /= sum
	}
}

func (lr *LogisticRegression) Predict(features []float64) (int, error) {
	proba, err := lr.PredictProba(features)
	if err != nil {
		return 0, err
	}
	best := 0
	for i, p := range proba {
		if p > proba[best] {
			best = i
		}
	}
	return best, nil
}

func (lr *LogisticRegression) PredictProba(features []float64) ([]float64, error) {
	if len(lr.Coef) == 0 {
		return nil, errors.New("model not trained")
	}
	x, err := lr.scale(features)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(lr.Coef))
	maxScore := math.Inf(-1)
	for k, row := range lr.Coef {
		if len(row) != len(x) {
			return nil, fmt.Errorf("class %d: %d coefficients for %d features", k, len(row), len(x))
		}
		z := lr.Intercept[k]
		for j, w := range row {
			z += w * x[j]
		}
		if math.IsNaN(z) {
			return nil, fmt.Errorf("class %d: score is NaN", k)
		}
		scores[k] = z
		if z > maxScore {
			maxScore = z
		}
	}

	var sum float64
	for k, z := range scores {
		scores[k] = math.Exp(z - maxScore)
		sum += scores[k]
	}
	for k := range scores {
		scores[k] /= sum
	}
	return scores, nil
}

func (lr *LogisticRegression) scale(features []float64) ([]float64, error) {
	if len(lr.Mean) == 0 {
		return features, nil
	}
	if len(features) != len(lr.Mean) {
		return nil, fmt.Errorf("expected %d features, got %d", len(lr.Mean), len(features))
	}
	x := make([]float64, len(features))
	for i, v := range features {
		s := lr.Scale[i]
		if s == 0 {
			s = 1
		}
		x[i] = (v - lr.Mean[i]) / s
	}
	return x, nil
}

func (lr *LogisticRegression) validate(numFeatures int) error {
	if len(lr.Coef) == 0 {
		return errors.New("logistic regression has no coefficients")
	}
	if len(lr.Intercept) != len(lr.Coef) {
		return fmt.Errorf("%d intercepts for %d classes", len(lr.Intercept), len(lr.Coef))
	}
	for k, row := range lr.Coef {
		if len(row) != numFeatures {
			return fmt.Errorf("class %d: %d coefficients, want %d", k, len(row), numFeatures)
		}
	}
	if len(lr.Mean) != 0 || len(lr.Scale) != 0 {
		if len(lr.Mean) != numFeatures || len(lr.Scale) != numFeatures {
			return fmt.Errorf("scaler must have %d entries", numFeatures)
		}
	}
	return nil
}

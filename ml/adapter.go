package ml

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoClassifier is returned when an Adapter is used without a model.
var ErrNoClassifier = errors.New("no classifier loaded")

// PredictionError is the single failure mode of Classify. The caller shows a
// generic message and keeps serving.
type PredictionError struct {
	Op  string
	Err error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("prediction failed: %s: %v", e.Op, e.Err)
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}

// PredictionResult is the outcome of one Classify call.
type PredictionResult struct {
	Label      ClassLabel `json:"label"`
	Index      int        `json:"class_index"`
	Confidence float64    `json:"confidence"`
}

// Adapter maps feature vectors to labelled predictions using an immutable
// classifier.
type Adapter struct {
	classifier Classifier
}

func NewAdapter(classifier Classifier) *Adapter {
	return &Adapter{classifier: classifier}
}

// Classify runs the classifier's decision and probability functions and
// resolves the decided index through the label table. Confidence is the
// probability of the decided class scaled to [0,100].
func (a *Adapter) Classify(features FeatureVector) (result PredictionResult, err error) {
	if a == nil || a.classifier == nil {
		return PredictionResult{}, &PredictionError{Op: "classify", Err: ErrNoClassifier}
	}

	defer func() {
		if r := recover(); r != nil {
			result = PredictionResult{}
			err = &PredictionError{Op: "classify", Err: fmt.Errorf("classifier panic: %v", r)}
		}
	}()

	input := features.Slice()
	index, err := a.classifier.Predict(input)
	if err != nil {
		return PredictionResult{}, &PredictionError{Op: "predict", Err: err}
	}
	proba, err := a.classifier.PredictProba(input)
	if err != nil {
		return PredictionResult{}, &PredictionError{Op: "predict_proba", Err: err}
	}
	if len(proba) != NumClasses {
		return PredictionResult{}, &PredictionError{
			Op:  "predict_proba",
			Err: fmt.Errorf("expected %d probabilities, got %d", NumClasses, len(proba)),
		}
	}

	label, err := LabelForIndex(index)
	if err != nil {
		return PredictionResult{}, &PredictionError{Op: "predict", Err: err}
	}

	p := proba[index]
	if math.IsNaN(p) || p < 0 || p > 1 {
		return PredictionResult{}, &PredictionError{
			Op:  "predict_proba",
			Err: fmt.Errorf("probability %v for class %d outside [0,1]", p, index),
		}
	}

	return PredictionResult{
		Label:      label,
		Index:      index,
		Confidence: p * 100,
	}, nil
}

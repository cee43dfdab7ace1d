package ml

// Classifier is a trained multiclass model. Implementations must be safe for
// concurrent use once loaded; none of them mutate state on Predict.
type Classifier interface {
	Predict(features []float64) (int, error)
	PredictProba(features []float64) ([]float64, error)
	NumClasses() int
}

// Trainable models can be fitted and written back to disk.
type Trainable interface {
	Classifier
	Train(features [][]float64, labels []int) error
}

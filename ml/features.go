package ml

import (
	"fmt"
	"math"
)

// NumFeatures is the length of every impedance feature vector.
const NumFeatures = 10

// Bounds applied by the input form. The classifier itself accepts any value.
const (
	MinFeatureValue = -1000.0
	MaxFeatureValue = 1000.0
)

// FeatureVector holds the impedance measurements in model order:
// I0, PA500, HFS, DA, Area, ADA, Max_IP, DR, P, I0_log.
type FeatureVector [NumFeatures]float64

// FeatureSpec describes one input field.
type FeatureSpec struct {
	Name    string  `json:"name"`
	Title   string  `json:"title"`
	Help    string  `json:"help"`
	Default float64 `json:"default"`
}

var featureSpecs = [NumFeatures]FeatureSpec{
	{Name: "I0", Title: "I0 (Impedance at 0 Hz)", Help: "Impedance at 0 Hz", Default: 0.09},
	{Name: "PA500", Title: "PA500 (Phase Angle at 500 Hz)", Help: "Phase Angle at 500 Hz", Default: -0.07},
	{Name: "HFS", Title: "HFS (High-Frequency Slope)", Help: "High-Frequency Slope", Default: -0.13},
	{Name: "DA", Title: "DA (Delta Amplitude)", Help: "Delta Amplitude", Default: -0.08},
	{Name: "Area", Title: "Area", Help: "Area under the impedance curve", Default: 0.12},
	{Name: "ADA", Title: "A.DA (Amplitude Delta Area)", Help: "Amplitude Delta Area", Default: 0.08},
	{Name: "Max_IP", Title: "Max.IP (Max Impedance Peak)", Help: "Maximum Impedance Peak", Default: 0.08},
	{Name: "DR", Title: "DR (Decay Rate)", Help: "Decay Rate", Default: 0.07},
	{Name: "P", Title: "P (Periodicity)", Help: "Periodicity of the signal", Default: 50.0},
	{Name: "I0_log", Title: "I0_log (Log of Impedance at 0 Hz)", Help: "Log of Impedance at 0 Hz", Default: 0.09},
}

// FeatureSpecs returns the input field descriptions in model order.
func FeatureSpecs() []FeatureSpec {
	specs := make([]FeatureSpec, NumFeatures)
	copy(specs, featureSpecs[:])
	return specs
}

func FeatureNames() []string {
	names := make([]string, NumFeatures)
	for i, spec := range featureSpecs {
		names[i] = spec.Name
	}
	return names
}

// FeatureIndex returns the position of the named feature, or -1.
func FeatureIndex(name string) int {
	for i, spec := range featureSpecs {
		if spec.Name == name {
			return i
		}
	}
	return -1
}

// DefaultFeatureVector returns the form placeholder values.
func DefaultFeatureVector() FeatureVector {
	var v FeatureVector
	for i, spec := range featureSpecs {
		v[i] = spec.Default
	}
	return v
}

func NewFeatureVector(values []float64) (FeatureVector, error) {
	var v FeatureVector
	if len(values) != NumFeatures {
		return v, fmt.Errorf("expected %d features, got %d", NumFeatures, len(values))
	}
	copy(v[:], values)
	return v, nil
}

// FeatureVectorFromMap builds a vector from named values. Every feature must be
// present and unknown names are rejected.
func FeatureVectorFromMap(values map[string]float64) (FeatureVector, error) {
	var v FeatureVector
	for name := range values {
		if FeatureIndex(name) < 0 {
			return v, fmt.Errorf("unknown feature %q", name)
		}
	}
	for i, spec := range featureSpecs {
		value, ok := values[spec.Name]
		if !ok {
			return v, fmt.Errorf("missing feature %q", spec.Name)
		}
		v[i] = value
	}
	return v, nil
}

func (v FeatureVector) Slice() []float64 {
	out := make([]float64, NumFeatures)
	copy(out, v[:])
	return out
}

func (v FeatureVector) Map() map[string]float64 {
	out := make(map[string]float64, NumFeatures)
	for i, spec := range featureSpecs {
		out[spec.Name] = v[i]
	}
	return out
}

// WithinInputBounds reports the first value outside the form range.
func (v FeatureVector) WithinInputBounds() error {
	for i, value := range v {
		if math.IsNaN(value) || value < MinFeatureValue || value > MaxFeatureValue {
			return fmt.Errorf("%s must be between %g and %g", featureSpecs[i].Name, MinFeatureValue, MaxFeatureValue)
		}
	}
	return nil
}

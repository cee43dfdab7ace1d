package ml

import (
	"math"
	"testing"
)

func TestFitScaler(t *testing.T) {
	features := [][]float64{
		{1, 5},
		{3, 5},
	}
	scaler, err := FitScaler(features)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scaler.Mean[0] != 2 || scaler.Scale[0] != 1 {
		t.Fatalf("unexpected stats for column 0: mean=%v scale=%v", scaler.Mean[0], scaler.Scale[0])
	}
	// constant column keeps a unit scale
	if scaler.Mean[1] != 5 || scaler.Scale[1] != 1 {
		t.Fatalf("unexpected stats for constant column: mean=%v scale=%v", scaler.Mean[1], scaler.Scale[1])
	}

	out, err := scaler.Transform([]float64{3, 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0] != 1 || out[1] != 0 {
		t.Fatalf("unexpected transform: %v", out)
	}
}

func TestFitScalerUsesPopulationStdDev(t *testing.T) {
	var features [][]float64
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		features = append(features, []float64{v})
	}
	scaler, err := FitScaler(features)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// sample std dev of this column is about 2.14
	if scaler.Mean[0] != 5 || math.Abs(scaler.Scale[0]-2) > 1e-12 {
		t.Fatalf("mean=%v scale=%v, want 5 and 2", scaler.Mean[0], scaler.Scale[0])
	}
}

func TestFitScalerErrors(t *testing.T) {
	if _, err := FitScaler(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
	if _, err := FitScaler([][]float64{{1, 2}, {1}}); err == nil {
		t.Fatal("expected error for ragged input")
	}
	scaler, _ := FitScaler([][]float64{{1, 2}})
	if _, err := scaler.Transform([]float64{1}); err == nil {
		t.Fatal("expected error for wrong width")
	}
}

func TestLogisticRegressionTrain(t *testing.T) {
	features := [][]float64{
		{0, 0}, {0.2, 0.1}, {0.1, 0.3},
		{10, 0}, {10.2, 0.1}, {9.9, 0.2},
		{0, 10}, {0.1, 10.3}, {0.2, 9.8},
	}
	labels := []int{0, 0, 0, 1, 1, 1, 2, 2, 2}

	model := NewLogisticRegression(3)
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := model.validate(2); err != nil {
		t.Fatalf("trained model should validate: %v", err)
	}

	for i, feature := range features {
		label, err := model.Predict(feature)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if label != labels[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, labels[i], label)
		}
		proba, err := model.PredictProba(feature)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var sum float64
		for _, p := range proba {
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("probabilities sum to %v", sum)
		}
	}
}

func TestLogisticRegressionTrainRejectsBadInput(t *testing.T) {
	model := NewLogisticRegression(3)
	if err := model.Train(nil, nil); err == nil {
		t.Fatal("expected error for empty input")
	}
	if err := model.Train([][]float64{{1}}, []int{3}); err == nil {
		t.Fatal("expected error for out of range label")
	}
	if err := NewLogisticRegression(1).Train([][]float64{{1}}, []int{0}); err == nil {
		t.Fatal("expected error for a single class")
	}
}

package pipeline

import (
	"math"
	"testing"
)

func TestNewDataCleaner(t *testing.T) {
	cleaner := NewDataCleaner(2, 3, nil)
	if cleaner == nil {
		t.Fatal("NewDataCleaner returned nil")
	}

	if len(cleaner.rules) == 0 {
		t.Error("No default rules added")
	}
}

func TestFiniteValueRule(t *testing.T) {
	rule := FiniteValueRule{}

	tests := []struct {
		name     string
		features []float64
		wantErr  bool
	}{
		{"finite values", []float64{1, -2.5, 0}, false},
		{"nan", []float64{1, math.NaN()}, true},
		{"positive infinity", []float64{math.Inf(1)}, true},
		{"negative infinity", []float64{math.Inf(-1), 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rule.Apply(Sample{Features: tt.features})
			if (err != nil) != tt.wantErr {
				t.Errorf("Apply() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLabelRangeRule(t *testing.T) {
	rule := NewLabelRangeRule(6)
	for _, label := range []int{0, 5} {
		if _, err := rule.Apply(Sample{Label: label}); err != nil {
			t.Errorf("label %d: unexpected error %v", label, err)
		}
	}
	for _, label := range []int{-1, 6} {
		if _, err := rule.Apply(Sample{Label: label}); err == nil {
			t.Errorf("label %d: expected error", label)
		}
	}
}

func TestDuplicateDetectionRule(t *testing.T) {
	rule := NewDuplicateDetectionRule()

	if _, err := rule.Apply(Sample{Features: []float64{1, 2}, Label: 0, Line: 2}); err != nil {
		t.Fatalf("first sample: unexpected error %v", err)
	}
	if _, err := rule.Apply(Sample{Features: []float64{1, 2}, Label: 1, Line: 3}); err != nil {
		t.Fatalf("same features with a different label are kept: %v", err)
	}
	if _, err := rule.Apply(Sample{Features: []float64{1, 2}, Label: 0, Line: 4}); err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestDataCleanerClean(t *testing.T) {
	cleaner := NewDataCleaner(2, 3, nil)
	samples := []Sample{
		{Features: []float64{1, 2}, Label: 0, Line: 2},
		{Features: []float64{1}, Label: 0, Line: 3},
		{Features: []float64{math.NaN(), 2}, Label: 1, Line: 4},
		{Features: []float64{3, 4}, Label: 7, Line: 5},
		{Features: []float64{1, 2}, Label: 0, Line: 6},
		{Features: []float64{5, 6}, Label: 2, Line: 7},
	}

	cleaned, issues := cleaner.Clean(samples)
	if len(cleaned) != 2 {
		t.Fatalf("expected 2 clean samples, got %d", len(cleaned))
	}
	if cleaned[0].Line != 2 || cleaned[1].Line != 7 {
		t.Fatalf("unexpected survivors: %+v", cleaned)
	}
	if len(issues) != 4 {
		t.Fatalf("expected 4 issues, got %d", len(issues))
	}

	stats := cleaner.GetStats()
	if stats.TotalProcessed != 6 || stats.Passed != 2 || stats.Rejected != 4 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	for _, rule := range []string{"shape_validation", "finite_value", "label_range", "duplicate_detection"} {
		if stats.Issues[rule] != 1 {
			t.Errorf("expected one %s issue, got %d", rule, stats.Issues[rule])
		}
	}
	if got := cleaner.GetIssues(2); len(got) != 2 || got[1].Line != 6 {
		t.Errorf("unexpected recent issues: %+v", got)
	}
}

// Package pipeline cleans labelled training samples before a model is fitted.
package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sample is one labelled row of the training set. Line is the source line,
// used only in issue messages.
type Sample struct {
	Features []float64
	Label    int
	Line     int
}

type CleaningRule interface {
	Apply(Sample) (Sample, error)
	Name() string
}

type QualityIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // low, medium, high
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Line      int       `json:"line"`
}

type DataCleaner struct {
	rules  []CleaningRule
	logger *zap.Logger

	mu     sync.Mutex
	issues []QualityIssue
	stats  CleaningStats
}

type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// NewDataCleaner returns a cleaner with the default rules for a dataset of
// width features and numClasses labels.
func NewDataCleaner(width, numClasses int, logger *zap.Logger) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := &DataCleaner{
		logger: logger,
		stats:  CleaningStats{Issues: make(map[string]int64)},
	}
	cleaner.AddRule(NewShapeValidationRule(width))
	cleaner.AddRule(FiniteValueRule{})
	cleaner.AddRule(NewLabelRangeRule(numClasses))
	cleaner.AddRule(NewDuplicateDetectionRule())
	return cleaner
}

func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean runs every rule over every sample. A sample failing any rule is
// dropped and reported once per failing rule.
func (dc *DataCleaner) Clean(samples []Sample) ([]Sample, []QualityIssue) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	var cleaned []Sample
	var issues []QualityIssue
	for _, sample := range samples {
		dc.stats.TotalProcessed++

		var sampleIssues []QualityIssue
		for _, rule := range dc.rules {
			next, err := rule.Apply(sample)
			if err != nil {
				sampleIssues = append(sampleIssues, QualityIssue{
					Type:      rule.Name(),
					Severity:  "high",
					Message:   err.Error(),
					Timestamp: time.Now(),
					Line:      sample.Line,
				})
				dc.stats.Issues[rule.Name()]++
				// later rules assume earlier ones passed
				break
			}
			sample = next
		}

		if len(sampleIssues) > 0 {
			dc.stats.Rejected++
			issues = append(issues, sampleIssues...)
			continue
		}
		dc.stats.Passed++
		cleaned = append(cleaned, sample)
	}

	dc.issues = append(dc.issues, issues...)
	dc.stats.LastClean = time.Now()
	dc.logger.Info("cleaned samples",
		zap.Int("kept", len(cleaned)),
		zap.Int("dropped", len(samples)-len(cleaned)))
	return cleaned, issues
}

func (dc *DataCleaner) GetStats() CleaningStats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// GetIssues returns the most recent issues, all of them when limit <= 0.
func (dc *DataCleaner) GetIssues(limit int) []QualityIssue {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if limit <= 0 || limit > len(dc.issues) {
		limit = len(dc.issues)
	}
	issues := make([]QualityIssue, limit)
	copy(issues, dc.issues[len(dc.issues)-limit:])
	return issues
}

// ============ rules ============

type ShapeValidationRule struct {
	Width int
}

func NewShapeValidationRule(width int) *ShapeValidationRule {
	return &ShapeValidationRule{Width: width}
}

func (r *ShapeValidationRule) Name() string {
	return "shape_validation"
}

func (r *ShapeValidationRule) Apply(sample Sample) (Sample, error) {
	if len(sample.Features) != r.Width {
		return sample, fmt.Errorf("expected %d features, got %d", r.Width, len(sample.Features))
	}
	return sample, nil
}

// FiniteValueRule rejects NaN and infinite measurements.
type FiniteValueRule struct{}

func (FiniteValueRule) Name() string {
	return "finite_value"
}

func (FiniteValueRule) Apply(sample Sample) (Sample, error) {
	for i, v := range sample.Features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return sample, fmt.Errorf("feature %d is %v", i, v)
		}
	}
	return sample, nil
}

type LabelRangeRule struct {
	NumClasses int
}

func NewLabelRangeRule(numClasses int) *LabelRangeRule {
	return &LabelRangeRule{NumClasses: numClasses}
}

func (r *LabelRangeRule) Name() string {
	return "label_range"
}

func (r *LabelRangeRule) Apply(sample Sample) (Sample, error) {
	if sample.Label < 0 || sample.Label >= r.NumClasses {
		return sample, fmt.Errorf("label %d out of range [0,%d)", sample.Label, r.NumClasses)
	}
	return sample, nil
}

// DuplicateDetectionRule drops exact repeats of an earlier sample, label
// included.
type DuplicateDetectionRule struct {
	seen map[string]int
	mu   sync.Mutex
}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{seen: make(map[string]int)}
}

func (r *DuplicateDetectionRule) Name() string {
	return "duplicate_detection"
}

func (r *DuplicateDetectionRule) Apply(sample Sample) (Sample, error) {
	key := sampleKey(sample)

	r.mu.Lock()
	defer r.mu.Unlock()

	if first, exists := r.seen[key]; exists {
		return sample, fmt.Errorf("duplicate of line %d", first)
	}
	r.seen[key] = sample.Line
	return sample, nil
}

func sampleKey(sample Sample) string {
	parts := make([]string, 0, len(sample.Features)+1)
	parts = append(parts, strconv.Itoa(sample.Label))
	for _, v := range sample.Features {
		parts = append(parts, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return strings.Join(parts, ",")
}

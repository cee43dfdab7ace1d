package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"tumordetect/ml"
	"tumordetect/pipeline"
)

type dataset struct {
	features [][]float64
	labels   []int
	lines    []int
}

// normalizeHeader folds "A/DA", "Max IP" and "I0_log" style headers onto the
// feature names.
func normalizeHeader(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// readDataset parses a CSV with a Class column and one column per feature.
// When I0_log is absent it is derived as ln(I0).
func readDataset(r io.Reader) (*dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[normalizeHeader(name)] = i
	}

	classCol, ok := columns["class"]
	if !ok {
		return nil, errors.New("missing Class column")
	}
	names := ml.FeatureNames()
	featureCols := make([]int, len(names))
	logIndex := ml.FeatureIndex("I0_log")
	for i, name := range names {
		col, ok := columns[normalizeHeader(name)]
		if !ok {
			if i == logIndex {
				featureCols[i] = -1
				continue
			}
			return nil, fmt.Errorf("missing feature column %s", name)
		}
		featureCols[i] = col
	}

	data := &dataset{}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		label, err := ml.ParseLabel(record[classCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := make([]float64, len(names))
		for i, col := range featureCols {
			if col < 0 {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: column %s: %w", line, names[i], err)
			}
			row[i] = v
		}
		if featureCols[logIndex] < 0 {
			row[logIndex] = math.Log(row[ml.FeatureIndex("I0")])
		}

		data.features = append(data.features, row)
		data.labels = append(data.labels, label.Index())
		data.lines = append(data.lines, line)
	}
	if len(data.features) == 0 {
		return nil, errors.New("dataset has no rows")
	}
	return data, nil
}

// clean drops rows the cleaner rejects and returns the remainder.
func (d *dataset) clean(cleaner *pipeline.DataCleaner) (*dataset, error) {
	samples := make([]pipeline.Sample, len(d.features))
	for i := range d.features {
		samples[i] = pipeline.Sample{Features: d.features[i], Label: d.labels[i], Line: d.lines[i]}
	}
	kept, _ := cleaner.Clean(samples)
	if len(kept) == 0 {
		return nil, errors.New("no rows left after cleaning")
	}

	out := &dataset{}
	for _, sample := range kept {
		out.features = append(out.features, sample.Features)
		out.labels = append(out.labels, sample.Label)
		out.lines = append(out.lines, sample.Line)
	}
	return out, nil
}

// reportCleaning logs the cleaning totals and at most limit of the most
// recently dropped rows.
func reportCleaning(logger *zap.Logger, cleaner *pipeline.DataCleaner, limit int) {
	for _, issue := range cleaner.GetIssues(limit) {
		logger.Warn("dropped row",
			zap.Int("line", issue.Line),
			zap.String("rule", issue.Type),
			zap.String("reason", issue.Message))
	}
	stats := cleaner.GetStats()
	logger.Info("cleaned dataset",
		zap.Int64("kept", stats.Passed),
		zap.Int64("rejected", stats.Rejected),
		zap.Any("issues", stats.Issues))
}

// split shuffles with a fixed seed so repeated runs hold out the same rows.
func (d *dataset) split(testRatio float64, seed int64) (train, test *dataset) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	order := rand.New(rand.NewSource(seed)).Perm(len(d.features))
	cut := int(float64(len(order)) * (1 - testRatio))

	train, test = &dataset{}, &dataset{}
	for i, idx := range order {
		target := train
		if i >= cut {
			target = test
		}
		target.features = append(target.features, d.features[idx])
		target.labels = append(target.labels, d.labels[idx])
	}
	return train, test
}

// evaluate returns accuracy and macro-averaged precision and recall.
func evaluate(model ml.Classifier, test *dataset) (accuracy, precision, recall float64) {
	if len(test.features) == 0 {
		return 0, 0, 0
	}
	classes := model.NumClasses()
	truePositive := make([]int, classes)
	predicted := make([]int, classes)
	actual := make([]int, classes)

	var correct int
	for i, feature := range test.features {
		label, err := model.Predict(feature)
		if err != nil || label < 0 || label >= classes {
			continue
		}
		want := test.labels[i]
		predicted[label]++
		actual[want]++
		if label == want {
			correct++
			truePositive[label]++
		}
	}

	var precisionClasses, recallClasses int
	for k := 0; k < classes; k++ {
		if predicted[k] > 0 {
			precision += float64(truePositive[k]) / float64(predicted[k])
			precisionClasses++
		}
		if actual[k] > 0 {
			recall += float64(truePositive[k]) / float64(actual[k])
			recallClasses++
		}
	}
	if precisionClasses > 0 {
		precision /= float64(precisionClasses)
	}
	if recallClasses > 0 {
		recall /= float64(recallClasses)
	}
	accuracy = float64(correct) / float64(len(test.features))
	return accuracy, precision, recall
}

package ml

import (
	"fmt"
	"strings"
)

// NumClasses is the number of tissue categories every artifact must report.
const NumClasses = 6

// LabelsVersion names the index->label contract below. Artifacts carry the
// same string and are rejected on mismatch.
const LabelsVersion = "breast-tissue/v1"

type ClassLabel string

const (
	Carcinoma    ClassLabel = "Carcinoma"
	FibroAdenoma ClassLabel = "Fibro-adenoma"
	Mastopathy   ClassLabel = "Mastopathy"
	Glandular    ClassLabel = "Glandular"
	Connective   ClassLabel = "Connective"
	Adipose      ClassLabel = "Adipose"
)

var classLabels = [NumClasses]ClassLabel{
	Carcinoma,
	FibroAdenoma,
	Mastopathy,
	Glandular,
	Connective,
	Adipose,
}

// dataset short codes used in the breast tissue impedance CSV
var labelCodes = map[string]ClassLabel{
	"car": Carcinoma,
	"fad": FibroAdenoma,
	"mas": Mastopathy,
	"gla": Glandular,
	"con": Connective,
	"adi": Adipose,
}

// ClassLabels returns the labels in class index order.
func ClassLabels() []ClassLabel {
	labels := make([]ClassLabel, NumClasses)
	copy(labels, classLabels[:])
	return labels
}

func LabelForIndex(index int) (ClassLabel, error) {
	if index < 0 || index >= NumClasses {
		return "", fmt.Errorf("class index %d out of range [0,%d)", index, NumClasses)
	}
	return classLabels[index], nil
}

// Index returns the class index of l, or -1 for an unknown label.
func (l ClassLabel) Index() int {
	for i, label := range classLabels {
		if label == l {
			return i
		}
	}
	return -1
}

func (l ClassLabel) String() string {
	return string(l)
}

// ParseLabel accepts a label name (case-insensitive) or a dataset short code.
func ParseLabel(s string) (ClassLabel, error) {
	s = strings.TrimSpace(s)
	if label, ok := labelCodes[strings.ToLower(s)]; ok {
		return label, nil
	}
	for _, label := range classLabels {
		if strings.EqualFold(string(label), s) {
			return label, nil
		}
	}
	return "", fmt.Errorf("unknown class label %q", s)
}

package ml

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ArtifactFormat identifies the on-disk envelope layout.
const ArtifactFormat = "tumordetect/v1"

const (
	ModelTypeDecisionTree       = "decision_tree"
	ModelTypeLogisticRegression = "logistic_regression"
)

var (
	ErrUnsupportedModel = errors.New("unsupported model type")
	ErrClassCount       = errors.New("artifact class count mismatch")
	ErrLabelMismatch    = errors.New("artifact labels do not match label table")
	ErrFeatureMismatch  = errors.New("artifact features do not match feature order")
)

// Artifact is the serialized model together with the label and feature
// contract it was trained against.
type Artifact struct {
	Format        string          `json:"format"`
	ModelType     string          `json:"model_type"`
	LabelsVersion string          `json:"labels_version"`
	Classes       []string        `json:"classes"`
	FeatureNames  []string        `json:"feature_names,omitempty"`
	TrainedAt     time.Time       `json:"trained_at,omitempty"`
	Model         json.RawMessage `json:"model"`
}

// ModelInfo describes the artifact currently being served.
type ModelInfo struct {
	Type          string    `json:"type"`
	Path          string    `json:"path"`
	LabelsVersion string    `json:"labels_version"`
	Classes       []string  `json:"classes"`
	Checksum      string    `json:"checksum"`
	Version       uint64    `json:"version"`
	LoadedAt      time.Time `json:"loaded_at"`
	TrainedAt     time.Time `json:"trained_at,omitempty"`
}

// LoadModel reads and validates the artifact at path. modelType may be empty
// to accept whatever the envelope declares.
func LoadModel(modelType, path string) (Classifier, ModelInfo, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, ModelInfo{}, fmt.Errorf("read model artifact: %w", err)
	}
	classifier, artifact, err := DecodeArtifact(payload)
	if err != nil {
		return nil, ModelInfo{}, fmt.Errorf("load %s: %w", path, err)
	}
	if modelType != "" && modelType != artifact.ModelType {
		return nil, ModelInfo{}, fmt.Errorf("load %s: configured model type %q, artifact is %q: %w",
			path, modelType, artifact.ModelType, ErrUnsupportedModel)
	}

	sum := sha256.Sum256(payload)
	return classifier, ModelInfo{
		Type:          artifact.ModelType,
		Path:          path,
		LabelsVersion: artifact.LabelsVersion,
		Classes:       artifact.Classes,
		Checksum:      hex.EncodeToString(sum[:]),
		LoadedAt:      time.Now().UTC(),
		TrainedAt:     artifact.TrainedAt,
	}, nil
}

// DecodeArtifact parses an envelope and checks it against the label table.
func DecodeArtifact(payload []byte) (Classifier, *Artifact, error) {
	var artifact Artifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return nil, nil, fmt.Errorf("decode artifact: %w", err)
	}
	if artifact.Format != ArtifactFormat {
		return nil, nil, fmt.Errorf("unknown artifact format %q", artifact.Format)
	}
	if err := checkContract(&artifact); err != nil {
		return nil, nil, err
	}

	var classifier Classifier
	switch artifact.ModelType {
	case ModelTypeDecisionTree:
		tree := &DecisionTree{}
		if err := json.Unmarshal(artifact.Model, tree); err != nil {
			return nil, nil, fmt.Errorf("decode decision tree: %w", err)
		}
		if err := tree.validate(NumFeatures); err != nil {
			return nil, nil, err
		}
		classifier = tree
	case ModelTypeLogisticRegression:
		lr := &LogisticRegression{}
		if err := json.Unmarshal(artifact.Model, lr); err != nil {
			return nil, nil, fmt.Errorf("decode logistic regression: %w", err)
		}
		if err := lr.validate(NumFeatures); err != nil {
			return nil, nil, err
		}
		classifier = lr
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, artifact.ModelType)
	}

	if classifier.NumClasses() != NumClasses {
		return nil, nil, fmt.Errorf("%w: model reports %d classes, want %d", ErrClassCount, classifier.NumClasses(), NumClasses)
	}
	return classifier, &artifact, nil
}

func checkContract(artifact *Artifact) error {
	if artifact.LabelsVersion != LabelsVersion {
		return fmt.Errorf("%w: labels version %q, want %q", ErrLabelMismatch, artifact.LabelsVersion, LabelsVersion)
	}
	if len(artifact.Classes) != NumClasses {
		return fmt.Errorf("%w: %d classes, want %d", ErrClassCount, len(artifact.Classes), NumClasses)
	}
	for i, name := range artifact.Classes {
		if name != string(classLabels[i]) {
			return fmt.Errorf("%w: class %d is %q, want %q", ErrLabelMismatch, i, name, classLabels[i])
		}
	}
	if len(artifact.FeatureNames) == 0 {
		return nil
	}
	names := FeatureNames()
	if len(artifact.FeatureNames) != len(names) {
		return fmt.Errorf("%w: %d features, want %d", ErrFeatureMismatch, len(artifact.FeatureNames), len(names))
	}
	for i, name := range artifact.FeatureNames {
		if name != names[i] {
			return fmt.Errorf("%w: feature %d is %q, want %q", ErrFeatureMismatch, i, name, names[i])
		}
	}
	return nil
}

// NewArtifact wraps a model in an envelope carrying the current contract.
func NewArtifact(modelType string, model Classifier) (*Artifact, error) {
	switch modelType {
	case ModelTypeDecisionTree, ModelTypeLogisticRegression:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, modelType)
	}
	payload, err := json.Marshal(model)
	if err != nil {
		return nil, err
	}
	classes := make([]string, NumClasses)
	for i, label := range classLabels {
		classes[i] = string(label)
	}
	return &Artifact{
		Format:        ArtifactFormat,
		ModelType:     modelType,
		LabelsVersion: LabelsVersion,
		Classes:       classes,
		FeatureNames:  FeatureNames(),
		TrainedAt:     time.Now().UTC(),
		Model:         payload,
	}, nil
}

// Save writes the envelope next to path and renames it into place, so a
// watching server never reads a partial file.
func (a *Artifact) Save(path string) error {
	payload, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"tumordetect/db"
	"tumordetect/logging"
	"tumordetect/ml"
	"tumordetect/pipeline"
)

const reportedIssues = 20

func main() {
	dataPath := flag.String("data", "", "breast tissue impedance CSV")
	modelType := flag.String("model_type", ml.ModelTypeDecisionTree, "decision_tree or logistic_regression")
	modelPath := flag.String("model_path", "./models/best_model.json", "model output path")
	maxDepth := flag.Int("max_depth", 10, "max tree depth")
	testRatio := flag.Float64("test_ratio", 0.2, "test ratio")
	seed := flag.Int64("seed", 42, "shuffle seed for the hold-out split")
	historyPath := flag.String("history", "", "optional SQLite database for the training log")
	logLevel := flag.String("log_level", "info", "log level")
	flag.Parse()

	logger, err := logging.New(logging.Config{Level: *logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *dataPath == "" {
		logger.Fatal("data is required")
	}

	file, err := os.Open(*dataPath)
	if err != nil {
		logger.Fatal("failed to open dataset", zap.String("path", *dataPath), zap.Error(err))
	}
	data, err := readDataset(file)
	file.Close()
	if err != nil {
		logger.Fatal("failed to read dataset", zap.String("path", *dataPath), zap.Error(err))
	}

	cleaner := pipeline.NewDataCleaner(ml.NumFeatures, ml.NumClasses, logger.Named("pipeline"))
	data, err = data.clean(cleaner)
	reportCleaning(logger, cleaner, reportedIssues)
	if err != nil {
		logger.Fatal("failed to clean dataset", zap.Error(err))
	}

	train, test := data.split(*testRatio, *seed)

	model, err := newModel(*modelType, *maxDepth)
	if err != nil {
		logger.Fatal("invalid model type", zap.Error(err))
	}
	if err := model.Train(train.features, train.labels); err != nil {
		logger.Fatal("failed to train model", zap.String("model_type", *modelType), zap.Error(err))
	}

	accuracy, precision, recall := evaluate(model, test)
	logger.Info("evaluated model",
		zap.Int("train", len(train.features)),
		zap.Int("test", len(test.features)),
		zap.Float64("accuracy", accuracy),
		zap.Float64("precision", precision),
		zap.Float64("recall", recall))

	artifact, err := ml.NewArtifact(*modelType, model)
	if err != nil {
		logger.Fatal("failed to build artifact", zap.Error(err))
	}
	if err := artifact.Save(*modelPath); err != nil {
		logger.Fatal("failed to save model", zap.String("path", *modelPath), zap.Error(err))
	}

	if *historyPath != "" {
		store, err := db.Open(*historyPath)
		if err != nil {
			logger.Fatal("failed to open history", zap.String("path", *historyPath), zap.Error(err))
		}
		defer store.Close()
		err = store.SaveTrainingLog(db.TrainingLog{
			ModelName:  *modelType,
			Accuracy:   accuracy,
			Precision:  precision,
			Recall:     recall,
			TrainedAt:  artifact.TrainedAt,
			DataPoints: len(data.features),
		})
		if err != nil {
			logger.Error("failed to record training log", zap.Error(err))
		}
	}

	logger.Info("model saved", zap.String("path", *modelPath), zap.String("model_type", *modelType))
}

func newModel(modelType string, maxDepth int) (ml.Trainable, error) {
	switch modelType {
	case ml.ModelTypeDecisionTree:
		return ml.NewDecisionTree(maxDepth, ml.NumClasses), nil
	case ml.ModelTypeLogisticRegression:
		return ml.NewLogisticRegression(ml.NumClasses), nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
}

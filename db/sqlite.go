package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tumordetect/ml"
)

// Store keeps the prediction history and the training log.
type Store struct {
	database *sql.DB
}

// PredictionRecord is one successful prediction.
type PredictionRecord struct {
	ID            string           `json:"id"`
	RequestID     string           `json:"request_id,omitempty"`
	Features      ml.FeatureVector `json:"features"`
	Label         ml.ClassLabel    `json:"label"`
	ClassIndex    int              `json:"class_index"`
	Confidence    float64          `json:"confidence"`
	ModelChecksum string           `json:"model_checksum"`
	ModelVersion  uint64           `json:"model_version"`
	Source        string           `json:"source"`
	CreatedAt     time.Time        `json:"created_at"`
}

type TrainingLog struct {
	ModelName  string    `json:"model_name"`
	Accuracy   float64   `json:"accuracy"`
	Precision  float64   `json:"precision"`
	Recall     float64   `json:"recall"`
	TrainedAt  time.Time `json:"trained_at"`
	DataPoints int       `json:"data_points"`
}

// Open initializes the SQLite database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	query := `
    CREATE TABLE IF NOT EXISTS predictions (
        id TEXT PRIMARY KEY,
        request_id TEXT,
        features TEXT NOT NULL,
        label TEXT NOT NULL,
        class_index INTEGER NOT NULL,
        confidence REAL NOT NULL,
        model_checksum TEXT,
        model_version INTEGER,
        source TEXT,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY,
        model_name VARCHAR(50),
        accuracy REAL,
        precision REAL,
        recall REAL,
        trained_at DATETIME,
        data_points INTEGER
    );
    `
	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{database: database}, nil
}

func (s *Store) Close() error {
	if s == nil || s.database == nil {
		return nil
	}
	return s.database.Close()
}

func (s *Store) SavePrediction(record PredictionRecord) error {
	if s == nil || s.database == nil {
		return errors.New("database not initialized")
	}
	if record.ID == "" {
		return errors.New("prediction id required")
	}
	features, err := json.Marshal(record.Features)
	if err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	_, err = s.database.Exec(`
        INSERT INTO predictions (
            id, request_id, features, label, class_index, confidence,
            model_checksum, model_version, source, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		record.ID,
		record.RequestID,
		string(features),
		string(record.Label),
		record.ClassIndex,
		record.Confidence,
		record.ModelChecksum,
		int64(record.ModelVersion),
		record.Source,
		record.CreatedAt.UTC(),
	)
	return err
}

// RecentPredictions returns up to limit records, newest first.
func (s *Store) RecentPredictions(limit int) ([]PredictionRecord, error) {
	if s == nil || s.database == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.database.Query(`
        SELECT id, request_id, features, label, class_index, confidence,
               model_checksum, model_version, source, created_at
        FROM predictions
        ORDER BY created_at DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0)
	for rows.Next() {
		var r PredictionRecord
		var features, label string
		var requestID, checksum, source sql.NullString
		var version sql.NullInt64
		if err := rows.Scan(&r.ID, &requestID, &features, &label, &r.ClassIndex, &r.Confidence,
			&checksum, &version, &source, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(features), &r.Features); err != nil {
			return nil, fmt.Errorf("decode features of %s: %w", r.ID, err)
		}
		r.Label = ml.ClassLabel(label)
		r.RequestID = requestID.String
		r.ModelChecksum = checksum.String
		r.ModelVersion = uint64(version.Int64)
		r.Source = source.String
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) SaveTrainingLog(entry TrainingLog) error {
	if s == nil || s.database == nil {
		return errors.New("database not initialized")
	}
	if entry.TrainedAt.IsZero() {
		entry.TrainedAt = time.Now()
	}
	_, err := s.database.Exec(`
        INSERT INTO training_log (model_name, accuracy, precision, recall, trained_at, data_points)
        VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ModelName, entry.Accuracy, entry.Precision, entry.Recall, entry.TrainedAt.UTC(), entry.DataPoints)
	return err
}

func (s *Store) LoadTrainingLog() ([]TrainingLog, error) {
	if s == nil || s.database == nil {
		return nil, errors.New("database not initialized")
	}
	rows, err := s.database.Query(`
        SELECT model_name, accuracy, precision, recall, trained_at, data_points
        FROM training_log
        ORDER BY trained_at DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.ModelName, &log.Accuracy, &log.Precision, &log.Recall, &log.TrainedAt, &log.DataPoints); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

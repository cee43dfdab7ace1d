package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"tumordetect/advisory"
	"tumordetect/db"
	"tumordetect/ml"
	"tumordetect/monitoring"
)

// Predictor serves the current model.
type Predictor interface {
	Classify(features ml.FeatureVector) (ml.PredictionResult, ml.ModelInfo, error)
	Info() ml.ModelInfo
}

// HistoryStore persists successful predictions.
type HistoryStore interface {
	SavePrediction(record db.PredictionRecord) error
	RecentPredictions(limit int) ([]db.PredictionRecord, error)
	LoadTrainingLog() ([]db.TrainingLog, error)
}

// Options wires the API. History, Hub and Metrics are optional.
type Options struct {
	Predictor    Predictor
	History      HistoryStore
	Hub          *monitoring.Hub
	Metrics      *monitoring.Metrics
	Logger       *zap.Logger
	HistoryLimit int
}

type API struct {
	predictor    Predictor
	history      HistoryStore
	hub          *monitoring.Hub
	metrics      *monitoring.Metrics
	logger       *zap.Logger
	historyLimit int
}

func NewAPI(opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = 100
	}
	return &API{
		predictor:    opts.Predictor,
		history:      opts.History,
		hub:          opts.Hub,
		metrics:      opts.Metrics,
		logger:       logger,
		historyLimit: limit,
	}
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", a.handleIndex)
	mux.HandleFunc("POST /predict", a.handleFormPredict)

	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/features", handleFeatures)
	mux.HandleFunc("GET /api/labels", handleLabels)
	mux.HandleFunc("GET /api/model", a.handleModel)
	mux.HandleFunc("POST /api/predict", a.handlePredict)
	mux.HandleFunc("GET /api/history", a.handleHistory)
	mux.HandleFunc("GET /api/training-log", a.handleTrainingLog)
	if a.hub != nil {
		mux.HandleFunc("GET /api/ws/predictions", a.hub.HandleWebSocket)
	}
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.predictor == nil || a.predictor.Info().Version == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no model loaded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleFeatures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"features": ml.FeatureSpecs(),
		"min":      ml.MinFeatureValue,
		"max":      ml.MaxFeatureValue,
	})
}

type labelView struct {
	Index int `json:"index"`
	advisory.Entry
}

func handleLabels(w http.ResponseWriter, r *http.Request) {
	entries := advisory.All()
	labels := make([]labelView, len(entries))
	for i, entry := range entries {
		labels[i] = labelView{Index: entry.Label.Index(), Entry: entry}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": ml.LabelsVersion,
		"labels":  labels,
	})
}

func (a *API) handleModel(w http.ResponseWriter, r *http.Request) {
	if a.predictor == nil {
		writeError(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}
	response := map[string]interface{}{"model": a.predictor.Info()}
	if a.hub != nil {
		response["stream"] = a.hub.Stats()
	}
	writeJSON(w, http.StatusOK, response)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusNotFound, "prediction history is disabled")
		return
	}

	limit := a.historyLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if l < limit {
			limit = l
		}
	}

	records, err := a.history.RecentPredictions(limit)
	if err != nil {
		a.logger.Error("load prediction history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"predictions": records})
}

func (a *API) handleTrainingLog(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusNotFound, "prediction history is disabled")
		return
	}
	logs, err := a.history.LoadTrainingLog()
	if err != nil {
		a.logger.Error("load training log", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load training log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"training_log": logs})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

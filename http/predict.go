package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"tumordetect/advisory"
	"tumordetect/db"
	"tumordetect/ml"
	"tumordetect/monitoring"
)

const maxPredictBody = 64 << 10

// genericPredictionFailure is all a client learns about a failed prediction.
const genericPredictionFailure = "prediction failed"

// PredictRequest carries either an ordered feature list or named values.
type PredictRequest struct {
	Features []float64          `json:"features,omitempty"`
	Values   map[string]float64 `json:"values,omitempty"`
}

type PredictResponse struct {
	RequestID      string   `json:"request_id,omitempty"`
	Label          string   `json:"label"`
	ClassIndex     int      `json:"class_index"`
	Confidence     float64  `json:"confidence"`
	ConfidenceText string   `json:"confidence_text"`
	Risk           string   `json:"risk"`
	Malignant      bool     `json:"malignant"`
	Color          string   `json:"color"`
	AdvisoryTitle  string   `json:"advisory_title"`
	Guidance       []string `json:"guidance"`
	ModelVersion   uint64   `json:"model_version"`
}

func (req PredictRequest) vector() (ml.FeatureVector, error) {
	switch {
	case req.Features != nil && req.Values != nil:
		return ml.FeatureVector{}, errors.New("send either features or values, not both")
	case req.Features != nil:
		return ml.NewFeatureVector(req.Features)
	case req.Values != nil:
		return ml.FeatureVectorFromMap(req.Values)
	default:
		return ml.FeatureVector{}, errors.New("features are required")
	}
}

func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPredictBody)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	var req PredictRequest
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	vector, err := req.vector()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	locale := advisory.Locale(r.Header.Get("Accept-Language"))
	response, err := a.predict(r.Context(), vector, locale, "api")
	if err != nil {
		writeError(w, http.StatusInternalServerError, genericPredictionFailure)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// predict is the boundary for PredictionError: it is logged here and never
// propagated past the handler.
func (a *API) predict(ctx context.Context, vector ml.FeatureVector, locale language.Tag, source string) (PredictResponse, error) {
	requestID := GetRequestID(ctx)
	if a.predictor == nil {
		err := &ml.PredictionError{Op: "classify", Err: ml.ErrNoClassifier}
		a.observe(source, ml.PredictionResult{}, 0, err)
		a.logger.Error("prediction failed", zap.String("request_id", requestID), zap.Error(err))
		return PredictResponse{}, err
	}

	started := time.Now()
	result, info, err := a.predictor.Classify(vector)
	a.observe(source, result, time.Since(started), err)
	if err != nil {
		a.logger.Error("prediction failed",
			zap.String("request_id", requestID),
			zap.String("source", source),
			zap.Uint64("model_version", info.Version),
			zap.Any("features", vector.Map()),
			zap.Error(err))
		return PredictResponse{}, err
	}

	entry, _ := advisory.Lookup(result.Label)
	response := PredictResponse{
		RequestID:      requestID,
		Label:          string(result.Label),
		ClassIndex:     result.Index,
		Confidence:     result.Confidence,
		ConfidenceText: advisory.FormatConfidence(locale, result.Confidence),
		Risk:           string(entry.Risk),
		Malignant:      entry.Malignant,
		Color:          entry.Color,
		AdvisoryTitle:  entry.Title,
		Guidance:       entry.Guidance,
		ModelVersion:   info.Version,
	}

	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("source", source),
		zap.String("label", response.Label),
		zap.Float64("confidence", result.Confidence),
		zap.Uint64("model_version", info.Version),
	}
	if start := GetStartTime(ctx); !start.IsZero() {
		fields = append(fields, zap.Duration("elapsed", time.Since(start)))
	}
	a.logger.Info("prediction served", fields...)

	a.record(vector, response, info, source)
	return response, nil
}

func (a *API) observe(source string, result ml.PredictionResult, elapsed time.Duration, err error) {
	if a.metrics == nil {
		return
	}
	if err != nil {
		a.metrics.ObserveFailure(source)
		return
	}
	a.metrics.ObservePrediction(string(result.Label), source, elapsed)
}

// record stores and broadcasts a served prediction. Failures are logged and
// do not affect the response.
func (a *API) record(vector ml.FeatureVector, response PredictResponse, info ml.ModelInfo, source string) {
	if a.history != nil {
		err := a.history.SavePrediction(db.PredictionRecord{
			ID:            uuid.NewString(),
			RequestID:     response.RequestID,
			Features:      vector,
			Label:         ml.ClassLabel(response.Label),
			ClassIndex:    response.ClassIndex,
			Confidence:    response.Confidence,
			ModelChecksum: info.Checksum,
			ModelVersion:  info.Version,
			Source:        source,
			CreatedAt:     time.Now(),
		})
		if err != nil {
			a.logger.Warn("save prediction history", zap.String("request_id", response.RequestID), zap.Error(err))
		}
	}

	if a.hub != nil {
		err := a.hub.PublishPrediction(monitoring.PredictionEvent{
			RequestID:    response.RequestID,
			Label:        response.Label,
			ClassIndex:   response.ClassIndex,
			Confidence:   response.Confidence,
			Risk:         response.Risk,
			Malignant:    response.Malignant,
			ModelVersion: response.ModelVersion,
			Source:       source,
		})
		if err != nil {
			a.logger.Warn("publish prediction event", zap.Error(err))
		}
	}
}

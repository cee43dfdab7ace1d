package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"tumordetect/ml"
	"tumordetect/monitoring"
)

const exampleFeatures = `[0.09, -0.07, -0.13, -0.08, 0.12, 0.08, 0.08, 0.07, 50.0, 0.09]`

func postPredict(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestHandlePredict(t *testing.T) {
	predictor := fibroAdenomaPredictor()
	history := &fakeHistory{}
	mux := newTestMux(NewAPI(Options{Predictor: predictor, History: history}))

	rr := postPredict(t, mux, `{"features":`+exampleFeatures+`}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp PredictResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Label != "Fibro-adenoma" || resp.ClassIndex != 1 {
		t.Fatalf("unexpected prediction: %+v", resp)
	}
	if resp.ConfidenceText != "70.00" {
		t.Fatalf("expected confidence text 70.00, got %q", resp.ConfidenceText)
	}
	if resp.Malignant || resp.Risk != "Non-cancerous (benign)" || resp.ModelVersion != 1 {
		t.Fatalf("unexpected advisory fields: %+v", resp)
	}
	if len(resp.Guidance) == 0 {
		t.Fatal("expected guidance lines")
	}

	if len(history.records) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(history.records))
	}
	record := history.records[0]
	if record.Label != ml.FibroAdenoma || record.Source != "api" || record.ModelChecksum != "abc" || record.ID == "" {
		t.Fatalf("unexpected history record: %+v", record)
	}
	if record.Features[8] != 50.0 {
		t.Fatalf("unexpected recorded features: %v", record.Features)
	}
}

func TestHandlePredictNamedValues(t *testing.T) {
	mux := newTestMux(NewAPI(Options{Predictor: fibroAdenomaPredictor()}))

	body := `{"values":{"I0":0.09,"PA500":-0.07,"HFS":-0.13,"DA":-0.08,"Area":0.12,` +
		`"ADA":0.08,"Max_IP":0.08,"DR":0.07,"P":50,"I0_log":0.09}}`
	rr := postPredict(t, mux, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandlePredictBadRequests(t *testing.T) {
	predictor := fibroAdenomaPredictor()
	mux := newTestMux(NewAPI(Options{Predictor: predictor}))

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"features":`},
		{"empty body", `{}`},
		{"short vector", `{"features":[1,2,3]}`},
		{"unknown field", `{"features":` + exampleFeatures + `,"extra":1}`},
		{"both forms", `{"features":` + exampleFeatures + `,"values":{"I0":1}}`},
		{"missing named value", `{"values":{"I0":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postPredict(t, mux, tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
	if predictor.calls != 0 {
		t.Fatalf("classifier must not run on bad input, ran %d times", predictor.calls)
	}
}

func TestHandlePredictFailureIsGeneric(t *testing.T) {
	predictor := &fakePredictor{
		err:  &ml.PredictionError{Op: "predict_proba", Err: errors.New("secret internal detail")},
		info: ml.ModelInfo{Version: 1},
	}
	history := &fakeHistory{}
	mux := newTestMux(NewAPI(Options{Predictor: predictor, History: history}))

	rr := postPredict(t, mux, `{"features":`+exampleFeatures+`}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "secret") {
		t.Fatalf("error detail leaked to client: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), genericPredictionFailure) {
		t.Fatalf("expected generic failure message, got %s", rr.Body.String())
	}
	if len(history.records) != 0 {
		t.Fatal("failed predictions must not be recorded")
	}

	// the next request is still served
	predictor.err = nil
	predictor.result = ml.PredictionResult{Label: ml.Carcinoma, Index: 0, Confidence: 90}
	rr = postPredict(t, mux, `{"features":`+exampleFeatures+`}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected recovery after failure, got %d", rr.Code)
	}
}

func TestHandlePredictWithoutModel(t *testing.T) {
	mux := newTestMux(NewAPI(Options{}))

	rr := postPredict(t, mux, `{"features":`+exampleFeatures+`}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestHandlePredictHistoryFailureStillServes(t *testing.T) {
	history := &fakeHistory{err: errors.New("database is locked")}
	mux := newTestMux(NewAPI(Options{Predictor: fibroAdenomaPredictor(), History: history}))

	rr := postPredict(t, mux, `{"features":`+exampleFeatures+`}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestHandlePredictCarriesRequestID(t *testing.T) {
	history := &fakeHistory{}
	handler := NewHandler(DefaultServerConfig(), NewAPI(Options{Predictor: fibroAdenomaPredictor(), History: history}), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(`{"features":`+exampleFeatures+`}`))
	req.Header.Set(requestIDHeader, "req-42")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp PredictResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.RequestID != "req-42" || history.records[0].RequestID != "req-42" {
		t.Fatalf("request id not propagated: %+v", resp)
	}
}

func TestMetricsEndpointCountsPredictions(t *testing.T) {
	metrics := monitoring.NewMetrics()
	predictor := fibroAdenomaPredictor()
	mux := newTestMux(NewAPI(Options{Predictor: predictor, Metrics: metrics}))

	postPredict(t, mux, `{"features":`+exampleFeatures+`}`)
	predictor.err = &ml.PredictionError{Op: "predict", Err: errors.New("boom")}
	postPredict(t, mux, `{"features":`+exampleFeatures+`}`)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`tumordetect_predictions_total{label="Fibro-adenoma",source="api"} 1`,
		`tumordetect_prediction_failures_total{source="api"} 1`,
		"tumordetect_prediction_seconds_count 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestHandlePredictFormatsConfidenceForAcceptLanguage(t *testing.T) {
	mux := newTestMux(NewAPI(Options{Predictor: fibroAdenomaPredictor()}))

	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(`{"features":`+exampleFeatures+`}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.5")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp PredictResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.ConfidenceText != "70,00" {
		t.Fatalf("expected German confidence text 70,00, got %q", resp.ConfidenceText)
	}
	if resp.Confidence != 70 {
		t.Fatalf("numeric confidence must not be localized, got %v", resp.Confidence)
	}
}

func TestHandlePredictFailureLogsFeatures(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	predictor := &fakePredictor{err: &ml.PredictionError{Op: "predict", Err: errors.New("boom")}}
	mux := newTestMux(NewAPI(Options{Predictor: predictor, Logger: zap.New(core)}))

	postPredict(t, mux, `{"features":`+exampleFeatures+`}`)

	failures := logs.FilterMessage("prediction failed").All()
	if len(failures) != 1 {
		t.Fatalf("expected one failure log, got %d", len(failures))
	}
	features, ok := failures[0].ContextMap()["features"].(map[string]float64)
	if !ok {
		t.Fatalf("failure log has no named features: %+v", failures[0].ContextMap())
	}
	if features["P"] != 50 || len(features) != ml.NumFeatures {
		t.Fatalf("unexpected logged features: %v", features)
	}
}

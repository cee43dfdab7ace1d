package http

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"tumordetect/advisory"
	"tumordetect/ml"
)

//go:embed templates/index.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type formField struct {
	Name  string
	Title string
	Help  string
	Value string
	Min   float64
	Max   float64
}

type pageData struct {
	Fields   []formField
	Result   *PredictResponse
	Advisory template.HTML
	Error    string
	Model    ml.ModelInfo
}

func (a *API) handleIndex(w http.ResponseWriter, r *http.Request) {
	a.render(w, http.StatusOK, a.newPage(ml.DefaultFeatureVector().Slice()))
}

func (a *API) handleFormPredict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPredictBody)
	if err := r.ParseForm(); err != nil {
		page := a.newPage(ml.DefaultFeatureVector().Slice())
		page.Error = "Could not read the submitted form."
		a.render(w, http.StatusBadRequest, page)
		return
	}

	values, vector, err := parseFeatureForm(r)
	page := a.newPage(values)
	if err != nil {
		page.Error = err.Error()
		a.render(w, http.StatusBadRequest, page)
		return
	}

	locale := advisory.Locale(r.Header.Get("Accept-Language"))
	response, err := a.predict(r.Context(), vector, locale, "form")
	if err != nil {
		page.Error = "An error occurred: " + genericPredictionFailure
		a.render(w, http.StatusInternalServerError, page)
		return
	}
	page.Result = &response
	page.Advisory = advisory.HTML(ml.ClassLabel(response.Label))
	a.render(w, http.StatusOK, page)
}

// parseFeatureForm reads the ten inputs. Values are returned even on error so
// the form can be redisplayed as submitted.
func parseFeatureForm(r *http.Request) ([]float64, ml.FeatureVector, error) {
	specs := ml.FeatureSpecs()
	values := make([]float64, len(specs))
	var problems []string
	for i, spec := range specs {
		raw := strings.TrimSpace(r.PostFormValue(spec.Name))
		if raw == "" {
			values[i] = spec.Default
			problems = append(problems, spec.Name+" is required")
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			values[i] = spec.Default
			problems = append(problems, spec.Name+" must be a number")
			continue
		}
		values[i] = v
	}
	if len(problems) > 0 {
		return values, ml.FeatureVector{}, errors.New(strings.Join(problems, "; "))
	}

	vector, err := ml.NewFeatureVector(values)
	if err != nil {
		return values, ml.FeatureVector{}, err
	}
	if err := vector.WithinInputBounds(); err != nil {
		return values, ml.FeatureVector{}, err
	}
	return values, vector, nil
}

func (a *API) newPage(values []float64) pageData {
	specs := ml.FeatureSpecs()
	fields := make([]formField, len(specs))
	for i, spec := range specs {
		fields[i] = formField{
			Name:  spec.Name,
			Title: spec.Title,
			Help:  spec.Help,
			Value: strconv.FormatFloat(values[i], 'f', -1, 64),
			Min:   ml.MinFeatureValue,
			Max:   ml.MaxFeatureValue,
		}
	}
	page := pageData{Fields: fields}
	if a.predictor != nil {
		page.Model = a.predictor.Info()
	}
	return page
}

func (a *API) render(w http.ResponseWriter, status int, page pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, page); err != nil {
		a.logger.Error("render page", zap.Error(err))
	}
}

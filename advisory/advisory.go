// Package advisory holds the static per-label risk annotations and guidance
// text shown next to a prediction.
package advisory

import (
	"html/template"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"tumordetect/ml"
)

// Risk is the cancer-risk annotation of a tissue class.
type Risk string

const (
	RiskCancerous   Risk = "Cancerous"
	RiskBenign      Risk = "Non-cancerous (benign)"
	RiskNotATumor   Risk = "Not a tumor"
	RiskCanBeCancer Risk = "Can be cancerous"
)

// Entry is everything displayed for one label.
type Entry struct {
	Label     ml.ClassLabel `json:"label"`
	Risk      Risk          `json:"risk"`
	Malignant bool          `json:"malignant"`
	Color     string        `json:"color"`
	Title     string        `json:"title"`
	Guidance  []string      `json:"guidance"`
}

// Only Carcinoma is rendered with error styling.
var entries = map[ml.ClassLabel]Entry{
	ml.Carcinoma: {
		Label:     ml.Carcinoma,
		Risk:      RiskCancerous,
		Malignant: true,
		Color:     "red",
		Title:     "General Medical Prescription for Carcinoma",
		Guidance: []string{
			"Consult an Oncologist for comprehensive evaluation and treatment plan.",
			"Diagnostic tests: MRI, CT scans, or mammograms for assessment.",
			"Treatment options may include surgery (lumpectomy or mastectomy), radiation, chemotherapy, hormonal therapy, and targeted therapy.",
			"Regular follow-ups for monitoring and support.",
		},
	},
	ml.FibroAdenoma: {
		Label: ml.FibroAdenoma,
		Risk:  RiskBenign,
		Color: "green",
		Title: "General Medical Prescription for Fibro-adenoma",
		Guidance: []string{
			"Consult a physician for monitoring or possible removal.",
			"Surgery may be considered if the tumor grows or causes discomfort.",
		},
	},
	ml.Mastopathy: {
		Label: ml.Mastopathy,
		Risk:  RiskNotATumor,
		Color: "blue",
		Title: "General Medical Prescription for Mastopathy",
		Guidance: []string{
			"Regular check-ups to monitor the condition.",
			"Consult your physician for further recommendations.",
		},
	},
	ml.Glandular: {
		Label: ml.Glandular,
		Risk:  RiskCanBeCancer,
		Color: "purple",
		Title: "General Medical Prescription for Glandular Tumors",
		Guidance: []string{
			"Consult an oncologist to determine the need for treatment.",
			"Monitor any changes in size or symptoms.",
		},
	},
	ml.Connective: {
		Label: ml.Connective,
		Risk:  RiskCanBeCancer,
		Color: "orange",
		Title: "General Medical Prescription for Connective Tissue Tumors",
		Guidance: []string{
			"Further evaluation by a specialist is recommended.",
			"Treatment options will depend on the specific diagnosis.",
		},
	},
	ml.Adipose: {
		Label: ml.Adipose,
		Risk:  RiskCanBeCancer,
		Color: "cyan",
		Title: "General Medical Prescription for Adipose Tumors",
		Guidance: []string{
			"Consult a physician to discuss possible treatment options.",
			"Regular monitoring may be required for benign tumors.",
		},
	},
}

// Lookup returns the advisory entry for label.
func Lookup(label ml.ClassLabel) (Entry, bool) {
	entry, ok := entries[label]
	if !ok {
		return Entry{}, false
	}
	entry.Guidance = append([]string(nil), entry.Guidance...)
	return entry, true
}

// All returns the entries in class index order.
func All() []Entry {
	labels := ml.ClassLabels()
	out := make([]Entry, 0, len(labels))
	for _, label := range labels {
		if entry, ok := Lookup(label); ok {
			out = append(out, entry)
		}
	}
	return out
}

var boxTemplate = template.Must(template.New("advisory").Parse(
	`<div class="prescription-box"><strong>{{.Title}}:</strong><br>` +
		`{{range $i, $line := .Guidance}}{{if $i}}<br>{{end}}- {{$line}}{{end}}</div>`))

// HTML renders the guidance block for label.
func HTML(label ml.ClassLabel) template.HTML {
	entry, ok := Lookup(label)
	if !ok {
		return ""
	}
	var buf strings.Builder
	if err := boxTemplate.Execute(&buf, entry); err != nil {
		return ""
	}
	return template.HTML(buf.String())
}

// SupportedLocales are the number formats a confidence can be rendered in.
// The first entry is the fallback.
var SupportedLocales = []language.Tag{
	language.English,
	language.German,
	language.French,
	language.Spanish,
}

var localeMatcher = language.NewMatcher(SupportedLocales)

// Locale picks the supported locale that best matches an Accept-Language
// header value. Empty or malformed headers yield English.
func Locale(acceptLanguage string) language.Tag {
	tag, _ := language.MatchStrings(localeMatcher, acceptLanguage)
	return tag
}

// FormatConfidence renders a percentage with two decimals using the decimal
// separator of locale, e.g. "70.00" in English and "70,00" in German.
func FormatConfidence(locale language.Tag, confidence float64) string {
	return message.NewPrinter(locale).Sprintf("%.2f", confidence)
}

package webui

import (
	"embed"
	"html/template"
	"sort"

	"accentid/internal/classifier"
	"accentid/internal/pipeline"
)

//go:embed templates/*.html
var templateFS embed.FS

const emptyURLWarning = "Please enter a video URL."

type pageData struct {
	URL     string
	Warning string
	Error   string
	Result  *pipeline.Result
}

func parseTemplates() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"confidence":   pipeline.FormatConfidence,
		"distribution": sortedDistribution,
	}).ParseFS(templateFS, "templates/*.html")
}

// sortedDistribution orders a label→percent map highest first.
func sortedDistribution(dist map[string]float64) []classifier.LabelScore {
	out := make([]classifier.LabelScore, 0, len(dist))
	for label, pct := range dist {
		out = append(out, classifier.LabelScore{Label: label, Percent: pct})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Percent == out[j].Percent {
			return out[i].Label < out[j].Label
		}
		return out[i].Percent > out[j].Percent
	})
	return out
}

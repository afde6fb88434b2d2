package pipeline

import (
	"fmt"
	"strconv"
	"time"
)

// Result is the outcome of a successful run.
type Result struct {
	RunID         string             `json:"run_id"`
	SourceURL     string             `json:"source_url"`
	ModelID       string             `json:"model_id"`
	Accent        string             `json:"accent"`
	DisplayAccent string             `json:"display_accent"`
	Confidence    float64            `json:"confidence"`
	Explanation   string             `json:"explanation"`
	Distribution  map[string]float64 `json:"distribution,omitempty"`
	Elapsed       time.Duration      `json:"elapsed_ns"`
}

// Explain renders the one-line human explanation for a prediction.
func Explain(label string, confidence float64) string {
	return fmt.Sprintf("The speaker's accent is predicted to be **%s** with %s%% confidence.", label, FormatConfidence(confidence))
}

// FormatConfidence renders a percentage with two decimals.
func FormatConfidence(confidence float64) string {
	return strconv.FormatFloat(confidence, 'f', 2, 64)
}

package classifier

import (
	"context"
	"math"
)

// DefaultModelID is the pretrained CommonAccent ECAPA classifier.
const DefaultModelID = "Jzuluaga/accent-id-commonaccent_ecapa"

// Handle is a loaded, ready-to-use classification model. Implementations are
// safe for concurrent use.
type Handle interface {
	ModelID() string
	// Labels lists the model's accent classes in output order. It may be
	// empty when the model does not expose its label encoder.
	Labels() []string
	Classify(ctx context.Context, audioPath string) (Prediction, error)
	Close() error
}

// Loader prepares a Handle for a model id. Load is expensive: it may download
// artifacts and start a process.
type Loader interface {
	Load(ctx context.Context, modelID string) (Handle, error)
}

// LabelScore pairs an accent class with its probability in percent.
type LabelScore struct {
	Label   string  `json:"label"`
	Percent float64 `json:"percent"`
}

// Prediction is the outcome of one inference call.
type Prediction struct {
	Label string `json:"label"`
	// Probability is the winning class share of the normalized distribution.
	Probability float64 `json:"probability"`
	// Confidence is the model's own score for Label in percent, rounded to
	// two decimals. Scores outside [0, 1], such as log-probabilities, are
	// replaced by Probability.
	Confidence float64 `json:"confidence"`
	// Distribution holds every class as a normalized percentage, highest
	// first. Empty when the worker reported only the winning label. For
	// cosine-scoring models it is much flatter than Confidence suggests.
	Distribution []LabelScore `json:"distribution,omitempty"`
}

// ConfidencePercent converts a probability to percent rounded to two decimals.
func ConfidencePercent(p float64) float64 {
	return math.Round(p*100*100) / 100
}

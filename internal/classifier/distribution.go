package classifier

import (
	"errors"
	"math"
	"sort"
	"strings"
)

const distributionTolerance = 1e-3

// Probabilities turns raw model outputs into a probability distribution.
// Outputs that already form one are returned as-is; anything else (logits,
// log-probabilities, cosine scores) goes through a softmax.
func Probabilities(scores []float64) ([]float64, error) {
	if len(scores) == 0 {
		return nil, errors.New("no scores")
	}
	sum := 0.0
	nonNegative := true
	for _, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, errors.New("scores contain NaN or Inf")
		}
		if s < 0 {
			nonNegative = false
		}
		sum += s
	}
	out := make([]float64, len(scores))
	if nonNegative && math.Abs(sum-1) <= distributionTolerance {
		copy(out, scores)
		return out, nil
	}

	maxScore := scores[0]
	for _, s := range scores[1:] {
		maxScore = math.Max(maxScore, s)
	}
	total := 0.0
	for i, s := range scores {
		out[i] = math.Exp(s - maxScore)
		total += out[i]
	}
	for i := range out {
		out[i] /= total
	}
	return out, nil
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// reportedScore returns the worker's score for the winning label when it can
// be read as a probability.
func reportedScore(resp workerResponse) (float64, bool) {
	if resp.Score == nil {
		return 0, false
	}
	score := *resp.Score
	if math.IsNaN(score) || score < 0 || score > 1 {
		return 0, false
	}
	return score, true
}

func buildPrediction(labels []string, resp workerResponse) (Prediction, error) {
	if len(resp.Scores) == 0 {
		label := strings.TrimSpace(resp.Label)
		if label == "" {
			return Prediction{}, errors.New("worker returned no label")
		}
		p := 0.0
		if resp.Score != nil && !math.IsNaN(*resp.Score) {
			p = math.Min(math.Max(*resp.Score, 0), 1)
		}
		return Prediction{Label: label, Probability: p, Confidence: ConfidencePercent(p)}, nil
	}

	probs, err := Probabilities(resp.Scores)
	if err != nil {
		return Prediction{}, err
	}
	best := argmax(probs)
	pred := Prediction{Probability: probs[best], Confidence: ConfidencePercent(probs[best])}
	if score, ok := reportedScore(resp); ok {
		pred.Confidence = ConfidencePercent(score)
	}

	if len(labels) != len(probs) {
		pred.Label = strings.TrimSpace(resp.Label)
		if pred.Label == "" {
			return Prediction{}, errors.New("worker returned no label")
		}
		return pred, nil
	}

	pred.Label = labels[best]
	pred.Distribution = make([]LabelScore, len(probs))
	for i, p := range probs {
		pred.Distribution[i] = LabelScore{Label: labels[i], Percent: ConfidencePercent(p)}
	}
	sort.SliceStable(pred.Distribution, func(i, j int) bool {
		return pred.Distribution[i].Percent > pred.Distribution[j].Percent
	})
	return pred, nil
}

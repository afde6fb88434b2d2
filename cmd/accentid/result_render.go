package main

import (
	"fmt"
	"sort"
	"strings"

	"accentid/internal/classifier"
	"accentid/internal/pipeline"
)

func renderResult(result pipeline.Result) string {
	var b strings.Builder
	b.WriteString("Accent Classification Result:\n")
	fmt.Fprintf(&b, "Accent: %s\n", result.Accent)
	fmt.Fprintf(&b, "Confidence: %s\n", pipeline.FormatConfidence(result.Confidence))
	fmt.Fprintf(&b, "Explanation: %s\n", result.Explanation)
	return b.String()
}

// renderDistribution lists every label by descending percentage, ties by label.
func renderDistribution(dist map[string]float64) string {
	labels := make([]string, 0, len(dist))
	for label := range dist {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if dist[labels[i]] != dist[labels[j]] {
			return dist[labels[i]] > dist[labels[j]]
		}
		return labels[i] < labels[j]
	})

	rows := make([][]string, 0, len(labels))
	for _, label := range labels {
		rows = append(rows, []string{
			label,
			classifier.DisplayName(label),
			pipeline.FormatConfidence(dist[label]) + "%",
		})
	}
	return renderTable([]string{"Label", "Accent", "Confidence"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight})
}

package classifier

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CommonAccent labels that title-casing alone renders badly.
var displayOverrides = map[string]string{
	"us":             "United States",
	"newzealand":     "New Zealand",
	"hongkong":       "Hong Kong",
	"southatlandtic": "South Atlantic",
	"southatlantic":  "South Atlantic",
}

// DisplayName renders a raw model label for people, e.g. "newzealand" becomes
// "New Zealand" and "england" becomes "England".
func DisplayName(label string) string {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return ""
	}
	if name, ok := displayOverrides[strings.ToLower(trimmed)]; ok {
		return name
	}
	return cases.Title(language.English).String(strings.NewReplacer("_", " ", "-", " ").Replace(trimmed))
}

package ai

import (
	"strings"

	"github.com/kdimtricp/sitewatch/internal/logging"
)

// PPE items the vision model tends to invent. The observation text must name
// one of the listed body parts or the observation is dropped.
var bodyPartWords = []struct {
	keyword string
	parts   []string
}{
	{"glove", []string{"hand", "finger"}},
	{"boot", []string{"foot", "feet", "ankle"}},
	{"shoe", []string{"foot", "feet", "ankle"}},
	{"goggle", []string{"eye", "face"}},
	{"eye protection", []string{"eye", "face"}},
	{"face shield", []string{"eye", "face"}},
	{"hearing", []string{"ear"}},
}

// FilterObservations removes PPE observations whose body part is not visible.
func FilterObservations(observations []Observation) []Observation {
	filtered := make([]Observation, 0, len(observations))

	for _, obs := range observations {
		if !strings.EqualFold(strings.TrimSpace(obs.HazardType), "PPE") {
			filtered = append(filtered, obs)
			continue
		}

		text := strings.ToLower(obs.Observation)

		if obs.BodyPartVisible != nil && !*obs.BodyPartVisible {
			logging.Debug().Str("observation", truncate(text, 70)).Msg("dropped PPE observation, body part not visible")
			continue
		}

		if keyword, ok := missingBodyPart(text); ok {
			logging.Debug().Str("keyword", keyword).Str("observation", truncate(text, 70)).Msg("dropped inferred PPE observation")
			continue
		}

		filtered = append(filtered, obs)
	}

	return filtered
}

func missingBodyPart(text string) (string, bool) {
	for _, rule := range bodyPartWords {
		if strings.Contains(text, rule.keyword) && !containsAny(text, rule.parts) {
			return rule.keyword, true
		}
	}
	return "", false
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

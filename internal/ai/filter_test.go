package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool { return &b }

func TestFilterObservations(t *testing.T) {
	tests := []struct {
		name string
		obs  Observation
		keep bool
	}{
		{
			name: "non PPE kept",
			obs:  Observation{Observation: "Open floor edge without guardrail", HazardType: "Fall"},
			keep: true,
		},
		{
			name: "PPE with body part flagged invisible",
			obs:  Observation{Observation: "Worker head without hard hat", HazardType: "PPE", BodyPartVisible: boolPtr(false)},
			keep: false,
		},
		{
			name: "hard hat with head visible",
			obs:  Observation{Observation: "Worker head uncovered, no hard hat", HazardType: "ppe", BodyPartVisible: boolPtr(true)},
			keep: true,
		},
		{
			name: "gloves without hands mentioned",
			obs:  Observation{Observation: "Worker not wearing gloves", HazardType: "PPE"},
			keep: false,
		},
		{
			name: "gloves with bare hands",
			obs:  Observation{Observation: "Bare hands on rebar, no gloves", HazardType: "PPE"},
			keep: true,
		},
		{
			name: "goggles need eye or face",
			obs:  Observation{Observation: "Grinding without goggles", HazardType: "PPE"},
			keep: false,
		},
		{
			name: "second keyword still checked",
			obs:  Observation{Observation: "Gloves off and bare hands, no goggles", HazardType: "PPE"},
			keep: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterObservations([]Observation{tt.obs})
			if tt.keep {
				assert.Len(t, got, 1)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

package ai

import (
	"context"
	"errors"
)

// ErrAnalysisUnavailable covers every way a frame can fail to produce a verdict:
// transport errors, open circuits, timeouts and unparseable model output.
var ErrAnalysisUnavailable = errors.New("analysis unavailable")

// Observation is a raw hazard the vision model reports for one frame.
type Observation struct {
	Observation       string `json:"observation"`
	Location          string `json:"location"`
	HazardType        string `json:"hazard_type"`
	DangerDescription string `json:"danger_description"`
	BodyPartVisible   *bool  `json:"body_part_visible,omitempty"`
}

// RegulationMatch ties an observation to a regulation with severity and remediation.
type RegulationMatch struct {
	ObservationIndex *int   `json:"observation_index,omitempty"`
	HazardType       string `json:"hazard_type"`
	RegulationCode   string `json:"osha_code"`
	RegulationTitle  string `json:"osha_title"`
	Severity         string `json:"severity"`
	PlainEnglish     string `json:"plain_english"`
	Remediation      string `json:"remediation"`
	EstimatedFixTime string `json:"estimated_fix_time"`
}

type VisionClient interface {
	DescribeHazards(ctx context.Context, imageData []byte) ([]Observation, error)
}

type RegulationClient interface {
	MapRegulations(ctx context.Context, observations []Observation) ([]RegulationMatch, error)
}

type Config struct {
	APIURL       string
	APIKey       string
	VisionModel  string
	MappingModel string
	FrameSize    int
}

func NewConfig() *Config {
	return &Config{
		APIURL:       "https://api.openai.com/v1",
		VisionModel:  "gpt-4o",
		MappingModel: "gpt-4o-mini",
		FrameSize:    1024,
	}
}

// Package analyzer turns one sampled frame into candidate violations.
package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kdimtricp/sitewatch/internal/ai"
	"github.com/kdimtricp/sitewatch/internal/logging"
	"github.com/kdimtricp/sitewatch/internal/models"
)

const DefaultTimeout = 45 * time.Second

// Candidate is a detection before cooldown gating.
type Candidate struct {
	HazardType       string
	Severity         models.Severity
	Observation      string
	Location         string
	RegulationCode   string
	RegulationTitle  string
	PlainEnglish     string
	Remediation      string
	EstimatedFixTime string
}

type Service struct {
	vision     ai.VisionClient
	regulation ai.RegulationClient
	timeout    time.Duration
}

func NewService(vision ai.VisionClient, regulation ai.RegulationClient, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		vision:     vision,
		regulation: regulation,
		timeout:    timeout,
	}
}

// Analyze runs vision then regulation mapping on frame. Every failure is
// reported as ai.ErrAnalysisUnavailable.
func (s *Service) Analyze(ctx context.Context, frame ai.Frame) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	observations, err := s.vision.DescribeHazards(ctx, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: vision: %v", ai.ErrAnalysisUnavailable, err)
	}
	if len(observations) == 0 {
		return nil, nil
	}

	matches, err := s.regulation.MapRegulations(ctx, observations)
	if err != nil {
		return nil, fmt.Errorf("%w: mapping: %v", ai.ErrAnalysisUnavailable, err)
	}

	candidates := join(observations, matches)

	logging.Debug().
		Int("frame", frame.Index).
		Int("observations", len(observations)).
		Int("candidates", len(candidates)).
		Msg("frame analyzed")

	return candidates, nil
}

// join pairs each match with its observation, by observation_index when the
// model provides one and by position otherwise.
func join(observations []ai.Observation, matches []ai.RegulationMatch) []Candidate {
	candidates := make([]Candidate, 0, len(matches))

	for i, m := range matches {
		idx := i
		if m.ObservationIndex != nil {
			idx = *m.ObservationIndex
		}

		var obs ai.Observation
		if idx >= 0 && idx < len(observations) {
			obs = observations[idx]
		}

		hazard := firstNonEmpty(m.HazardType, obs.HazardType, "Other")
		candidates = append(candidates, Candidate{
			HazardType:       hazard,
			Severity:         models.ParseSeverity(m.Severity),
			Observation:      obs.Observation,
			Location:         obs.Location,
			RegulationCode:   m.RegulationCode,
			RegulationTitle:  m.RegulationTitle,
			PlainEnglish:     m.PlainEnglish,
			Remediation:      m.Remediation,
			EstimatedFixTime: m.EstimatedFixTime,
		})
	}

	return candidates
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

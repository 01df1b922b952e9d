package models

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the ranked urgency of a violation.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Rank orders severities: CRITICAL is 4, LOW is 1, anything unknown is 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Ticketable reports whether the severity is eligible for automatic ticket filing.
func (s Severity) Ticketable() bool {
	return s.Rank() >= SeverityHigh.Rank()
}

// ParseSeverity maps free text from the mapping model onto a ranked severity.
// Unrecognized values fall back to MEDIUM.
func ParseSeverity(raw string) Severity {
	s := Severity(strings.ToUpper(strings.TrimSpace(raw)))
	if s.Valid() {
		return s
	}
	return SeverityMedium
}

type ViolationStatus string

const (
	ViolationOpen       ViolationStatus = "open"
	ViolationInProgress ViolationStatus = "in_progress"
	ViolationResolved   ViolationStatus = "resolved"
)

// CanTransition reports whether a reviewer may move a violation from s to next.
func (s ViolationStatus) CanTransition(next ViolationStatus) bool {
	switch s {
	case ViolationOpen:
		return next == ViolationInProgress || next == ViolationResolved
	case ViolationInProgress:
		return next == ViolationResolved
	}
	return false
}

func ParseViolationStatus(raw string) (ViolationStatus, error) {
	switch s := ViolationStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case ViolationOpen, ViolationInProgress, ViolationResolved:
		return s, nil
	}
	return "", fmt.Errorf("unknown violation status %q", raw)
}

// ViolationAlert is one accepted detection. Timestamp, FrameNumber, HazardType and
// Location never change after creation.
type ViolationAlert struct {
	ID               string          `json:"violation_id"`
	SessionID        string          `json:"session_id"`
	Timestamp        float64         `json:"timestamp"`
	FrameNumber      int             `json:"frame_number"`
	HazardType       string          `json:"hazard_type"`
	Severity         Severity        `json:"severity"`
	Observation      string          `json:"observation"`
	Location         string          `json:"location"`
	RegulationCode   string          `json:"osha_code,omitempty"`
	RegulationTitle  string          `json:"osha_title,omitempty"`
	PlainEnglish     string          `json:"plain_english,omitempty"`
	Remediation      string          `json:"remediation,omitempty"`
	EstimatedFixTime string          `json:"estimated_fix_time,omitempty"`
	FramePath        string          `json:"frame_path,omitempty"`
	VideoClipPath    string          `json:"video_clip_path,omitempty"`
	Status           ViolationStatus `json:"status"`
	TicketID         string          `json:"ticket_id,omitempty"`
	TicketURL        string          `json:"ticket_url,omitempty"`
	DetectedAt       time.Time       `json:"detected_at"`
}

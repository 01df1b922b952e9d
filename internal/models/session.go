package models

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"
	StatusProcessing SessionStatus = "processing"
	StatusPaused     SessionStatus = "paused"
	StatusCompleted  SessionStatus = "completed"
	StatusStopped    SessionStatus = "stopped"
	StatusFailed     SessionStatus = "failed"
)

// Terminal reports whether the status accepts no further control commands.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusFailed:
		return true
	}
	return false
}

const (
	DefaultAnalysisInterval = 1.5
	DefaultAutoTicketFiling = true
)

// MonitoringSession is one replay of an uploaded video through the violation pipeline.
type MonitoringSession struct {
	ID               string        `json:"id"`
	VideoFilePath    string        `json:"video_file_path"`
	OriginalFilename string        `json:"original_filename,omitempty"`
	Status           SessionStatus `json:"status"`

	FrameRate       float64 `json:"frame_rate"`
	TotalFrames     int     `json:"total_frames"`
	DurationSeconds float64 `json:"duration_seconds"`

	CurrentFrame            int     `json:"current_frame"`
	CurrentTimestamp        float64 `json:"current_timestamp"`
	ViolationsDetectedCount int     `json:"violations_detected_count"`

	AnalysisIntervalSeconds float64 `json:"analysis_interval_seconds"`
	AutoTicketFiling        bool    `json:"auto_ticket_filing"`

	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func NewMonitoringSession(videoPath, originalFilename string, interval float64, autoTicket bool) *MonitoringSession {
	if interval <= 0 {
		interval = DefaultAnalysisInterval
	}
	return &MonitoringSession{
		ID:                      uuid.New().String(),
		VideoFilePath:           videoPath,
		OriginalFilename:        originalFilename,
		Status:                  StatusPending,
		AnalysisIntervalSeconds: interval,
		AutoTicketFiling:        autoTicket,
		CreatedAt:               time.Now().UTC(),
	}
}

// ProgressPercent is the share of the video already sampled.
func (s *MonitoringSession) ProgressPercent() float64 {
	if s.DurationSeconds <= 0 {
		return 0
	}
	return s.CurrentTimestamp / s.DurationSeconds * 100
}

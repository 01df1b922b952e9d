package monitoring

import (
	"context"
	"time"

	"github.com/kdimtricp/sitewatch/internal/ai"
	"github.com/kdimtricp/sitewatch/internal/analyzer"
	"github.com/kdimtricp/sitewatch/internal/broadcast"
	"github.com/kdimtricp/sitewatch/internal/cooldown"
	"github.com/kdimtricp/sitewatch/internal/evidence"
	"github.com/kdimtricp/sitewatch/internal/models"
	"github.com/kdimtricp/sitewatch/internal/tickets"
)

// Source is one opened video.
type Source interface {
	Info() ai.VideoInfo
	FrameAt(ctx context.Context, timestamp float64) (ai.Frame, error)
	ExtractClip(ctx context.Context, outPath string, start, length float64) error
}

// SourceOpener opens the video at path. Failures should wrap ai.ErrSourceUnreadable.
type SourceOpener func(ctx context.Context, path string) (Source, error)

type Analyzer interface {
	Analyze(ctx context.Context, frame ai.Frame) ([]analyzer.Candidate, error)
}

type EvidenceCapturer interface {
	Capture(ctx context.Context, sessionID string, src evidence.ClipSource, frame ai.Frame, seq int, duration float64) evidence.Evidence
}

// Store persists session snapshots and accepted alerts. Any error it returns
// fails the session.
type Store interface {
	SaveSession(ctx context.Context, s models.MonitoringSession) error
	SaveViolation(ctx context.Context, v models.ViolationAlert) error
}

// Loader reads back what a Store persisted, for Registry.Restore.
type Loader interface {
	ListSessions(ctx context.Context) ([]models.MonitoringSession, error)
	ListViolations(ctx context.Context, sessionID string) ([]models.ViolationAlert, error)
}

type nopStore struct{}

func (nopStore) SaveSession(context.Context, models.MonitoringSession) error { return nil }
func (nopStore) SaveViolation(context.Context, models.ViolationAlert) error  { return nil }

// Deps are the collaborators shared by every session. OpenSource, Analyzer and
// Evidence are required; the rest may be nil.
type Deps struct {
	OpenSource SourceOpener
	Analyzer   Analyzer
	Evidence   EvidenceCapturer
	Filer      tickets.Filer
	Store      Store
	Auditor    cooldown.Auditor
	Mirror     broadcast.Mirror
}

type Options struct {
	// PlaybackRate divides the wall-clock wait between samples. 1 is real time.
	PlaybackRate     float64
	CooldownWindow   time.Duration
	TicketTimeout    time.Duration
	SubscriberBuffer int
}

func DefaultOptions() Options {
	return Options{
		PlaybackRate:     1.0,
		CooldownWindow:   cooldown.DefaultWindow,
		TicketTimeout:    tickets.DefaultTimeout,
		SubscriberBuffer: broadcast.DefaultBuffer,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PlaybackRate <= 0 {
		o.PlaybackRate = d.PlaybackRate
	}
	if o.CooldownWindow <= 0 {
		o.CooldownWindow = d.CooldownWindow
	}
	if o.TicketTimeout <= 0 {
		o.TicketTimeout = d.TicketTimeout
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = d.SubscriberBuffer
	}
	return o
}

// Package evidence captures the screenshot and video clip attached to each
// accepted violation.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/kdimtricp/sitewatch/internal/ai"
	"github.com/kdimtricp/sitewatch/internal/logging"
	"github.com/kdimtricp/sitewatch/internal/metrics"
	"github.com/kdimtricp/sitewatch/internal/storage"
)

var ErrEvidenceUnavailable = errors.New("evidence unavailable")

const (
	DefaultTimeout = 20 * time.Second
	DefaultLead    = 15.0
	DefaultTrail   = 15.0
)

// ClipSource cuts a section of the session's video into outPath.
type ClipSource interface {
	ExtractClip(ctx context.Context, outPath string, start, length float64) error
}

// Evidence holds storage-relative paths. Empty means the capture failed.
type Evidence struct {
	ScreenshotPath string
	ClipPath       string
}

type Store struct {
	files   storage.Storage
	timeout time.Duration
	lead    float64
	trail   float64
}

func NewStore(files storage.Storage, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{
		files:   files,
		timeout: timeout,
		lead:    DefaultLead,
		trail:   DefaultTrail,
	}
}

func sessionDir(sessionID string) string {
	return filepath.Join("monitoring", sessionID)
}

func (s *Store) CaptureScreenshot(ctx context.Context, sessionID string, frame ai.Frame) (string, error) {
	if len(frame.Data) == 0 {
		return "", fmt.Errorf("%w: empty frame", ErrEvidenceUnavailable)
	}

	rel := filepath.Join(sessionDir(sessionID), "frames", fmt.Sprintf("frame_%06d.jpg", frame.Index))

	done := make(chan error, 1)
	go func() { done <- s.files.WriteFile(rel, frame.Data) }()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrEvidenceUnavailable, err)
		}
		return rel, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrEvidenceUnavailable, ctx.Err())
	}
}

// ClipWindow is the [start, start+length) range around center, clamped to the video.
func ClipWindow(center, lead, trail, duration float64) (start, length float64) {
	start = max(0, center-lead)
	end := min(duration, center+trail)
	return start, end - start
}

func (s *Store) CaptureClip(ctx context.Context, sessionID string, src ClipSource, seq int, center, duration float64) (string, error) {
	start, length := ClipWindow(center, s.lead, s.trail, duration)
	if length <= 0 {
		return "", fmt.Errorf("%w: empty clip window at %.2f", ErrEvidenceUnavailable, center)
	}

	rel := filepath.Join(sessionDir(sessionID), "clips", fmt.Sprintf("violation_%d.mp4", seq))
	out, err := s.files.Path(rel)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEvidenceUnavailable, err)
	}

	if err := src.ExtractClip(ctx, out, start, length); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEvidenceUnavailable, err)
	}

	return rel, nil
}

// Capture takes the screenshot and the clip concurrently under one timeout.
// It never fails; missing pieces are left empty and logged.
func (s *Store) Capture(ctx context.Context, sessionID string, src ClipSource, frame ai.Frame, seq int, duration float64) Evidence {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		ev               Evidence
		shotErr, clipErr error
		wg               sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		ev.ScreenshotPath, shotErr = s.CaptureScreenshot(ctx, sessionID, frame)
	}()
	go func() {
		defer wg.Done()
		ev.ClipPath, clipErr = s.CaptureClip(ctx, sessionID, src, seq, frame.Timestamp, duration)
	}()
	wg.Wait()

	log := logging.With().Str("session_id", sessionID).Int("frame", frame.Index).Logger()
	if shotErr != nil {
		metrics.EvidenceFailures.WithLabelValues("screenshot").Inc()
		log.Warn().Err(shotErr).Msg("screenshot capture failed")
	}
	if clipErr != nil {
		metrics.EvidenceFailures.WithLabelValues("clip").Inc()
		log.Warn().Err(clipErr).Msg("clip capture failed")
	}

	return ev
}

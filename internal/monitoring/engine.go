package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kdimtricp/sitewatch/internal/ai"
	"github.com/kdimtricp/sitewatch/internal/analyzer"
	"github.com/kdimtricp/sitewatch/internal/broadcast"
	"github.com/kdimtricp/sitewatch/internal/cooldown"
	"github.com/kdimtricp/sitewatch/internal/evidence"
	"github.com/kdimtricp/sitewatch/internal/logging"
	"github.com/kdimtricp/sitewatch/internal/metrics"
	"github.com/kdimtricp/sitewatch/internal/models"
	"github.com/kdimtricp/sitewatch/internal/tickets"
)

const storeTimeout = 10 * time.Second

type commandKind int

const (
	cmdPause commandKind = iota
	cmdResume
	cmdStop
)

func (k commandKind) String() string {
	switch k {
	case cmdPause:
		return "pause"
	case cmdResume:
		return "resume"
	case cmdStop:
		return "stop"
	}
	return "unknown"
}

type command struct {
	kind  commandKind
	reply chan error
}

// Engine drives one monitoring session. A single goroutine (run) owns the
// sampling state; other goroutines only read snapshots or send commands,
// which run applies at its suspension points.
type Engine struct {
	deps  Deps
	opts  Options
	after func(time.Duration) <-chan time.Time

	hub      *broadcast.Hub
	commands chan command
	done     chan struct{}
	log      zerolog.Logger

	// Owned by run.
	source  Source
	tracker *cooldown.Tracker
	fatal   error
	seq     int

	mu         sync.RWMutex
	session    models.MonitoringSession
	violations []models.ViolationAlert

	// reviewMu serializes reviewer updates so mu is never held across a store write.
	reviewMu sync.Mutex
}

func newEngine(s models.MonitoringSession, deps Deps, opts Options, after func(time.Duration) <-chan time.Time) *Engine {
	return &Engine{
		deps:     deps,
		opts:     opts,
		after:    after,
		hub:      broadcast.NewHub(s.ID, opts.SubscriberBuffer, deps.Mirror),
		commands: make(chan command),
		done:     make(chan struct{}),
		log:      logging.With().Str("session_id", s.ID).Logger(),
		tracker:  cooldown.NewTracker(opts.CooldownWindow),
		session:  s,
	}
}

// newRetiredEngine wraps a session that is no longer running, e.g. one
// loaded from the database at startup.
func newRetiredEngine(s models.MonitoringSession, violations []models.ViolationAlert, deps Deps) *Engine {
	e := &Engine{
		deps:       deps,
		hub:        broadcast.NewHub(s.ID, 1, nil),
		done:       make(chan struct{}),
		log:        logging.With().Str("session_id", s.ID).Logger(),
		session:    s,
		violations: violations,
	}
	e.hub.Close()
	close(e.done)
	return e
}

func (e *Engine) Snapshot() models.MonitoringSession {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}

func (e *Engine) Violations() []models.ViolationAlert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.ViolationAlert, len(e.violations))
	copy(out, e.violations)
	return out
}

func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) Subscribe() *broadcast.Subscription {
	return e.hub.Subscribe()
}

func (e *Engine) Pause() error  { return e.send(cmdPause) }
func (e *Engine) Resume() error { return e.send(cmdResume) }
func (e *Engine) Stop() error   { return e.send(cmdStop) }

func (e *Engine) send(kind commandKind) error {
	cmd := command{kind: kind, reply: make(chan error, 1)}
	select {
	case e.commands <- cmd:
		return <-cmd.reply
	case <-e.done:
		return fmt.Errorf("%w: cannot %s a %s session", ErrInvalidTransition, kind, e.status())
	}
}

// UpdateViolationStatus applies a reviewer's status change to one alert.
func (e *Engine) UpdateViolationStatus(ctx context.Context, violationID string, next models.ViolationStatus) (models.ViolationAlert, error) {
	e.reviewMu.Lock()
	defer e.reviewMu.Unlock()

	idx, v := e.findViolation(violationID)
	if idx < 0 {
		return models.ViolationAlert{}, fmt.Errorf("%w: violation %s", ErrNotFound, violationID)
	}
	if !v.Status.CanTransition(next) {
		return models.ViolationAlert{}, fmt.Errorf("%w: violation %s is %s", ErrInvalidTransition, v.ID, v.Status)
	}
	v.Status = next

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := e.deps.Store.SaveViolation(ctx, v); err != nil {
		return models.ViolationAlert{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	// Alerts are append-only and only reviewers change their status, so idx
	// still names the same alert.
	e.mu.Lock()
	e.violations[idx].Status = next
	v = e.violations[idx]
	e.mu.Unlock()
	return v, nil
}

func (e *Engine) findViolation(id string) (int, models.ViolationAlert) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i, v := range e.violations {
		if v.ID == id {
			return i, v
		}
	}
	return -1, models.ViolationAlert{}
}

func (e *Engine) status() models.SessionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session.Status
}

func (e *Engine) update(fn func(s *models.MonitoringSession)) {
	e.mu.Lock()
	fn(&e.session)
	e.mu.Unlock()
}

func isActive(s models.SessionStatus) bool {
	return s == models.StatusProcessing || s == models.StatusPaused
}

func (e *Engine) setStatus(to models.SessionStatus) {
	e.setStatusAt(to, time.Now().UTC())
}

func (e *Engine) setStatusAt(to models.SessionStatus, now time.Time) {
	from := e.status()

	e.update(func(s *models.MonitoringSession) {
		s.Status = to
		if to == models.StatusProcessing && s.StartedAt == nil {
			s.StartedAt = &now
		}
		if to.Terminal() {
			s.CompletedAt = &now
		}
	})

	metrics.SessionTransitions.WithLabelValues(string(to)).Inc()
	switch {
	case !isActive(from) && isActive(to):
		metrics.SessionsActive.Inc()
	case isActive(from) && !isActive(to):
		metrics.SessionsActive.Dec()
	}

	e.log.Info().Str("from", string(from)).Str("to", string(to)).Msg("session status changed")
}

func (e *Engine) saveSession() error {
	return e.saveSnapshot(e.Snapshot())
}

func (e *Engine) saveSnapshot(s models.MonitoringSession) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := e.deps.Store.SaveSession(ctx, s); err != nil {
		return fmt.Errorf("%w: save session: %v", ErrStorageFailure, err)
	}
	return nil
}

func (e *Engine) saveViolation(v models.ViolationAlert) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := e.deps.Store.SaveViolation(ctx, v); err != nil {
		return fmt.Errorf("%w: save violation: %v", ErrStorageFailure, err)
	}
	return nil
}

func (e *Engine) handle(cmd command) {
	cmd.reply <- e.transition(cmd.kind)
}

func (e *Engine) transition(kind commandKind) error {
	from := e.status()

	var to models.SessionStatus
	switch {
	case kind == cmdPause && from == models.StatusProcessing:
		to = models.StatusPaused
	case kind == cmdResume && from == models.StatusPaused:
		to = models.StatusProcessing
	case kind == cmdStop && isActive(from):
		to = models.StatusStopped
	default:
		return fmt.Errorf("%w: cannot %s a %s session", ErrInvalidTransition, kind, from)
	}

	e.setStatus(to)
	if err := e.saveSession(); err != nil {
		e.fatal = err
	}
	return nil
}

func (e *Engine) halted(ctx context.Context) bool {
	return e.fatal != nil || e.status().Terminal() || ctx.Err() != nil
}

// drain applies every command already queued without blocking.
func (e *Engine) drain(ctx context.Context) bool {
	for {
		select {
		case cmd := <-e.commands:
			e.handle(cmd)
		default:
			return !e.halted(ctx)
		}
	}
}

// waitWhilePaused blocks until the session is resumed or halted.
func (e *Engine) waitWhilePaused(ctx context.Context) bool {
	for e.status() == models.StatusPaused {
		select {
		case cmd := <-e.commands:
			e.handle(cmd)
			if e.halted(ctx) {
				return false
			}
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// sleep waits out d. It returns early, with true, when a command leaves the
// session not processing.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	timer := e.after(d)
	for {
		select {
		case <-timer:
			return true
		case cmd := <-e.commands:
			e.handle(cmd)
			if e.halted(ctx) {
				return false
			}
			if e.status() != models.StatusProcessing {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
}

// await runs op while still servicing commands. If the session halts first,
// op's context is cancelled and its results must be ignored.
func (e *Engine) await(ctx context.Context, op func(ctx context.Context)) bool {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		op(opCtx)
	}()

	for {
		select {
		case <-done:
			return !e.halted(ctx)
		case cmd := <-e.commands:
			e.handle(cmd)
			if e.halted(ctx) {
				return false
			}
		case <-ctx.Done():
			return false
		}
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	defer e.hub.Close()

	path := e.Snapshot().VideoFilePath

	var src Source
	var openErr error
	ok := e.await(ctx, func(ctx context.Context) {
		src, openErr = e.deps.OpenSource(ctx, path)
	})
	if !ok {
		e.halt(ctx)
		return
	}
	if openErr != nil {
		e.fail(openErr)
		return
	}
	e.source = src

	info := src.Info()
	e.update(func(s *models.MonitoringSession) {
		s.FrameRate = info.FrameRate
		s.TotalFrames = info.TotalFrames
		s.DurationSeconds = info.Duration
	})
	e.setStatus(models.StatusProcessing)
	if err := e.saveSession(); err != nil {
		e.fail(err)
		return
	}

	e.log.Info().
		Float64("duration", info.Duration).
		Float64("fps", info.FrameRate).
		Int("total_frames", info.TotalFrames).
		Msg("monitoring started")

	for {
		if !e.drain(ctx) {
			e.halt(ctx)
			return
		}

		if e.status() == models.StatusPaused {
			if !e.waitWhilePaused(ctx) {
				e.halt(ctx)
				return
			}
			continue
		}

		snap := e.Snapshot()
		if snap.CurrentTimestamp >= snap.DurationSeconds {
			e.complete()
			return
		}

		wait := time.Duration(snap.AnalysisIntervalSeconds / e.opts.PlaybackRate * float64(time.Second))
		if !e.sleep(ctx, wait) {
			e.halt(ctx)
			return
		}
		if e.status() != models.StatusProcessing {
			continue
		}

		next := min(snap.CurrentTimestamp+snap.AnalysisIntervalSeconds, snap.DurationSeconds)
		if !e.sample(ctx, next) {
			e.halt(ctx)
			return
		}

		snap = e.Snapshot()
		if snap.Status == models.StatusProcessing && snap.CurrentTimestamp >= snap.DurationSeconds {
			e.complete()
			return
		}
	}
}

// sample fetches and analyzes the frame at next, applies its results and
// emits progress. It returns false if the session halted meanwhile.
func (e *Engine) sample(ctx context.Context, next float64) bool {
	var (
		frame       ai.Frame
		frameErr    error
		candidates  []analyzer.Candidate
		analysisErr error
	)

	ok := e.await(ctx, func(ctx context.Context) {
		frame, frameErr = e.source.FrameAt(ctx, next)
		if frameErr != nil {
			return
		}
		candidates, analysisErr = e.deps.Analyzer.Analyze(ctx, frame)
	})
	if !ok {
		return false
	}

	switch {
	case frameErr != nil:
		if errors.Is(frameErr, ai.ErrSourceUnreadable) {
			e.fatal = frameErr
			return false
		}
		metrics.FramesSampled.WithLabelValues("frame_unavailable").Inc()
		e.log.Warn().Err(frameErr).Float64("timestamp", next).Msg("frame unavailable, skipping")
		frame = ai.Frame{Index: ai.FrameIndex(e.source.Info(), next)}
	case analysisErr != nil:
		metrics.FramesSampled.WithLabelValues("analysis_unavailable").Inc()
		e.log.Warn().Err(analysisErr).Float64("timestamp", next).Msg("analysis unavailable, skipping frame")
		candidates = nil
	default:
		metrics.FramesSampled.WithLabelValues("analyzed").Inc()
	}
	frame.Timestamp = next

	e.update(func(s *models.MonitoringSession) {
		s.CurrentTimestamp = next
		s.CurrentFrame = frame.Index
	})

	for _, c := range candidates {
		if !e.accept(ctx, frame, c) {
			return false
		}
	}

	if err := e.saveSession(); err != nil {
		e.fatal = err
		return false
	}

	snap := e.Snapshot()
	e.hub.Publish(models.EventProgress, models.ProgressData{
		CurrentTime:     snap.CurrentTimestamp,
		TotalTime:       snap.DurationSeconds,
		Frame:           snap.CurrentFrame,
		ProgressPercent: snap.ProgressPercent(),
	})

	return true
}

// accept gates one candidate through the cooldown tracker and, if it passes,
// captures evidence, files a ticket and emits the alert.
func (e *Engine) accept(ctx context.Context, frame ai.Frame, c analyzer.Candidate) bool {
	at := frame.Timestamp
	if e.tracker.ShouldSuppress(c.HazardType, c.Location, at) {
		metrics.ViolationsSuppressed.Inc()
		e.log.Debug().
			Str("hazard_type", c.HazardType).
			Str("bucket", cooldown.Bucket(c.Location)).
			Float64("timestamp", at).
			Msg("detection suppressed by cooldown")
		return true
	}
	e.tracker.RecordAccepted(c.HazardType, c.Location, at)
	e.audit(c.HazardType, c.Location, at)

	e.seq++
	seq := e.seq
	snap := e.Snapshot()

	alert := models.ViolationAlert{
		ID:               fmt.Sprintf("%s_%d", snap.ID, seq),
		SessionID:        snap.ID,
		Timestamp:        at,
		FrameNumber:      frame.Index,
		HazardType:       c.HazardType,
		Severity:         c.Severity,
		Observation:      c.Observation,
		Location:         c.Location,
		RegulationCode:   c.RegulationCode,
		RegulationTitle:  c.RegulationTitle,
		PlainEnglish:     c.PlainEnglish,
		Remediation:      c.Remediation,
		EstimatedFixTime: c.EstimatedFixTime,
		Status:           models.ViolationOpen,
		DetectedAt:       time.Now().UTC(),
	}

	fileTicket := snap.AutoTicketFiling && alert.Severity.Ticketable() && e.deps.Filer != nil

	var (
		ev        evidence.Evidence
		ticket    tickets.Ticket
		ticketErr error
	)
	ok := e.await(ctx, func(ctx context.Context) {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev = e.deps.Evidence.Capture(ctx, snap.ID, e.source, frame, seq, snap.DurationSeconds)
		}()
		if fileTicket {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tctx, cancel := context.WithTimeout(ctx, e.opts.TicketTimeout)
				defer cancel()
				ticket, ticketErr = e.deps.Filer.File(tctx, alert)
			}()
		}
		wg.Wait()
	})
	if !ok {
		return false
	}

	alert.FramePath = ev.ScreenshotPath
	alert.VideoClipPath = ev.ClipPath

	if fileTicket {
		if ticketErr != nil {
			metrics.TicketsFiled.WithLabelValues("failed").Inc()
			e.log.Warn().Err(ticketErr).Str("violation_id", alert.ID).Msg("ticket filing failed")
		} else {
			metrics.TicketsFiled.WithLabelValues("filed").Inc()
			alert.TicketID = ticket.ID
			alert.TicketURL = ticket.URL
			alert.Status = models.ViolationInProgress
		}
	}

	if err := e.saveViolation(alert); err != nil {
		e.fatal = err
		return false
	}

	e.mu.Lock()
	e.violations = append(e.violations, alert)
	e.session.ViolationsDetectedCount++
	e.mu.Unlock()

	metrics.ViolationsAccepted.WithLabelValues(string(alert.Severity)).Inc()
	e.log.Info().
		Str("violation_id", alert.ID).
		Str("hazard_type", alert.HazardType).
		Str("severity", string(alert.Severity)).
		Float64("timestamp", at).
		Msg("violation accepted")

	e.hub.Publish(models.EventViolation, alert)
	return true
}

func (e *Engine) audit(category, location string, at float64) {
	if e.deps.Auditor == nil {
		return
	}
	sessionID := e.Snapshot().ID
	entry := cooldown.Entry{Category: cooldown.Normalize(category), Bucket: cooldown.Bucket(location), LastSeen: at}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.deps.Auditor.Record(ctx, sessionID, entry); err != nil {
			e.log.Debug().Err(err).Msg("cooldown audit failed")
		}
	}()
}

// complete persists the completed snapshot before committing it, so a store
// failure moves the session from processing straight to failed.
func (e *Engine) complete() {
	now := time.Now().UTC()
	final := e.Snapshot()
	final.Status = models.StatusCompleted
	final.CompletedAt = &now
	if err := e.saveSnapshot(final); err != nil {
		e.fail(err)
		return
	}
	e.setStatusAt(models.StatusCompleted, now)

	snap := e.Snapshot()
	e.log.Info().Int("violations", snap.ViolationsDetectedCount).Msg("monitoring completed")
	e.hub.Publish(models.EventCompleted, models.CompletedData{
		SessionID:       snap.ID,
		ViolationsCount: snap.ViolationsDetectedCount,
	})
}

// fail moves the session to failed and emits the single error event.
func (e *Engine) fail(err error) {
	msg := err.Error()
	e.update(func(s *models.MonitoringSession) {
		s.ErrorMessage = msg
	})
	e.setStatus(models.StatusFailed)
	if serr := e.saveSession(); serr != nil {
		e.log.Error().Err(serr).Msg("failed to persist failed session")
	}

	e.log.Error().Err(err).Msg("monitoring failed")
	e.hub.Publish(models.EventError, models.ErrorData{Error: msg})
}

// halt finishes a session whose loop was interrupted.
func (e *Engine) halt(ctx context.Context) {
	switch st := e.status(); {
	case st.Terminal():
		if e.fatal != nil {
			e.log.Error().Err(e.fatal).Str("status", string(st)).Msg("failed to persist final state")
		}
		e.log.Info().Str("status", string(st)).Msg("monitoring halted")
	case e.fatal != nil:
		e.fail(e.fatal)
	case ctx.Err() != nil && isActive(st):
		e.setStatus(models.StatusStopped)
		if err := e.saveSession(); err != nil {
			e.log.Error().Err(err).Msg("failed to persist stopped session")
		}
	case ctx.Err() != nil:
		e.fail(fmt.Errorf("monitoring interrupted: %w", ctx.Err()))
	}
}

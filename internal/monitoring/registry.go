package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kdimtricp/sitewatch/internal/broadcast"
	"github.com/kdimtricp/sitewatch/internal/logging"
	"github.com/kdimtricp/sitewatch/internal/models"
)

var ErrShutdown = errors.New("registry is shut down")

type CreateRequest struct {
	VideoPath        string
	OriginalFilename string
	// Interval is seconds of video between analyzed frames; 0 means the default.
	Interval float64
	// AutoTicket defaults to true when nil.
	AutoTicket *bool
}

// Registry is the process-wide table of monitoring sessions. Sessions stay in
// the table after they finish so their history remains queryable.
type Registry struct {
	deps  Deps
	opts  Options
	after func(time.Duration) <-chan time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	engines map[string]*Engine
	closed  bool
	// creating counts Create calls past the closed check; Shutdown waits for them.
	creating sync.WaitGroup
}

func NewRegistry(deps Deps, opts Options) *Registry {
	if deps.Store == nil {
		deps.Store = nopStore{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:    deps,
		opts:    opts.withDefaults(),
		after:   time.After,
		ctx:     ctx,
		cancel:  cancel,
		engines: make(map[string]*Engine),
	}
}

// Create registers a new session and starts monitoring it in the background.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (models.MonitoringSession, error) {
	if req.VideoPath == "" {
		return models.MonitoringSession{}, fmt.Errorf("video path is required")
	}
	if req.Interval < 0 {
		return models.MonitoringSession{}, fmt.Errorf("analysis interval must be positive, got %v", req.Interval)
	}
	autoTicket := models.DefaultAutoTicketFiling
	if req.AutoTicket != nil {
		autoTicket = *req.AutoTicket
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return models.MonitoringSession{}, ErrShutdown
	}
	r.creating.Add(1)
	r.mu.Unlock()
	defer r.creating.Done()

	session := models.NewMonitoringSession(req.VideoPath, req.OriginalFilename, req.Interval, autoTicket)

	if err := r.deps.Store.SaveSession(ctx, *session); err != nil {
		return models.MonitoringSession{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	engine := newEngine(*session, r.deps, r.opts, r.after)

	r.mu.Lock()
	r.engines[session.ID] = engine
	r.mu.Unlock()

	logging.Info().
		Str("session_id", session.ID).
		Str("video", session.VideoFilePath).
		Float64("interval", session.AnalysisIntervalSeconds).
		Bool("auto_ticket", session.AutoTicketFiling).
		Msg("monitoring session created")

	go engine.run(r.ctx)

	return *session, nil
}

func (r *Registry) engine(id string) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return e, nil
}

func (r *Registry) Get(id string) (models.MonitoringSession, error) {
	e, err := r.engine(id)
	if err != nil {
		return models.MonitoringSession{}, err
	}
	return e.Snapshot(), nil
}

// List returns every session, newest first.
func (r *Registry) List() []models.MonitoringSession {
	r.mu.RLock()
	out := make([]models.MonitoringSession, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) Violations(id string) ([]models.ViolationAlert, error) {
	e, err := r.engine(id)
	if err != nil {
		return nil, err
	}
	return e.Violations(), nil
}

func (r *Registry) Pause(id string) error {
	e, err := r.engine(id)
	if err != nil {
		return err
	}
	return e.Pause()
}

func (r *Registry) Resume(id string) error {
	e, err := r.engine(id)
	if err != nil {
		return err
	}
	return e.Resume()
}

func (r *Registry) Stop(id string) error {
	e, err := r.engine(id)
	if err != nil {
		return err
	}
	return e.Stop()
}

// Subscribe attaches to a session's live events. For a finished session the
// subscription is already closed.
func (r *Registry) Subscribe(id string) (*broadcast.Subscription, error) {
	e, err := r.engine(id)
	if err != nil {
		return nil, err
	}
	return e.Subscribe(), nil
}

func (r *Registry) UpdateViolationStatus(ctx context.Context, sessionID, violationID string, status models.ViolationStatus) (models.ViolationAlert, error) {
	e, err := r.engine(sessionID)
	if err != nil {
		return models.ViolationAlert{}, err
	}
	return e.UpdateViolationStatus(ctx, violationID, status)
}

// Restore loads previously persisted sessions as read-only history. Sessions
// that were still running when the process died are marked failed.
func (r *Registry) Restore(ctx context.Context, loader Loader) (int, error) {
	sessions, err := loader.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load sessions: %w", err)
	}

	restored := 0
	for _, s := range sessions {
		violations, err := loader.ListViolations(ctx, s.ID)
		if err != nil {
			return restored, fmt.Errorf("failed to load violations for %s: %w", s.ID, err)
		}

		if !s.Status.Terminal() {
			now := time.Now().UTC()
			s.Status = models.StatusFailed
			s.ErrorMessage = "monitoring interrupted by restart"
			s.CompletedAt = &now
			if err := r.deps.Store.SaveSession(ctx, s); err != nil {
				return restored, fmt.Errorf("%w: %v", ErrStorageFailure, err)
			}
		}

		r.mu.Lock()
		if _, exists := r.engines[s.ID]; !exists {
			r.engines[s.ID] = newRetiredEngine(s, violations, r.deps)
			restored++
		}
		r.mu.Unlock()
	}

	logging.Info().Int("sessions", restored).Msg("restored monitoring history")
	return restored, nil
}

// Shutdown stops every running session and waits for their loops to exit.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	// Sessions whose Create already passed the closed check get registered
	// and then stopped like any other.
	created := make(chan struct{})
	go func() {
		r.creating.Wait()
		close(created)
	}()
	select {
	case <-created:
	case <-ctx.Done():
		return fmt.Errorf("waiting for pending creates: %w", ctx.Err())
	}

	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.Unlock()

	for _, e := range engines {
		if err := e.Stop(); err == nil {
			logging.Info().Str("session_id", e.Snapshot().ID).Msg("stopped session for shutdown")
		}
	}
	r.cancel()

	for _, e := range engines {
		select {
		case <-e.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for sessions to stop: %w", ctx.Err())
		}
	}
	return nil
}

package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kdimtricp/sitewatch/internal/ai"
	"github.com/kdimtricp/sitewatch/internal/analyzer"
	"github.com/kdimtricp/sitewatch/internal/broadcast"
	"github.com/kdimtricp/sitewatch/internal/evidence"
	"github.com/kdimtricp/sitewatch/internal/models"
	"github.com/kdimtricp/sitewatch/internal/tickets"
)

type fakeSource struct {
	info ai.VideoInfo

	mu        sync.Mutex
	requested []float64
	failAt    map[float64]error
}

func (s *fakeSource) Info() ai.VideoInfo { return s.info }

func (s *fakeSource) FrameAt(ctx context.Context, ts float64) (ai.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = append(s.requested, ts)
	if err, ok := s.failAt[ts]; ok {
		return ai.Frame{}, err
	}
	return ai.Frame{Index: ai.FrameIndex(s.info, ts), Timestamp: ts, Data: []byte("jpeg")}, nil
}

func (s *fakeSource) ExtractClip(ctx context.Context, outPath string, start, length float64) error {
	return nil
}

func (s *fakeSource) Requested() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.requested))
	copy(out, s.requested)
	return out
}

type fakeAnalyzer struct {
	fn func(ctx context.Context, frame ai.Frame) ([]analyzer.Candidate, error)
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, frame ai.Frame) ([]analyzer.Candidate, error) {
	if a.fn == nil {
		return nil, nil
	}
	return a.fn(ctx, frame)
}

type fakeEvidence struct {
	unavailable bool
}

func (f *fakeEvidence) Capture(ctx context.Context, sessionID string, src evidence.ClipSource, frame ai.Frame, seq int, duration float64) evidence.Evidence {
	if f.unavailable {
		return evidence.Evidence{}
	}
	return evidence.Evidence{
		ScreenshotPath: fmt.Sprintf("monitoring/%s/frames/frame_%06d.jpg", sessionID, frame.Index),
		ClipPath:       fmt.Sprintf("monitoring/%s/clips/violation_%d.mp4", sessionID, seq),
	}
}

type fakeFiler struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeFiler) File(ctx context.Context, alert models.ViolationAlert) (tickets.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, alert.ID)
	if f.err != nil {
		return tickets.Ticket{}, f.err
	}
	return tickets.Ticket{ID: "SAFETY-" + alert.ID, URL: "https://tickets.test/" + alert.ID}, nil
}

func (f *fakeFiler) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memStore struct {
	mu             sync.Mutex
	sessions       map[string]models.MonitoringSession
	violations     map[string][]models.ViolationAlert
	failViolations bool
	failSessions   bool
	// failStatus fails SaveSession only for snapshots in that status.
	failStatus models.SessionStatus
	// sessionGate and violationGate, when set, hold SaveSession for pending
	// snapshots and SaveViolation for resolved alerts until closed. Entry is
	// reported on entered.
	sessionGate   chan struct{}
	violationGate chan struct{}
	entered       chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		sessions:   make(map[string]models.MonitoringSession),
		violations: make(map[string][]models.ViolationAlert),
	}
}

func (m *memStore) SaveSession(ctx context.Context, s models.MonitoringSession) error {
	if s.Status == models.StatusPending {
		m.hold(m.sessionGate)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSessions || (m.failStatus != "" && s.Status == m.failStatus) {
		return errors.New("disk full")
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) SaveViolation(ctx context.Context, v models.ViolationAlert) error {
	if v.Status == models.ViolationResolved {
		m.hold(m.violationGate)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failViolations {
		return errors.New("disk full")
	}
	list := m.violations[v.SessionID]
	for i := range list {
		if list[i].ID == v.ID {
			list[i] = v
			return nil
		}
	}
	m.violations[v.SessionID] = append(list, v)
	return nil
}

func (m *memStore) ListSessions(ctx context.Context) ([]models.MonitoringSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.MonitoringSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) ListViolations(ctx context.Context, sessionID string) ([]models.ViolationAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ViolationAlert(nil), m.violations[sessionID]...), nil
}

func (m *memStore) hold(gate chan struct{}) {
	if gate == nil {
		return
	}
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	<-gate
}

func (m *memStore) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *memStore) session(id string) models.MonitoringSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *memStore) setFailViolations(v bool) {
	m.mu.Lock()
	m.failViolations = v
	m.mu.Unlock()
}

// harness drives a registry whose inter-sample waits only end when the test
// sends on ticks.
type harness struct {
	t        *testing.T
	reg      *Registry
	source   *fakeSource
	analyzer *fakeAnalyzer
	evidence *fakeEvidence
	filer    *fakeFiler
	store    *memStore
	ticks    chan time.Time
	openErr  error
}

func newHarness(t *testing.T, duration float64) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		source:   &fakeSource{info: ai.VideoInfo{FrameRate: 30, TotalFrames: int(duration * 30), Duration: duration}},
		analyzer: &fakeAnalyzer{},
		evidence: &fakeEvidence{},
		filer:    &fakeFiler{},
		store:    newMemStore(),
		ticks:    make(chan time.Time),
	}

	h.reg = NewRegistry(Deps{
		OpenSource: func(ctx context.Context, path string) (Source, error) {
			if h.openErr != nil {
				return nil, h.openErr
			}
			return h.source, nil
		},
		Analyzer: h.analyzer,
		Evidence: h.evidence,
		Filer:    h.filer,
		Store:    h.store,
	}, Options{SubscriberBuffer: 256})
	h.reg.after = func(time.Duration) <-chan time.Time { return h.ticks }

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.reg.Shutdown(ctx)
	})
	return h
}

func (h *harness) create(interval float64, autoTicket bool) (models.MonitoringSession, *broadcast.Subscription) {
	h.t.Helper()
	s, err := h.reg.Create(context.Background(), CreateRequest{VideoPath: "site.mp4", Interval: interval, AutoTicket: &autoTicket})
	require.NoError(h.t, err)
	sub, err := h.reg.Subscribe(s.ID)
	require.NoError(h.t, err)
	return s, sub
}

func (h *harness) engine(id string) *Engine {
	h.t.Helper()
	e, err := h.reg.engine(id)
	require.NoError(h.t, err)
	return e
}

func (h *harness) tick() {
	h.t.Helper()
	select {
	case h.ticks <- time.Now():
	case <-time.After(5 * time.Second):
		h.t.Fatal("engine did not wait for the next sample")
	}
}

// pump feeds ticks until the session's loop exits.
func (h *harness) pump(id string) {
	done := h.engine(id).Done()
	go func() {
		for {
			select {
			case h.ticks <- time.Now():
			case <-done:
				return
			}
		}
	}()
}

func (h *harness) waitDone(id string) {
	h.t.Helper()
	select {
	case <-h.engine(id).Done():
	case <-time.After(5 * time.Second):
		h.t.Fatal("session did not finish")
	}
}

func (h *harness) waitStatus(id string, want models.SessionStatus) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		s, err := h.reg.Get(id)
		return err == nil && s.Status == want
	}, 5*time.Second, 5*time.Millisecond)
}

// assertNoTick fails if the engine accepts a tick within a short grace period.
func (h *harness) assertNoTick() {
	h.t.Helper()
	select {
	case h.ticks <- time.Now():
		h.t.Fatal("engine sampled while it should be suspended")
	case <-time.After(50 * time.Millisecond):
	}
}

func nextEvent(t *testing.T, sub *broadcast.Subscription) broadcast.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}
	return broadcast.Event{}
}

func collect(t *testing.T, sub *broadcast.Subscription) []broadcast.Event {
	t.Helper()
	var out []broadcast.Event
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(5 * time.Second):
			t.Fatal("subscription never closed")
		}
	}
}

func eventTypes(events []broadcast.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func candidate(hazard, location string, sev models.Severity) analyzer.Candidate {
	return analyzer.Candidate{
		HazardType:     hazard,
		Location:       location,
		Severity:       sev,
		Observation:    hazard + " at " + location,
		RegulationCode: "29 CFR 1926.502",
	}
}

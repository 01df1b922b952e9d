package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdimtricp/sitewatch/internal/ai"
	"github.com/kdimtricp/sitewatch/internal/analyzer"
	"github.com/kdimtricp/sitewatch/internal/models"
)

func TestRegistryUnknownSession(t *testing.T) {
	h := newHarness(t, 10)

	_, err := h.reg.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.reg.Violations("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.reg.Subscribe("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.reg.UpdateViolationStatus(context.Background(), "missing", "x", models.ViolationResolved)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, cmd := range []func(string) error{h.reg.Pause, h.reg.Resume, h.reg.Stop} {
		assert.ErrorIs(t, cmd("missing"), ErrNotFound)
	}
}

func TestRegistryCreate(t *testing.T) {
	tests := []struct {
		name         string
		req          CreateRequest
		wantErr      bool
		wantInterval float64
		wantTicket   bool
	}{
		{name: "defaults", req: CreateRequest{VideoPath: "a.mp4"}, wantInterval: 1.5, wantTicket: true},
		{name: "explicit", req: CreateRequest{VideoPath: "a.mp4", Interval: 2, AutoTicket: boolPtr(false)}, wantInterval: 2, wantTicket: false},
		{name: "missing path", req: CreateRequest{}, wantErr: true},
		{name: "negative interval", req: CreateRequest{VideoPath: "a.mp4", Interval: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 10)

			s, err := h.reg.Create(context.Background(), tt.req)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, h.reg.List())
				return
			}
			require.NoError(t, err)

			assert.NotEmpty(t, s.ID)
			assert.Equal(t, models.StatusPending, s.Status)
			assert.Equal(t, tt.wantInterval, s.AnalysisIntervalSeconds)
			assert.Equal(t, tt.wantTicket, s.AutoTicketFiling)
			assert.Equal(t, s.ID, h.store.session(s.ID).ID, "session is persisted before it starts")

			got, err := h.reg.Get(s.ID)
			require.NoError(t, err)
			assert.Equal(t, s.ID, got.ID)
		})
	}
}

func TestRegistryCreateStorageFailure(t *testing.T) {
	h := newHarness(t, 10)
	h.store.mu.Lock()
	h.store.failSessions = true
	h.store.mu.Unlock()

	_, err := h.reg.Create(context.Background(), CreateRequest{VideoPath: "a.mp4"})
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.Empty(t, h.reg.List())
}

func TestCommandsRejectedWhilePending(t *testing.T) {
	h := newHarness(t, 10)
	release := make(chan struct{})
	h.reg.deps.OpenSource = func(ctx context.Context, path string) (Source, error) {
		select {
		case <-release:
			return h.source, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s, _ := h.create(1.5, true)

	for _, cmd := range []func(string) error{h.reg.Pause, h.reg.Resume, h.reg.Stop} {
		assert.ErrorIs(t, cmd(s.ID), ErrInvalidTransition)
	}
	got, _ := h.reg.Get(s.ID)
	assert.Equal(t, models.StatusPending, got.Status)

	close(release)
	h.waitStatus(s.ID, models.StatusProcessing)
}

func TestRegistryListNewestFirst(t *testing.T) {
	h := newHarness(t, 10)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	for i, id := range []string{"older", "newest", "middle"} {
		offset := []time.Duration{0, 2 * time.Hour, time.Hour}[i]
		s := models.MonitoringSession{ID: id, Status: models.StatusCompleted, CreatedAt: base.Add(offset)}
		require.NoError(t, h.store.SaveSession(context.Background(), s))
	}

	n, err := h.reg.Restore(context.Background(), h.store)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var ids []string
	for _, s := range h.reg.List() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"newest", "middle", "older"}, ids)
}

func TestRegistryRestore(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	require.NoError(t, h.store.SaveSession(ctx, models.MonitoringSession{ID: "done", Status: models.StatusCompleted, ViolationsDetectedCount: 1}))
	require.NoError(t, h.store.SaveViolation(ctx, models.ViolationAlert{ID: "done_1", SessionID: "done", Status: models.ViolationOpen}))
	require.NoError(t, h.store.SaveSession(ctx, models.MonitoringSession{ID: "running", Status: models.StatusProcessing, CurrentTimestamp: 42}))

	n, err := h.reg.Restore(ctx, h.store)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	running, err := h.reg.Get("running")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, running.Status)
	assert.Equal(t, "monitoring interrupted by restart", running.ErrorMessage)
	assert.Equal(t, 42.0, running.CurrentTimestamp)
	assert.NotNil(t, running.CompletedAt)
	assert.Equal(t, models.StatusFailed, h.store.session("running").Status)

	violations, err := h.reg.Violations("done")
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "done_1", violations[0].ID)

	sub, err := h.reg.Subscribe("done")
	require.NoError(t, err)
	_, ok := <-sub.C
	assert.False(t, ok, "restored sessions have no live stream")

	assert.ErrorIs(t, h.reg.Stop("done"), ErrInvalidTransition)

	// Restored alerts can still be reviewed.
	v, err := h.reg.UpdateViolationStatus(ctx, "done", "done_1", models.ViolationResolved)
	require.NoError(t, err)
	assert.Equal(t, models.ViolationResolved, v.Status)

	// A second restore does not duplicate entries.
	n, err = h.reg.Restore(ctx, h.store)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, h.reg.List(), 2)
}

func TestUpdateViolationStatus(t *testing.T) {
	h := newHarness(t, 1.5)
	h.analyzer.fn = func(ctx context.Context, frame ai.Frame) ([]analyzer.Candidate, error) {
		return []analyzer.Candidate{candidate("Fall", "roof", models.SeverityLow)}, nil
	}
	s, sub := h.create(1.5, true)
	h.pump(s.ID)
	collect(t, sub)

	id := s.ID + "_1"
	ctx := context.Background()

	v, err := h.reg.UpdateViolationStatus(ctx, s.ID, id, models.ViolationInProgress)
	require.NoError(t, err)
	assert.Equal(t, models.ViolationInProgress, v.Status)

	_, err = h.reg.UpdateViolationStatus(ctx, s.ID, id, models.ViolationOpen)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	v, err = h.reg.UpdateViolationStatus(ctx, s.ID, id, models.ViolationResolved)
	require.NoError(t, err)
	assert.Equal(t, models.ViolationResolved, v.Status)

	_, err = h.reg.UpdateViolationStatus(ctx, s.ID, s.ID+"_9", models.ViolationResolved)
	assert.ErrorIs(t, err, ErrNotFound)

	violations, _ := h.reg.Violations(s.ID)
	assert.Equal(t, models.ViolationResolved, violations[0].Status)
	stored, err := h.store.ListViolations(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ViolationResolved, stored[0].Status)

	// Immutable fields survive the review.
	assert.Equal(t, 1.5, violations[0].Timestamp)
	assert.Equal(t, "Fall", violations[0].HazardType)
}

func TestRegistryShutdown(t *testing.T) {
	h := newHarness(t, 10)

	running, _ := h.create(1.5, true)
	h.tick()

	h.reg.deps.OpenSource = func(ctx context.Context, path string) (Source, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	pending, _ := h.create(1.5, true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.reg.Shutdown(ctx))

	got, _ := h.reg.Get(running.ID)
	assert.Equal(t, models.StatusStopped, got.Status)

	got, _ = h.reg.Get(pending.ID)
	assert.Equal(t, models.StatusFailed, got.Status)

	_, err := h.reg.Create(context.Background(), CreateRequest{VideoPath: "late.mp4"})
	assert.ErrorIs(t, err, ErrShutdown)
}

func boolPtr(b bool) *bool { return &b }

func TestReviewerWriteDoesNotBlockReads(t *testing.T) {
	h := newHarness(t, 1.5)
	h.analyzer.fn = func(ctx context.Context, frame ai.Frame) ([]analyzer.Candidate, error) {
		return []analyzer.Candidate{candidate("Fall", "roof", models.SeverityLow)}, nil
	}
	s, sub := h.create(1.5, false)
	h.pump(s.ID)
	collect(t, sub)

	gate := make(chan struct{})
	h.store.violationGate = gate
	h.store.entered = make(chan struct{}, 1)

	type result struct {
		v   models.ViolationAlert
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := h.reg.UpdateViolationStatus(context.Background(), s.ID, s.ID+"_1", models.ViolationResolved)
		done <- result{v, err}
	}()
	<-h.store.entered

	reads := make(chan struct{})
	go func() {
		h.reg.Get(s.ID)
		h.reg.Violations(s.ID)
		h.reg.List()
		close(reads)
	}()
	select {
	case <-reads:
	case <-time.After(time.Second):
		t.Fatal("reads blocked behind a reviewer store write")
	}

	violations, _ := h.reg.Violations(s.ID)
	assert.Equal(t, models.ViolationOpen, violations[0].Status, "status commits only after the write")

	close(gate)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, models.ViolationResolved, res.v.Status)

	violations, _ = h.reg.Violations(s.ID)
	assert.Equal(t, models.ViolationResolved, violations[0].Status)
}

func TestCreateAfterShutdownPersistsNothing(t *testing.T) {
	h := newHarness(t, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.reg.Shutdown(ctx))

	_, err := h.reg.Create(context.Background(), CreateRequest{VideoPath: "late.mp4"})
	assert.ErrorIs(t, err, ErrShutdown)
	assert.Zero(t, h.store.sessionCount())
}

func TestShutdownWaitsForCreateInFlight(t *testing.T) {
	h := newHarness(t, 10)
	gate := make(chan struct{})
	h.store.sessionGate = gate
	h.store.entered = make(chan struct{}, 1)

	created := make(chan models.MonitoringSession, 1)
	go func() {
		s, err := h.reg.Create(context.Background(), CreateRequest{VideoPath: "site.mp4"})
		assert.NoError(t, err)
		created <- s
	}()
	<-h.store.entered

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- h.reg.Shutdown(ctx)
	}()

	select {
	case <-stopped:
		t.Fatal("shutdown returned while a create was still saving")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	s := <-created
	require.NoError(t, <-stopped)

	got, err := h.reg.Get(s.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal(), "session created during shutdown is finished, got %s", got.Status)
	assert.Equal(t, got.Status, h.store.session(s.ID).Status)
}

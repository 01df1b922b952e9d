package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdimtricp/sitewatch/internal/models"
)

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE b = ? AND c = ?"
	assert.Equal(t, q, rebind("sqlite", q))
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", rebind("postgres", q))
}

func TestNewDBRejectsUnknownType(t *testing.T) {
	_, err := NewDB(context.Background(), Config{Type: "mysql"})
	assert.Error(t, err)
}

func TestMonitoringStore(t *testing.T) {
	backends := []struct {
		name  string
		setup func(t *testing.T) *DB
	}{
		{"sqlite", setupSQLiteDB},
		{"postgres", setupPostgresDB},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			store := NewMonitoringStore(b.setup(t))
			t.Run("session round trip", func(t *testing.T) { testSessionRoundTrip(t, store) })
			t.Run("violations", func(t *testing.T) { testViolations(t, store) })
			t.Run("list order", func(t *testing.T) { testListOrder(t, store) })
		})
	}
}

func testSessionRoundTrip(t *testing.T, store *MonitoringStore) {
	ctx := context.Background()

	s := models.NewMonitoringSession("uploads/a.mp4", "site.mp4", 1.5, true)
	require.NoError(t, store.SaveSession(ctx, *s))

	got, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, "site.mp4", got.OriginalFilename)
	assert.True(t, got.AutoTicketFiling)
	assert.Nil(t, got.StartedAt)
	assert.WithinDuration(t, s.CreatedAt, got.CreatedAt, time.Millisecond)

	started := time.Now().UTC()
	s.Status = models.StatusFailed
	s.FrameRate = 29.97
	s.TotalFrames = 300
	s.DurationSeconds = 10
	s.CurrentFrame = 44
	s.CurrentTimestamp = 1.5
	s.ViolationsDetectedCount = 2
	s.ErrorMessage = "video source unreadable"
	s.StartedAt = &started
	s.CompletedAt = &started
	require.NoError(t, store.SaveSession(ctx, *s))

	got, err = store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 29.97, got.FrameRate)
	assert.Equal(t, 44, got.CurrentFrame)
	assert.Equal(t, 1.5, got.CurrentTimestamp)
	assert.Equal(t, 2, got.ViolationsDetectedCount)
	assert.Equal(t, "video source unreadable", got.ErrorMessage)
	require.NotNil(t, got.StartedAt)
	assert.WithinDuration(t, started, *got.StartedAt, time.Millisecond)

	_, err = store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func testViolations(t *testing.T, store *MonitoringStore) {
	ctx := context.Background()

	s := models.NewMonitoringSession("uploads/b.mp4", "", 1.5, true)
	require.NoError(t, store.SaveSession(ctx, *s))

	now := time.Now().UTC()
	first := models.ViolationAlert{
		ID: s.ID + "_1", SessionID: s.ID, Timestamp: 3, FrameNumber: 90,
		HazardType: "Fall Protection", Severity: models.SeverityCritical,
		Observation: "worker at edge", Location: "roof", RegulationCode: "1926.501",
		Status: models.ViolationOpen, DetectedAt: now,
	}
	second := first
	second.ID = s.ID + "_2"
	second.Timestamp = 1.5
	second.FrameNumber = 45
	second.DetectedAt = now.Add(time.Second)

	require.NoError(t, store.SaveViolation(ctx, first))
	require.NoError(t, store.SaveViolation(ctx, second))

	first.Status = models.ViolationInProgress
	first.TicketID = "SAFETY-1"
	first.HazardType = "changed"
	require.NoError(t, store.SaveViolation(ctx, first))

	got, err := store.ListViolations(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID, "ordered by video time")
	assert.Equal(t, first.ID, got[1].ID)
	assert.Equal(t, models.ViolationInProgress, got[1].Status)
	assert.Equal(t, "SAFETY-1", got[1].TicketID)
	assert.Equal(t, "Fall Protection", got[1].HazardType, "detection fields are immutable")
	assert.Equal(t, models.SeverityCritical, got[1].Severity)

	none, err := store.ListViolations(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testListOrder(t *testing.T, store *MonitoringStore) {
	ctx := context.Background()

	older := models.NewMonitoringSession("uploads/old.mp4", "", 1.5, true)
	older.CreatedAt = time.Now().UTC().Add(time.Hour)
	newer := models.NewMonitoringSession("uploads/new.mp4", "", 1.5, true)
	newer.CreatedAt = older.CreatedAt.Add(time.Minute)

	require.NoError(t, store.SaveSession(ctx, *older))
	require.NoError(t, store.SaveSession(ctx, *newer))

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(sessions), 2)
	assert.Equal(t, newer.ID, sessions[0].ID)
	assert.Equal(t, older.ID, sessions[1].ID)
}

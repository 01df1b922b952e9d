package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kdimtricp/sitewatch/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

// MonitoringStore persists monitoring sessions and their accepted violations.
type MonitoringStore struct {
	db *DB
}

func NewMonitoringStore(db *DB) *MonitoringStore {
	return &MonitoringStore{db: db}
}

const sessionColumns = `id, video_file_path, original_filename, status, frame_rate, total_frames,
	duration_seconds, position_frame, position_seconds, violations_detected_count,
	analysis_interval_seconds, auto_ticket_filing, error_message, created_at, started_at, completed_at`

const violationColumns = `id, session_id, video_seconds, frame_number, hazard_type, severity,
	observation, location, osha_code, osha_title, plain_english, remediation, estimated_fix_time,
	frame_path, video_clip_path, status, ticket_id, ticket_url, detected_at`

func (s *MonitoringStore) SaveSession(ctx context.Context, m models.MonitoringSession) error {
	query := `INSERT INTO monitoring_sessions (` + sessionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		frame_rate = excluded.frame_rate,
		total_frames = excluded.total_frames,
		duration_seconds = excluded.duration_seconds,
		position_frame = excluded.position_frame,
		position_seconds = excluded.position_seconds,
		violations_detected_count = excluded.violations_detected_count,
		error_message = excluded.error_message,
		started_at = excluded.started_at,
		completed_at = excluded.completed_at`

	_, err := s.db.conn.ExecContext(ctx, rebind(s.db.dbType, query),
		m.ID, m.VideoFilePath, m.OriginalFilename, string(m.Status), m.FrameRate, m.TotalFrames,
		m.DurationSeconds, m.CurrentFrame, m.CurrentTimestamp, m.ViolationsDetectedCount,
		m.AnalysisIntervalSeconds, m.AutoTicketFiling, m.ErrorMessage, m.CreatedAt.UTC(),
		nullTime(m.StartedAt), nullTime(m.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", m.ID, err)
	}
	return nil
}

func (s *MonitoringStore) SaveViolation(ctx context.Context, v models.ViolationAlert) error {
	// Only reviewer-owned fields change after insert.
	query := `INSERT INTO violation_alerts (` + violationColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		ticket_id = excluded.ticket_id,
		ticket_url = excluded.ticket_url`

	_, err := s.db.conn.ExecContext(ctx, rebind(s.db.dbType, query),
		v.ID, v.SessionID, v.Timestamp, v.FrameNumber, v.HazardType, string(v.Severity),
		v.Observation, v.Location, v.RegulationCode, v.RegulationTitle, v.PlainEnglish,
		v.Remediation, v.EstimatedFixTime, v.FramePath, v.VideoClipPath, string(v.Status),
		v.TicketID, v.TicketURL, v.DetectedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save violation %s: %w", v.ID, err)
	}
	return nil
}

func (s *MonitoringStore) GetSession(ctx context.Context, id string) (*models.MonitoringSession, error) {
	row := s.db.conn.QueryRowContext(ctx,
		rebind(s.db.dbType, `SELECT `+sessionColumns+` FROM monitoring_sessions WHERE id = ?`), id)

	m, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &m, nil
}

// ListSessions returns every session, newest first.
func (s *MonitoringStore) ListSessions(ctx context.Context) ([]models.MonitoringSession, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM monitoring_sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.MonitoringSession
	for rows.Next() {
		m, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, m)
	}
	return sessions, rows.Err()
}

// ListViolations returns a session's alerts in detection order.
func (s *MonitoringStore) ListViolations(ctx context.Context, sessionID string) ([]models.ViolationAlert, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		rebind(s.db.dbType, `SELECT `+violationColumns+` FROM violation_alerts
		WHERE session_id = ? ORDER BY video_seconds, detected_at`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	defer rows.Close()

	var violations []models.ViolationAlert
	for rows.Next() {
		var (
			v                models.ViolationAlert
			severity, status string
		)
		if err := rows.Scan(
			&v.ID, &v.SessionID, &v.Timestamp, &v.FrameNumber, &v.HazardType, &severity,
			&v.Observation, &v.Location, &v.RegulationCode, &v.RegulationTitle, &v.PlainEnglish,
			&v.Remediation, &v.EstimatedFixTime, &v.FramePath, &v.VideoClipPath, &status,
			&v.TicketID, &v.TicketURL, &v.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		v.Severity = models.Severity(severity)
		v.Status = models.ViolationStatus(status)
		v.DetectedAt = v.DetectedAt.UTC()
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (models.MonitoringSession, error) {
	var (
		m                      models.MonitoringSession
		status                 string
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(
		&m.ID, &m.VideoFilePath, &m.OriginalFilename, &status, &m.FrameRate, &m.TotalFrames,
		&m.DurationSeconds, &m.CurrentFrame, &m.CurrentTimestamp, &m.ViolationsDetectedCount,
		&m.AnalysisIntervalSeconds, &m.AutoTicketFiling, &m.ErrorMessage, &m.CreatedAt,
		&startedAt, &completedAt,
	)
	if err != nil {
		return m, err
	}
	m.Status = models.SessionStatus(status)
	m.CreatedAt = m.CreatedAt.UTC()
	m.StartedAt = timePtr(startedAt)
	m.CompletedAt = timePtr(completedAt)
	return m, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

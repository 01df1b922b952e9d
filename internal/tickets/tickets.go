// Package tickets files work tickets for severe violations.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kdimtricp/sitewatch/internal/models"
)

var ErrTicketFilingFailed = errors.New("ticket filing failed")

const DefaultTimeout = 10 * time.Second

type Ticket struct {
	ID  string `json:"ticket_id"`
	URL string `json:"ticket_url,omitempty"`
}

type Filer interface {
	File(ctx context.Context, alert models.ViolationAlert) (Ticket, error)
}

var priorities = map[models.Severity]string{
	models.SeverityCritical: "1 - Critical",
	models.SeverityHigh:     "2 - High",
	models.SeverityMedium:   "3 - Medium",
	models.SeverityLow:      "4 - Low",
}

func Priority(s models.Severity) string {
	if p, ok := priorities[s]; ok {
		return p
	}
	return priorities[models.SeverityMedium]
}

func Title(alert models.ViolationAlert) string {
	code := alert.RegulationCode
	if code == "" {
		code = "OSHA"
	}
	title := alert.RegulationTitle
	if title == "" {
		title = "Safety Violation"
	}
	return fmt.Sprintf("[%s] %s - %s", alert.Severity, code, title)
}

func Description(alert models.ViolationAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Safety violation detected at %.1fs (frame %d) of monitoring session %s.\n\n",
		alert.Timestamp, alert.FrameNumber, alert.SessionID)
	fmt.Fprintf(&b, "Regulation: %s %s\n", alert.RegulationCode, alert.RegulationTitle)
	fmt.Fprintf(&b, "Severity: %s\n", alert.Severity)
	if alert.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", alert.Location)
	}
	fmt.Fprintf(&b, "\nObserved:\n%s\n", alert.Observation)
	if alert.PlainEnglish != "" {
		fmt.Fprintf(&b, "\nSummary:\n%s\n", alert.PlainEnglish)
	}
	if alert.Remediation != "" {
		fmt.Fprintf(&b, "\nRemediation:\n%s\n", alert.Remediation)
	}
	if alert.EstimatedFixTime != "" {
		fmt.Fprintf(&b, "\nEstimated fix time: %s\n", alert.EstimatedFixTime)
	}
	return b.String()
}

// SimulatedFiler stands in for a ticketing system when none is configured.
type SimulatedFiler struct {
	Delay time.Duration
}

func (f *SimulatedFiler) File(ctx context.Context, alert models.ViolationAlert) (Ticket, error) {
	if f.Delay > 0 {
		timer := time.NewTimer(f.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Ticket{}, fmt.Errorf("%w: %v", ErrTicketFilingFailed, ctx.Err())
		}
	}

	return Ticket{ID: SimulatedID(alert.SessionID, alert.ID)}, nil
}

// SimulatedID is SAFETY-<first 8 of session>-<last 6 of alert>.
func SimulatedID(sessionID, alertID string) string {
	if len(sessionID) > 8 {
		sessionID = sessionID[:8]
	}
	if len(alertID) > 6 {
		alertID = alertID[len(alertID)-6:]
	}
	return fmt.Sprintf("SAFETY-%s-%s", sessionID, alertID)
}

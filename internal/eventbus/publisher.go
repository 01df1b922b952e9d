// Package eventbus mirrors session events onto NATS so other services can
// follow monitoring without holding a push subscription.
package eventbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kdimtricp/sitewatch/internal/broadcast"
	"github.com/kdimtricp/sitewatch/internal/logging"
)

const SubjectPrefix = "sitewatch.sessions"

// Subject is sitewatch.sessions.<session>.<type>.
func Subject(sessionID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, sessionID, eventType)
}

type conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	Close()
}

// Publisher implements broadcast.Mirror over a NATS connection. Mirroring is
// best effort and never blocks or fails a session.
type Publisher struct {
	conn conn
}

func NewPublisher(natsURL string) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("sitewatch"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	logging.Info().Str("url", natsURL).Msg("connected to NATS")
	return &Publisher{conn: nc}, nil
}

func (p *Publisher) Mirror(e broadcast.Event) {
	data, err := e.Encode()
	if err != nil {
		logging.Warn().Err(err).Str("session_id", e.SessionID).Msg("failed to encode event for nats")
		return
	}

	if err := p.conn.Publish(Subject(e.SessionID, e.Type), data); err != nil {
		logging.Warn().Err(err).Str("session_id", e.SessionID).Str("type", e.Type).Msg("failed to mirror event")
		return
	}
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
		logging.Info().Msg("disconnected from NATS")
	}
}

func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

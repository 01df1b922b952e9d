package eventbus

import (
	"errors"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdimtricp/sitewatch/internal/broadcast"
	"github.com/kdimtricp/sitewatch/internal/models"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu     sync.Mutex
	msgs   []published
	err    error
	closed bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, published{subject, data})
	return nil
}

func (c *fakeConn) IsConnected() bool { return !c.closed }
func (c *fakeConn) Close()            { c.closed = true }

func TestSubject(t *testing.T) {
	assert.Equal(t, "sitewatch.sessions.abc.violation", Subject("abc", models.EventViolation))
}

func TestPublisherMirrorsHubEvents(t *testing.T) {
	fc := &fakeConn{}
	p := &Publisher{conn: fc}

	hub := broadcast.NewHub("s1", 4, p)
	hub.Publish(models.EventProgress, models.ProgressData{CurrentTime: 1.5, TotalTime: 10, Frame: 45, ProgressPercent: 15})
	hub.Publish(models.EventCompleted, models.CompletedData{SessionID: "s1", ViolationsCount: 0})

	require.Len(t, fc.msgs, 2)
	assert.Equal(t, "sitewatch.sessions.s1.progress", fc.msgs[0].subject)
	assert.Equal(t, "sitewatch.sessions.s1.completed", fc.msgs[1].subject)

	var got struct {
		Type string `json:"type"`
		Seq  uint64 `json:"seq"`
		Data struct {
			Frame int `json:"frame"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(fc.msgs[0].data, &got))
	assert.Equal(t, "progress", got.Type)
	assert.Equal(t, uint64(1), got.Seq)
	assert.Equal(t, 45, got.Data.Frame)
}

func TestPublisherErrorsAreSwallowed(t *testing.T) {
	fc := &fakeConn{err: errors.New("nats: connection closed")}
	p := &Publisher{conn: fc}

	assert.NotPanics(t, func() {
		p.Mirror(broadcast.Event{Type: "progress", SessionID: "s1"})
	})
	assert.True(t, p.IsConnected())

	p.Close()
	assert.False(t, p.IsConnected())
}

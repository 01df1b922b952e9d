package tickets

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kdimtricp/sitewatch/internal/breaker"
	"github.com/kdimtricp/sitewatch/internal/logging"
	"github.com/kdimtricp/sitewatch/internal/metrics"
	"github.com/kdimtricp/sitewatch/internal/models"
)

type ticketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
	ExternalID  string `json:"external_id"`
}

type ticketResponse struct {
	ID       string `json:"id"`
	TicketID string `json:"ticket_id"`
	Number   string `json:"number"`
	URL      string `json:"url"`
	Link     string `json:"ticket_url"`
}

// HTTPFiler posts tickets to a REST endpoint.
type HTTPFiler struct {
	httpClient *resty.Client
	url        string
	timeout    time.Duration
	cb         *gobreaker.CircuitBreaker[Ticket]
}

func NewHTTPFiler(url, apiKey string, timeout time.Duration) *HTTPFiler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	client.JSONMarshal = json.Marshal
	client.JSONUnmarshal = json.Unmarshal

	return &HTTPFiler{
		httpClient: client,
		url:        url,
		timeout:    timeout,
		cb:         breaker.New[Ticket]("ticket-api", breaker.DefaultSettings()),
	}
}

func (f *HTTPFiler) File(ctx context.Context, alert models.ViolationAlert) (Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	ticket, err := f.cb.Execute(func() (Ticket, error) {
		return f.post(ctx, alert)
	})

	result := "success"
	if err != nil {
		result = "failure"
		if breaker.Rejected(err) {
			result = "rejected"
		}
	}
	metrics.ExternalCallDuration.WithLabelValues("tickets", result).Observe(time.Since(start).Seconds())

	if err != nil {
		logging.Warn().Err(err).Str("violation_id", alert.ID).Msg("ticket filing failed")
		return Ticket{}, fmt.Errorf("%w: %v", ErrTicketFilingFailed, err)
	}
	return ticket, nil
}

func (f *HTTPFiler) post(ctx context.Context, alert models.ViolationAlert) (Ticket, error) {
	var out ticketResponse
	resp, err := f.httpClient.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetBody(ticketRequest{
			Title:       Title(alert),
			Description: Description(alert),
			Priority:    Priority(alert.Severity),
			Category:    "Safety",
			ExternalID:  alert.ID,
		}).
		SetResult(&out).
		Post(f.url)
	if err != nil {
		return Ticket{}, fmt.Errorf("failed to make request: %w", err)
	}
	if resp.IsError() {
		return Ticket{}, fmt.Errorf("ticket API returned status %d", resp.StatusCode())
	}

	ticket := Ticket{ID: firstOf(out.TicketID, out.ID, out.Number), URL: firstOf(out.Link, out.URL)}
	if ticket.ID == "" {
		return Ticket{}, fmt.Errorf("ticket API response has no id")
	}
	return ticket, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kdimtricp/sitewatch/internal/breaker"
	"github.com/kdimtricp/sitewatch/internal/logging"
	"github.com/kdimtricp/sitewatch/internal/metrics"
)

const inspectorPrompt = `You are a construction site safety inspector.

Report only safety violations that are directly visible in this image. Do not infer or speculate.
For a missing piece of PPE the body part it protects (head, hands, feet, torso, face, ears) must be
clearly in frame and uncovered; otherwise do not report it.
If no workers or no active construction or industrial work is visible, return [].

Look for missing PPE, fall hazards (guardrails, scaffolding, floor openings, ladders), fire and
chemical hazards, blocked exits, electrical hazards, unstable materials, unguarded equipment and
housekeeping problems.

Return a JSON array, each item shaped as:
{"observation": "what you see", "location": "where in the image", "hazard_type": "PPE | Fall | Fire | Chemical | Electrical | Housekeeping | Equipment | Signage | Storage | Other", "danger_description": "possible injury", "body_part_visible": true}

Return only the JSON array.`

const mappingPrompt = `You are an OSHA compliance specialist for the construction industry.
Map each raw observation below to the single most specific 29 CFR regulation.

Severity:
CRITICAL - imminent danger of death or permanent disability, stop work.
HIGH - serious hazard, injury likely within days.
MEDIUM - injury possible but not imminent.
LOW - minor or administrative.

Observations:
%s

Return a JSON array with exactly one object per observation, in the same order:
{"observation_index": 0, "hazard_type": "...", "osha_code": "29 CFR 1926.100", "osha_title": "Head Protection", "severity": "HIGH", "plain_english": "...", "remediation": "...", "estimated_fix_time": "..."}

Return only the JSON array.`

// OpenAIClient talks to any OpenAI-compatible chat-completions endpoint. It
// implements both VisionClient and RegulationClient.
type OpenAIClient struct {
	httpClient   *resty.Client
	visionModel  string
	mappingModel string
	cb           *gobreaker.CircuitBreaker[string]
}

func NewOpenAIClient(cfg *Config) *OpenAIClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIURL, "/")).
		SetTimeout(60*time.Second).
		SetRetryCount(1).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	client.JSONMarshal = json.Marshal
	client.JSONUnmarshal = json.Unmarshal

	return &OpenAIClient{
		httpClient:   client,
		visionModel:  cfg.VisionModel,
		mappingModel: cfg.MappingModel,
		cb:           breaker.New[string]("vision-api", breaker.DefaultSettings()),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *OpenAIClient) DescribeHazards(ctx context.Context, imageData []byte) ([]Observation, error) {
	image := base64.StdEncoding.EncodeToString(imageData)

	content, err := c.complete(ctx, "vision", chatRequest{
		Model: c.visionModel,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: inspectorPrompt},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:image/jpeg;base64," + image}},
			},
		}},
		MaxTokens:   2048,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	var observations []Observation
	if err := parseJSONArray(content, &observations); err != nil {
		return nil, err
	}

	return FilterObservations(observations), nil
}

func (c *OpenAIClient) MapRegulations(ctx context.Context, observations []Observation) ([]RegulationMatch, error) {
	if len(observations) == 0 {
		return nil, nil
	}

	encoded, err := json.MarshalIndent(observations, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal observations: %w", err)
	}

	content, err := c.complete(ctx, "mapping", chatRequest{
		Model: c.mappingModel,
		Messages: []chatMessage{{
			Role:    "user",
			Content: []contentPart{{Type: "text", Text: fmt.Sprintf(mappingPrompt, encoded)}},
		}},
		MaxTokens:   4096,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	var matches []RegulationMatch
	if err := parseJSONArray(content, &matches); err != nil {
		return nil, err
	}

	return matches, nil
}

func (c *OpenAIClient) complete(ctx context.Context, service string, req chatRequest) (string, error) {
	start := time.Now()

	content, err := c.cb.Execute(func() (string, error) {
		var out chatResponse
		resp, err := c.httpClient.R().
			SetContext(ctx).
			ForceContentType("application/json").
			SetBody(req).
			SetResult(&out).
			SetError(&out).
			Post("/chat/completions")
		if err != nil {
			return "", fmt.Errorf("failed to make request: %w", err)
		}
		if out.Error != nil {
			return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode(), out.Error.Message)
		}
		if resp.IsError() {
			return "", fmt.Errorf("API returned status %d", resp.StatusCode())
		}
		if len(out.Choices) == 0 {
			return "", fmt.Errorf("no choices in response")
		}
		return out.Choices[0].Message.Content, nil
	})

	result := "success"
	if err != nil {
		result = "failure"
		if breaker.Rejected(err) {
			result = "rejected"
		}
		logging.Warn().Err(err).Str("service", service).Msg("chat completion failed")
	}
	metrics.ExternalCallDuration.WithLabelValues(service, result).Observe(time.Since(start).Seconds())

	return content, err
}

// parseJSONArray decodes the JSON array embedded in a model reply. A reply
// without any array is treated as an empty result.
func parseJSONArray(text string, v any) error {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		logging.Debug().Str("reply", truncate(text, 120)).Msg("no JSON array in model reply")
		return nil
	}

	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("failed to parse model reply: %w", err)
	}
	return nil
}

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tiger/call-resolution-pipeline/api/resolution"
)

const maxResponseBytes = 1 << 20

// HTTPClient is the transport seam used for analysis-backend requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures the analysis-backend client.
type Config struct {
	BaseURL       string
	APIKey        string
	APIKeyHeader  string
	Timeout       time.Duration
	HTTPClient    HTTPClient
	StaticHeaders map[string]string
}

// Client talks to the analysis backend: readiness probes, full call-log
// fetches, and call-id renames.
type Client struct {
	cfg    Config
	client HTTPClient
}

// New constructs a backend client.
func New(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base_url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "Authorization"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, client: client}, nil
}

// StatusResponse is the wire shape of GET /api/call-status/{id}.
type StatusResponse struct {
	Status           string  `json:"status"`
	Processed        bool    `json:"processed"`
	HasTranscript    bool    `json:"has_transcript"`
	HasScore         bool    `json:"has_score"`
	HasFeedback      bool    `json:"has_feedback"`
	Score            float64 `json:"score"`
	TranscriptLength int     `json:"transcript_length"`
	CallID           string  `json:"call_id"`
}

// Found reports whether the backend has any record for the call.
func (r StatusResponse) Found() bool {
	return r.Status == "found"
}

// NotFound reports whether the backend explicitly has no record for the call.
func (r StatusResponse) NotFound() bool {
	return r.Status == "not_found"
}

// Readiness maps the wire status onto the canonical probe result.
func (r StatusResponse) Readiness() resolution.ReadinessStatus {
	return resolution.ReadinessStatus{
		Found:            r.Found(),
		Processed:        r.Processed,
		HasTranscript:    r.HasTranscript,
		HasScore:         r.HasScore,
		Score:            r.Score,
		TranscriptLength: r.TranscriptLength,
	}
}

// CallLogResponse is the wire shape of GET /log-call?call_id={id}.
type CallLogResponse struct {
	Message         string  `json:"message"`
	Transcript      string  `json:"transcript"`
	Duration        int     `json:"duration"`
	Score           float64 `json:"score"`
	Summary         string  `json:"summary"`
	Sentiment       string  `json:"sentiment"`
	Feedback        string  `json:"feedback"`
	XP              int     `json:"xp"`
	BonusXP         int     `json:"bonus_xp"`
	Passed          bool    `json:"passed"`
	HasCompleteData bool    `json:"has_complete_data"`
	CallID          string  `json:"call_id"`
}

// Found reports whether the backend returned a call-log record.
func (r CallLogResponse) Found() bool {
	return r.Message == "found"
}

// NotFound reports whether the backend explicitly has no call-log record.
func (r CallLogResponse) NotFound() bool {
	return r.Message == "not found"
}

// Result maps the wire payload onto the canonical analysis result.
func (r CallLogResponse) Result() resolution.AnalysisResult {
	return resolution.AnalysisResult{
		Transcript:       r.Transcript,
		Score:            r.Score,
		Sentiment:        resolution.NormalizeSentiment(r.Sentiment),
		Feedback:         r.Feedback,
		Summary:          r.Summary,
		ExperiencePoints: nonNegative(r.XP),
		BonusPoints:      nonNegative(r.BonusXP),
		Passed:           r.Passed,
		DurationSeconds:  nonNegative(r.Duration),
		Complete:         r.HasCompleteData,
	}
}

// RenameResponse is the wire shape of POST /api/update-call-id.
type RenameResponse struct {
	Status    string `json:"status"`
	OldCallID string `json:"old_call_id"`
	NewCallID string `json:"new_call_id,omitempty"`
}

// Updated reports whether the backend applied the rename.
func (r RenameResponse) Updated() bool {
	return r.Status == "updated"
}

// CallStatus performs the lightweight readiness probe for a call.
func (c *Client) CallStatus(ctx context.Context, callID string) (StatusResponse, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return StatusResponse{}, fmt.Errorf("call_id is required")
	}
	var out StatusResponse
	endpoint := c.cfg.BaseURL + "/api/call-status/" + url.PathEscape(callID)
	if err := c.get(ctx, endpoint, &out); err != nil {
		return StatusResponse{}, fmt.Errorf("call status %s: %w", callID, err)
	}
	return out, nil
}

// FetchCallLog retrieves the authoritative analysis payload for a call.
func (c *Client) FetchCallLog(ctx context.Context, callID string) (CallLogResponse, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return CallLogResponse{}, fmt.Errorf("call_id is required")
	}
	var out CallLogResponse
	endpoint := c.cfg.BaseURL + "/log-call?call_id=" + url.QueryEscape(callID)
	if err := c.get(ctx, endpoint, &out); err != nil {
		return CallLogResponse{}, fmt.Errorf("fetch call log %s: %w", callID, err)
	}
	return out, nil
}

// RenameCall remaps a provisional call id to the provider-assigned id.
func (c *Client) RenameCall(ctx context.Context, oldID, newID string) (RenameResponse, error) {
	oldID = strings.TrimSpace(oldID)
	newID = strings.TrimSpace(newID)
	if oldID == "" || newID == "" {
		return RenameResponse{}, fmt.Errorf("old_call_id and new_call_id are required")
	}
	body, err := json.Marshal(map[string]string{
		"old_call_id": oldID,
		"new_call_id": newID,
	})
	if err != nil {
		return RenameResponse{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.cfg.BaseURL+"/api/update-call-id", bytes.NewReader(body))
	if err != nil {
		return RenameResponse{}, err
	}
	var out RenameResponse
	if err := c.do(req, &out); err != nil {
		return RenameResponse{}, fmt.Errorf("rename call %s -> %s: %w", oldID, newID, err)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set(c.cfg.APIKeyHeader, "Bearer "+c.cfg.APIKey)
	}
	for key, value := range c.cfg.StaticHeaders {
		req.Header.Set(key, value)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request backend: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("backend status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(responseBody)))
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

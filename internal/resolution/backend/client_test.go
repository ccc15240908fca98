package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tiger/call-resolution-pipeline/api/resolution"
)

func TestCallStatusDecodesProbeShape(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.URL.Path != "/api/call-status/call-42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":            "found",
			"processed":         true,
			"has_transcript":    true,
			"has_score":         true,
			"score":             7,
			"transcript_length": 220,
			"call_id":           "call-42",
		})
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	status, err := client.CallStatus(context.Background(), "call-42")
	if err != nil {
		t.Fatalf("call status: %v", err)
	}
	if !status.Found() || status.NotFound() {
		t.Fatalf("expected found status, got %+v", status)
	}
	readiness := status.Readiness()
	if !readiness.Complete() {
		t.Fatalf("expected complete readiness, got %+v", readiness)
	}
	if readiness.TranscriptLength != 220 || readiness.Score != 7 {
		t.Fatalf("unexpected advisory fields: %+v", readiness)
	}
}

func TestFetchCallLogMapsResult(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/log-call" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("call_id"); got != "call-7" {
			t.Errorf("unexpected call_id %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message":           "found",
			"transcript":        "hello, thanks for taking my call today",
			"duration":          95,
			"score":             8,
			"summary":           "Good discovery call",
			"sentiment":         "Positive",
			"feedback":          "Clear value articulation.",
			"xp":                80,
			"bonus_xp":          15,
			"passed":            true,
			"has_complete_data": true,
			"call_id":           "call-7",
		})
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	log, err := client.FetchCallLog(context.Background(), "call-7")
	if err != nil {
		t.Fatalf("fetch call log: %v", err)
	}
	if !log.Found() {
		t.Fatalf("expected found call log, got %+v", log)
	}
	result := log.Result()
	if err := result.Validate(); err != nil {
		t.Fatalf("mapped result invalid: %v", err)
	}
	if result.Sentiment != resolution.SentimentPositive {
		t.Fatalf("expected normalized positive sentiment, got %q", result.Sentiment)
	}
	if result.TotalPoints() != 95 {
		t.Fatalf("expected xp+bonus total 95, got %d", result.TotalPoints())
	}
	if !result.Complete || !result.Passed || result.DurationSeconds != 95 {
		t.Fatalf("unexpected mapped result: %+v", result)
	}
}

func TestFetchCallLogNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"message":    "not found",
			"transcript": "",
			"score":      0,
			"sentiment":  "neutral",
		})
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	log, err := client.FetchCallLog(context.Background(), "missing-call")
	if err != nil {
		t.Fatalf("fetch call log: %v", err)
	}
	if log.Found() || !log.NotFound() {
		t.Fatalf("expected explicit not-found, got %+v", log)
	}
}

func TestRenameCall(t *testing.T) {
	t.Parallel()

	var body map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/update-call-id" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status":      "updated",
			"old_call_id": body["old_call_id"],
			"new_call_id": body["new_call_id"],
		})
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp, err := client.RenameCall(context.Background(), "local-tmp-1", "real-42")
	if err != nil {
		t.Fatalf("rename call: %v", err)
	}
	if !resp.Updated() {
		t.Fatalf("expected updated rename, got %+v", resp)
	}
	if body["old_call_id"] != "local-tmp-1" || body["new_call_id"] != "real-42" {
		t.Fatalf("unexpected rename payload: %v", body)
	}
}

func TestClientErrorPaths(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.CallStatus(context.Background(), "call-1"); err == nil {
		t.Fatalf("expected error for 500 response")
	}
	if _, err := client.CallStatus(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for blank call id")
	}
	if _, err := client.RenameCall(context.Background(), "", "real-1"); err == nil {
		t.Fatalf("expected error for missing old id")
	}
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
}

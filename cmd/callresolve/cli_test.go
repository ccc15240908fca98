package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func fakeBackendServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/call-status/", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":         "found",
			"processed":      true,
			"has_transcript": true,
			"has_score":      true,
			"score":          8.0,
		})
	})
	mux.HandleFunc("/log-call", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":    "found",
			"transcript": strings.Repeat("t", 120),
			"score":      8.0,
			"sentiment":  "positive",
			"feedback":   "confident delivery",
			"xp":         40,
			"bonus_xp":   5,
			"passed":     true,
		})
	})
	mux.HandleFunc("/api/update-call-id", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "updated",
			"old_call_id": "local-1",
			"new_call_id": "real-1",
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestResolveRequiresCallIDFlag(t *testing.T) {
	_, _, err := executeCLI(t, "resolve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call-id")
}

func TestResolveCommandOutputsOutcome(t *testing.T) {
	server := fakeBackendServer(t)

	stdout, _, err := executeCLI(t,
		"resolve",
		"--call-id", "real-1",
		"--user-id", "user-1",
		"--backend-url", server.URL,
	)
	require.NoError(t, err)
	require.True(t, json.Valid([]byte(stdout)))

	var out resolveOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "real-1", out.CallID)
	assert.Equal(t, "resolved", out.State)
	assert.True(t, out.Accepted)
	assert.True(t, out.RewardApplied)
	assert.Equal(t, 45, out.PointsGranted)
	assert.Equal(t, 1, out.Level)
}

func TestStatusCommandOutputsProbe(t *testing.T) {
	server := fakeBackendServer(t)

	stdout, _, err := executeCLI(t, "status", "--call-id", "real-1", "--backend-url", server.URL)
	require.NoError(t, err)
	assert.Contains(t, stdout, "\"status\": \"found\"")
	assert.Contains(t, stdout, "\"processed\": true")
}

func TestRenameCommandOutputsResult(t *testing.T) {
	server := fakeBackendServer(t)

	stdout, _, err := executeCLI(t, "rename", "--old", "local-1", "--new", "real-1", "--backend-url", server.URL)
	require.NoError(t, err)
	assert.Contains(t, stdout, "\"status\": \"updated\"")
}

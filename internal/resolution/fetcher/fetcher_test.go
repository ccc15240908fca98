package fetcher

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tiger/call-resolution-pipeline/api/resolution"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/backend"
	"github.com/tiger/call-resolution-pipeline/internal/resolution/retry"
)

type scriptedSource struct {
	responses []func() (backend.CallLogResponse, error)
	calls     int
}

func (s *scriptedSource) FetchCallLog(context.Context, string) (backend.CallLogResponse, error) {
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return s.responses[idx]()
}

func payload(transcript string, score float64) func() (backend.CallLogResponse, error) {
	return func() (backend.CallLogResponse, error) {
		return backend.CallLogResponse{
			Message:    "found",
			Transcript: transcript,
			Score:      score,
			Feedback:   "solid handling of the objection",
			XP:         40,
		}, nil
	}
}

func absent() func() (backend.CallLogResponse, error) {
	return func() (backend.CallLogResponse, error) {
		return backend.CallLogResponse{Message: "not found"}, nil
	}
}

func fetchError() func() (backend.CallLogResponse, error) {
	return func() (backend.CallLogResponse, error) {
		return backend.CallLogResponse{}, errors.New("bad gateway")
	}
}

func noSleep() retry.Sleeper {
	return func(context.Context, time.Duration) error { return nil }
}

func TestFetchAcceptsLongTranscript(t *testing.T) {
	t.Parallel()

	transcript := strings.Repeat("a", 51)
	source := &scriptedSource{responses: []func() (backend.CallLogResponse, error){
		payload(transcript, 0),
	}}
	f, err := New(source, Config{Sleep: noSleep()})
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	result, err := f.Fetch(context.Background(), "call-1", true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !result.Accepted || result.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Analysis.Transcript != transcript || result.Analysis.ExperiencePoints != 40 {
		t.Fatalf("payload not mapped: %+v", result.Analysis)
	}
}

func TestFetchAcceptsScoreWithShortTranscript(t *testing.T) {
	t.Parallel()

	source := &scriptedSource{responses: []func() (backend.CallLogResponse, error){
		payload("too short", 7.5),
	}}
	f, err := New(source, Config{Sleep: noSleep()})
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	result, err := f.Fetch(context.Background(), "call-1", true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("positive score must satisfy acceptance: %+v", result)
	}
}

func TestFetchRejectsThinPayloadUntilItFills(t *testing.T) {
	t.Parallel()

	// A found record with a short transcript and zero score is treated as
	// still-processing and retried, then accepted once it fills in.
	source := &scriptedSource{responses: []func() (backend.CallLogResponse, error){
		payload(strings.Repeat("b", 10), 0),
		payload(strings.Repeat("b", 80), 0),
	}}
	f, err := New(source, Config{Sleep: noSleep()})
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	result, err := f.Fetch(context.Background(), "call-1", false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !result.Accepted || result.Attempts != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestFetchTranscriptBoundaryIsStrict(t *testing.T) {
	t.Parallel()

	// Exactly at the cutoff is not enough; the comparison is strict.
	source := &scriptedSource{responses: []func() (backend.CallLogResponse, error){
		payload(strings.Repeat("c", 50), 0),
	}}
	f, err := New(source, Config{ColdAttempts: 1, Sleep: noSleep()})
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	result, err := f.Fetch(context.Background(), "call-1", false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.Accepted {
		t.Fatalf("50-char transcript with zero score must not be accepted")
	}
	if result.Analysis.Feedback != resolution.SentinelFeedback {
		t.Fatalf("expected sentinel feedback, got %q", result.Analysis.Feedback)
	}
}

func TestFetchAttemptBudgetFollowsReadiness(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name        string
		likelyReady bool
		want        int
	}{
		{name: "ready gets two attempts", likelyReady: true, want: 2},
		{name: "cold gets three attempts", likelyReady: false, want: 3},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			source := &scriptedSource{responses: []func() (backend.CallLogResponse, error){
				payload("thin", 0),
			}}
			f, err := New(source, Config{Sleep: noSleep()})
			if err != nil {
				t.Fatalf("new fetcher: %v", err)
			}

			result, err := f.Fetch(context.Background(), "call-1", tc.likelyReady)
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if result.Accepted {
				t.Fatalf("thin payload must not be accepted")
			}
			if source.calls != tc.want {
				t.Fatalf("attempts = %d, want %d", source.calls, tc.want)
			}
		})
	}
}

func TestFetchShortCircuitsOnConfirmedAbsence(t *testing.T) {
	t.Parallel()

	source := &scriptedSource{responses: []func() (backend.CallLogResponse, error){
		absent(),
	}}
	f, err := New(source, Config{Sleep: noSleep()})
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	result, err := f.Fetch(context.Background(), "call-1", false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.Accepted {
		t.Fatalf("absent record must not be accepted")
	}
	if result.Attempts != 2 {
		t.Fatalf("expected short-circuit after 2 not-found responses, got %d attempts", result.Attempts)
	}
	if result.Analysis.Feedback != resolution.SentinelFeedback {
		t.Fatalf("expected sentinel result, got %+v", result.Analysis)
	}
}

func TestFetchErrorsDegradeToSentinel(t *testing.T) {
	t.Parallel()

	source := &scriptedSource{responses: []func() (backend.CallLogResponse, error){
		fetchError(),
	}}
	f, err := New(source, Config{Sleep: noSleep()})
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	result, err := f.Fetch(context.Background(), "call-1", true)
	if err != nil {
		t.Fatalf("fetch errors must degrade, not propagate: %v", err)
	}
	if result.Accepted || result.Attempts != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Analysis.Feedback != resolution.SentinelFeedback {
		t.Fatalf("expected sentinel feedback, got %q", result.Analysis.Feedback)
	}
}

func TestFetchHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	source := &scriptedSource{responses: []func() (backend.CallLogResponse, error){
		func() (backend.CallLogResponse, error) {
			cancel()
			return backend.CallLogResponse{Message: "not found"}, nil
		},
	}}
	f, err := New(source, Config{Sleep: nil})
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	if _, err := f.Fetch(ctx, "call-1", false); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPolicyScheduleDefaults(t *testing.T) {
	t.Parallel()

	f, err := New(&scriptedSource{responses: []func() (backend.CallLogResponse, error){absent()}}, Config{})
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	policy := f.Policy(false)
	if policy.MaxAttempts != 3 {
		t.Fatalf("cold MaxAttempts = %d, want 3", policy.MaxAttempts)
	}
	if got := policy.Delay(1); got != 600*time.Millisecond {
		t.Fatalf("first delay = %v, want 600ms", got)
	}
	if got := policy.Delay(2); got != 1000*time.Millisecond {
		t.Fatalf("second delay = %v, want 1s", got)
	}
}

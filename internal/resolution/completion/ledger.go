package completion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MaxLevel caps progression regardless of accumulated points.
const MaxLevel = 50

// Level derives the progression level from lifetime experience points.
// Every 100 points is one level, starting at level 1.
func Level(totalPoints int) int {
	if totalPoints < 0 {
		totalPoints = 0
	}
	level := totalPoints/100 + 1
	if level > MaxLevel {
		level = MaxLevel
	}
	return level
}

// Grant records a single reward issuance.
type Grant struct {
	SessionID string
	UserID    string
	Points    int
	GrantedAt time.Time
}

// Ledger persists reward grants keyed by session so a session's reward can
// be issued at most once even across process restarts. Grant returns
// applied=false when the session was already rewarded; total is the user's
// lifetime points either way.
type Ledger interface {
	Grant(ctx context.Context, userID, sessionID string, points int) (applied bool, total int, err error)
	Total(ctx context.Context, userID string) (int, error)
}

// MemoryLedger is an in-process Ledger for tests and single-node runs.
type MemoryLedger struct {
	mu     sync.Mutex
	grants map[string]Grant
	totals map[string]int

	now func() time.Time
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger(now func() time.Time) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{
		grants: map[string]Grant{},
		totals: map[string]int{},
		now:    now,
	}
}

// Grant issues points for the session unless it was already rewarded.
func (l *MemoryLedger) Grant(_ context.Context, userID, sessionID string, points int) (bool, int, error) {
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	if userID == "" || sessionID == "" {
		return false, 0, fmt.Errorf("user id and session id are required")
	}
	if points < 0 {
		return false, 0, fmt.Errorf("points must be non-negative, got %d", points)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.grants[sessionID]; exists {
		return false, l.totals[userID], nil
	}
	l.grants[sessionID] = Grant{
		SessionID: sessionID,
		UserID:    userID,
		Points:    points,
		GrantedAt: l.now(),
	}
	l.totals[userID] += points
	return true, l.totals[userID], nil
}

// Total returns the user's lifetime points.
func (l *MemoryLedger) Total(_ context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals[strings.TrimSpace(userID)], nil
}

// Grants returns the recorded grants for a user, for inspection in tests.
func (l *MemoryLedger) Grants(userID string) []Grant {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Grant
	for _, g := range l.grants {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	return out
}

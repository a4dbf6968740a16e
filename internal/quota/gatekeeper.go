package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUserNotFound signals that no usage record exists for the user.
var ErrUserNotFound = errors.New("user not found")

// Usage is the per-user daily conversion bookkeeping.
type Usage struct {
	ConversionCount    int
	LastConversionDate *time.Time
}

// UsageStore persists per-user usage. Each method must be atomic with
// respect to one user's record; cross-call serialization for a user is
// the Gatekeeper's job.
type UsageStore interface {
	GetUsage(ctx context.Context, userID uuid.UUID) (Usage, error)
	ResetUsage(ctx context.Context, userID uuid.UUID) error
	IncrementUsage(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool
	Reason  string // human-readable denial reason
}

// Gatekeeper enforces the per-user daily conversion ceiling. The count
// resets lazily: when a check finds the last conversion on a previous
// calendar day, it persists a reset before evaluating the limit. The
// count is consumed only on successful completion (RecordCompletion),
// never at reservation time, so failed jobs cost nothing.
//
// Reset and increment can race across requests for the same user; a
// per-user mutex serializes them within the process.
type Gatekeeper struct {
	store UsageStore
	limit int
	now   func() time.Time

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewGatekeeper creates a quota gatekeeper with the given daily limit.
func NewGatekeeper(store UsageStore, limit int) *Gatekeeper {
	return &Gatekeeper{
		store: store,
		limit: limit,
		now:   time.Now,
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// CheckAndReserve evaluates whether the user may start a conversion now.
// Storage errors while persisting the day-boundary reset are returned to
// the caller, not swallowed.
func (g *Gatekeeper) CheckAndReserve(ctx context.Context, userID uuid.UUID) (Decision, error) {
	lock := g.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	usage, err := g.store.GetUsage(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Decision{}, err
		}
		return Decision{}, fmt.Errorf("load usage: %w", err)
	}

	startOfToday := startOfDay(g.now())
	if usage.LastConversionDate != nil && usage.LastConversionDate.Before(startOfToday) {
		if err := g.store.ResetUsage(ctx, userID); err != nil {
			return Decision{}, fmt.Errorf("persist usage reset: %w", err)
		}
		usage.ConversionCount = 0
		usage.LastConversionDate = nil
	}

	if usage.ConversionCount >= g.limit {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("you have reached your daily limit of %d conversions", g.limit),
		}, nil
	}
	return Decision{Allowed: true}, nil
}

// RecordCompletion counts one successful conversion: increments the
// user's count by exactly 1 and stamps the completion time. Called once
// per completed job, after the output is confirmed written.
func (g *Gatekeeper) RecordCompletion(ctx context.Context, userID uuid.UUID, at time.Time) error {
	lock := g.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := g.store.IncrementUsage(ctx, userID, at); err != nil {
		return fmt.Errorf("persist usage increment: %w", err)
	}
	return nil
}

func (g *Gatekeeper) userLock(userID uuid.UUID) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[userID] = lock
	}
	return lock
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

package quota

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type memStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]Usage
	resetErr error
	resets   int
}

func newMemStore() *memStore {
	return &memStore{users: make(map[uuid.UUID]Usage)}
}

func (s *memStore) GetUsage(_ context.Context, userID uuid.UUID) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	usage, ok := s.users[userID]
	if !ok {
		return Usage{}, ErrUserNotFound
	}
	return usage, nil
}

func (s *memStore) ResetUsage(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetErr != nil {
		return s.resetErr
	}
	if _, ok := s.users[userID]; !ok {
		return ErrUserNotFound
	}
	s.users[userID] = Usage{}
	s.resets++
	return nil
}

func (s *memStore) IncrementUsage(_ context.Context, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	usage, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	usage.ConversionCount++
	usage.LastConversionDate = &at
	s.users[userID] = usage
	return nil
}

func (s *memStore) usage(userID uuid.UUID) Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID]
}

func TestCheckAndReserveUnknownUser(t *testing.T) {
	g := NewGatekeeper(newMemStore(), 10)
	_, err := g.CheckAndReserve(context.Background(), uuid.New())
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCheckAndReserveDeniesAtLimit(t *testing.T) {
	store := newMemStore()
	userID := uuid.New()
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	earlier := now.Add(-2 * time.Hour)
	store.users[userID] = Usage{ConversionCount: 10, LastConversionDate: &earlier}

	g := NewGatekeeper(store, 10)
	g.now = func() time.Time { return now }

	decision, err := g.CheckAndReserve(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	if decision.Allowed {
		t.Fatal("expected denial at the daily limit")
	}
	if !strings.Contains(decision.Reason, "daily limit of 10") {
		t.Errorf("reason = %q", decision.Reason)
	}
	if store.resets != 0 {
		t.Error("same-day check must not reset the count")
	}
}

func TestCheckAndReserveResetsAcrossDayBoundary(t *testing.T) {
	store := newMemStore()
	userID := uuid.New()
	now := time.Date(2026, 3, 14, 0, 30, 0, 0, time.UTC)
	yesterday := now.Add(-3 * time.Hour) // 21:30 the previous day
	store.users[userID] = Usage{ConversionCount: 10, LastConversionDate: &yesterday}

	g := NewGatekeeper(store, 10)
	g.now = func() time.Time { return now }

	decision, err := g.CheckAndReserve(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed {
		t.Fatalf("expected allowance after day rollover, got %q", decision.Reason)
	}
	if store.resets != 1 {
		t.Errorf("reset persisted %d times, want 1", store.resets)
	}
	if got := store.usage(userID); got.ConversionCount != 0 {
		t.Errorf("stored count = %d after reset, want 0", got.ConversionCount)
	}
}

func TestCheckAndReserveSurfacesResetFailure(t *testing.T) {
	store := newMemStore()
	userID := uuid.New()
	yesterday := time.Now().Add(-48 * time.Hour)
	store.users[userID] = Usage{ConversionCount: 3, LastConversionDate: &yesterday}
	store.resetErr = errors.New("connection refused")

	g := NewGatekeeper(store, 10)
	_, err := g.CheckAndReserve(context.Background(), userID)
	if err == nil || !strings.Contains(err.Error(), "persist usage reset") {
		t.Fatalf("expected reset failure to surface, got %v", err)
	}
}

func TestRecordCompletionIncrementsByOne(t *testing.T) {
	store := newMemStore()
	userID := uuid.New()
	store.users[userID] = Usage{ConversionCount: 4}

	g := NewGatekeeper(store, 10)
	at := time.Date(2026, 3, 14, 16, 45, 0, 0, time.UTC)
	if err := g.RecordCompletion(context.Background(), userID, at); err != nil {
		t.Fatal(err)
	}

	got := store.usage(userID)
	if got.ConversionCount != 5 {
		t.Errorf("count = %d, want 5", got.ConversionCount)
	}
	if got.LastConversionDate == nil || !got.LastConversionDate.Equal(at) {
		t.Errorf("lastConversionDate = %v, want %v", got.LastConversionDate, at)
	}
}

func TestCheckAndReserveAllowsUpToLimit(t *testing.T) {
	store := newMemStore()
	userID := uuid.New()
	now := time.Now()
	count := 9
	store.users[userID] = Usage{ConversionCount: count, LastConversionDate: &now}

	g := NewGatekeeper(store, 10)
	decision, err := g.CheckAndReserve(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed {
		t.Fatalf("count %d under limit 10 must be allowed", count)
	}
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/execledger/execledger/internal/errors"
	"github.com/execledger/execledger/internal/types"
)

func TestCounts(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	now := time.Now().UTC()
	old := generateTestRecords(10, now.Add(-100*24*time.Hour))
	fresh := generateTestRecords(5, now.Add(-time.Hour))
	for _, r := range fresh {
		r.TaskID = r.TaskID + "-fresh"
	}
	mustInsert(t, store, old)
	mustInsert(t, store, fresh)

	ctx := context.Background()

	total, err := store.CountExecutions(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 15 {
		t.Errorf("expected 15 total, got %d", total)
	}

	recent, err := store.CountSince(ctx, now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("count since: %v", err)
	}
	if recent != 5 {
		t.Errorf("expected 5 recent, got %d", recent)
	}

	expired, err := store.CountOlderThan(ctx, now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("count older: %v", err)
	}
	if expired != 10 {
		t.Errorf("expected 10 expired, got %d", expired)
	}
}

func TestForEachOlderThan_OrderAndBoundary(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	recs := generateTestRecords(20, base) // one per minute from base
	mustInsert(t, store, recs)

	cutoff := base.Add(10 * time.Minute)

	var got []*types.ExecutionRecord
	err := store.ForEachOlderThan(context.Background(), cutoff, func(r *types.ExecutionRecord) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("foreach: %v", err)
	}

	// Records at base+0m .. base+9m are strictly older than the cutoff.
	if len(got) != 10 {
		t.Fatalf("expected 10 expired records, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Errorf("expected ascending timestamps")
		}
	}
	for _, r := range got {
		if !r.Timestamp.Before(cutoff) {
			t.Errorf("record at %v not older than cutoff %v", r.Timestamp, cutoff)
		}
	}
}

func TestForEachOlderThan_StopsOnError(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	mustInsert(t, store, generateTestRecords(10, time.Now().Add(-48*time.Hour)))

	sentinel := errors.New("stop")
	calls := 0
	err := store.ForEachOlderThan(context.Background(), time.Now(), func(r *types.ExecutionRecord) error {
		calls++
		if calls == 3 {
			return sentinel
		}
		return nil
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected iteration to stop at 3, got %d", calls)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	now := time.Now().UTC()
	old := generateTestRecords(12, now.Add(-120*24*time.Hour))
	fresh := generateTestRecords(8, now.Add(-time.Hour))
	for _, r := range fresh {
		r.TaskID = r.TaskID + "-fresh"
	}
	mustInsert(t, store, old)
	mustInsert(t, store, fresh)

	ctx := context.Background()
	cutoff := now.Add(-90 * 24 * time.Hour)

	deleted, err := store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 12 {
		t.Errorf("expected 12 deleted, got %d", deleted)
	}

	remaining, _ := store.CountExecutions(ctx)
	if remaining != 8 {
		t.Errorf("expected 8 remaining, got %d", remaining)
	}

	// Idempotent: nothing left to delete.
	deleted, err = store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected 0 on second pass, got %d", deleted)
	}
}

func TestDistinctDaysOlderThan(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	base := time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC)
	var recs []*types.ExecutionRecord
	// Three records on each of four distinct days.
	for day := 0; day < 4; day++ {
		batch := generateTestRecords(3, base.AddDate(0, 0, day))
		for i, r := range batch {
			r.TaskID = r.TaskID + "-" + string(rune('a'+day)) + string(rune('0'+i))
		}
		recs = append(recs, batch...)
	}
	mustInsert(t, store, recs)

	days, err := store.DistinctDaysOlderThan(context.Background(), base.AddDate(0, 0, 10))
	if err != nil {
		t.Fatalf("distinct days: %v", err)
	}
	if days != 4 {
		t.Errorf("expected 4 distinct days, got %d", days)
	}

	days, err = store.DistinctDaysOlderThan(context.Background(), base.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("distinct days: %v", err)
	}
	if days != 2 {
		t.Errorf("expected 2 distinct days before partial cutoff, got %d", days)
	}
}

func TestOldestTimestamp(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	oldest, err := store.OldestTimestamp(ctx)
	if err != nil {
		t.Fatalf("oldest on empty: %v", err)
	}
	if !oldest.IsZero() {
		t.Errorf("expected zero time on empty table, got %v", oldest)
	}

	base := time.Date(2026, 2, 1, 6, 30, 0, 0, time.UTC)
	mustInsert(t, store, generateTestRecords(5, base))

	oldest, err = store.OldestTimestamp(ctx)
	if err != nil {
		t.Fatalf("oldest: %v", err)
	}
	if !oldest.Equal(base) {
		t.Errorf("expected %v, got %v", base, oldest)
	}
}

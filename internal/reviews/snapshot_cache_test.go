package reviews

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/provider"
)

func countingFetch(calls *int, payload provider.RawPayload, err error) FetchFunc {
	return func(context.Context) (provider.RawPayload, error) {
		*calls++
		return payload, err
	}
}

func TestGetOrFetchServesFreshSnapshot(t *testing.T) {
	database := mustReviewsDatabase(t)
	clock := newFixedClock(testNow)
	cache := mustSnapshotCache(t, database, clock)

	calls := 0
	first, err := cache.GetOrFetch(context.Background(), testGTIN, countingFetch(&calls, provider.RawPayload{"marker": "one"}, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one fetch on miss, got %d", calls)
	}
	if !first.LastFetchedAt.Equal(testNow) {
		t.Fatalf("unexpected fetched at %v", first.LastFetchedAt)
	}

	clock.Advance(23 * time.Hour)
	second, err := cache.GetOrFetch(context.Background(), testGTIN, countingFetch(&calls, provider.RawPayload{"marker": "two"}, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected fresh snapshot to skip fetch, got %d calls", calls)
	}
	payload, err := second.Payload()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["marker"] != "one" {
		t.Fatalf("expected cached payload, got %v", payload["marker"])
	}
}

func TestGetOrFetchRefetchesStaleSnapshot(t *testing.T) {
	database := mustReviewsDatabase(t)
	clock := newFixedClock(testNow)
	cache := mustSnapshotCache(t, database, clock)

	calls := 0
	if _, err := cache.GetOrFetch(context.Background(), testGTIN, countingFetch(&calls, provider.RawPayload{"marker": "one"}, nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(24 * time.Hour)
	snapshot, err := cache.GetOrFetch(context.Background(), testGTIN, countingFetch(&calls, provider.RawPayload{"marker": "two"}, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected stale snapshot to be refetched, got %d calls", calls)
	}
	payload, _ := snapshot.Payload()
	if payload["marker"] != "two" {
		t.Fatalf("expected refreshed payload, got %v", payload["marker"])
	}

	var stored []RawSnapshot
	if err := database.Find(&stored).Error; err != nil {
		t.Fatalf("load snapshots: %v", err)
	}
	if len(stored) != 1 || !stored[0].LastFetchedAt.Equal(testNow.Add(24*time.Hour)) {
		t.Fatalf("expected single overwritten snapshot, got %#v", stored)
	}
}

func TestGetOrFetchKeepsSnapshotWhenFetchFails(t *testing.T) {
	database := mustReviewsDatabase(t)
	clock := newFixedClock(testNow)
	cache := mustSnapshotCache(t, database, clock)

	calls := 0
	if _, err := cache.GetOrFetch(context.Background(), testGTIN, countingFetch(&calls, provider.RawPayload{"marker": "one"}, nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(48 * time.Hour)
	failure := errors.New("provider down")
	if _, err := cache.GetOrFetch(context.Background(), testGTIN, countingFetch(&calls, nil, failure)); !errors.Is(err, failure) {
		t.Fatalf("expected fetch error to propagate, got %v", err)
	}

	stored, err := cache.Lookup(context.Background(), testGTIN)
	if err != nil || stored == nil {
		t.Fatalf("expected snapshot to survive, got %v (%v)", stored, err)
	}
	if !stored.LastFetchedAt.Equal(testNow) {
		t.Fatalf("expected untouched timestamp, got %v", stored.LastFetchedAt)
	}
}

func TestLookupMissingSnapshot(t *testing.T) {
	cache := mustSnapshotCache(t, mustReviewsDatabase(t), newFixedClock(testNow))
	snapshot, err := cache.Lookup(context.Background(), testGTIN)
	if err != nil || snapshot != nil {
		t.Fatalf("expected nil snapshot, got %v (%v)", snapshot, err)
	}
}

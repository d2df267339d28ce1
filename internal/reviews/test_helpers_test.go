package reviews

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/catalog"
	"github.com/MarcoPoloResearchLab/reviewhub/internal/provider"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const (
	testGTIN      = "0012345678905"
	testProductID = "product-1"
)

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(now time.Time) *fixedClock {
	return &fixedClock{now: now}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(delta)
}

type fetchResponse struct {
	payload provider.RawPayload
	err     error
}

// stubFetcher answers queries from a per-query script; the last entry repeats.
type stubFetcher struct {
	mu        sync.Mutex
	responses map[string][]fetchResponse
	calls     map[string]int
	total     int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		responses: map[string][]fetchResponse{},
		calls:     map[string]int{},
	}
}

func (f *stubFetcher) on(query string, responses ...fetchResponse) *stubFetcher {
	f.responses[query] = responses
	return f
}

func (f *stubFetcher) FetchReviews(_ context.Context, query string) (provider.RawPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	index := f.calls[query]
	f.calls[query]++
	f.total++
	script := f.responses[query]
	if len(script) == 0 {
		return provider.RawPayload{"reviews": []any{}}, nil
	}
	if index >= len(script) {
		index = len(script) - 1
	}
	return script[index].payload, script[index].err
}

func (f *stubFetcher) callCount(query string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[query]
}

func (f *stubFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func mustReviewsDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "reviews.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&catalog.Product{}, &RawSnapshot{}, &Review{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return database
}

func mustSeedProduct(t *testing.T, database *gorm.DB, id, gtin, name, brand string) {
	t.Helper()
	product := catalog.Product{ID: id, Slug: id, Name: name, Brand: brand, GTIN: &gtin}
	if err := database.Create(&product).Error; err != nil {
		t.Fatalf("failed to seed product: %v", err)
	}
}

func mustResolver(t *testing.T, database *gorm.DB) *catalog.Resolver {
	t.Helper()
	resolver, err := catalog.NewResolver(catalog.ResolverConfig{Database: database})
	if err != nil {
		t.Fatalf("failed to build resolver: %v", err)
	}
	return resolver
}

func mustSnapshotCache(t *testing.T, database *gorm.DB, clock *fixedClock) *SnapshotCache {
	t.Helper()
	cache, err := NewSnapshotCache(SnapshotCacheConfig{
		Database:        database,
		FreshnessWindow: 24 * time.Hour,
		Clock:           clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to build snapshot cache: %v", err)
	}
	return cache
}

type publisherFixture struct {
	database  *gorm.DB
	clock     *fixedClock
	fetcher   *stubFetcher
	snapshots *SnapshotCache
	publisher *Publisher
}

func newPublisherFixture(t *testing.T) *publisherFixture {
	t.Helper()
	database := mustReviewsDatabase(t)
	clock := newFixedClock(testNow)
	fetcher := newStubFetcher()
	snapshots := mustSnapshotCache(t, database, clock)
	publisher, err := NewPublisher(PublisherConfig{
		Database:  database,
		Resolver:  mustResolver(t, database),
		Fetcher:   fetcher,
		Snapshots: snapshots,
		Retry:     RetrySettings{MaxAttempts: 3},
		Clock:     clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to build publisher: %v", err)
	}
	return &publisherFixture{
		database:  database,
		clock:     clock,
		fetcher:   fetcher,
		snapshots: snapshots,
		publisher: publisher,
	}
}

func reviewRecord(link, title, body string, rating any) map[string]any {
	return map[string]any{
		"link":   link,
		"title":  title,
		"text":   body,
		"rating": rating,
		"author": "Jane",
		"date":   "Reviewed in the United States on March 3, 2026",
		"source": "Verified Purchase",
	}
}

func samplePayload() provider.RawPayload {
	return provider.RawPayload{
		"search_metadata": map[string]any{"amazon_url": "https://www.amazon.com/s?k=" + testGTIN},
		"reviews": []any{
			reviewRecord("https://www.amazon.com/gp/customer-reviews/R1AAA/ref=cm_cr?ie=UTF8", "Great", "Works well", 5.0),
			reviewRecord("https://www.amazon.com/gp/customer-reviews/R2BBB/", "Okay", "Does the job", 4.0),
			reviewRecord("https://www.amazon.com/gp/customer-reviews/R3CCC", "Meh", "", 2.0),
		},
	}
}

func countReviews(t *testing.T, database *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := database.Model(&Review{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count reviews: %v", err)
	}
	return count
}

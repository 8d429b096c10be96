package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/repoqa/repoqa/internal/fetcher"
	"github.com/repoqa/repoqa/pkg/models"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// Compile-time check: the cache backs the fetcher's metadata lookups.
var _ fetcher.MetaCache = &Cache{}

func testCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	c := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ttl)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := testCache(t, time.Hour)
	ctx := context.Background()

	in := models.RepoMeta{
		RepoID:        "owner/repo",
		Owner:         "owner",
		Name:          "repo",
		DefaultBranch: "main",
		SizeKB:        42,
		FileCount:     7,
	}
	if err := c.SetJSON(ctx, "repometa:owner/repo", in); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var out models.RepoMeta
	found, err := c.GetJSON(ctx, "repometa:owner/repo", &out)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if !found {
		t.Fatal("Expected a cache hit")
	}
	if out != in {
		t.Errorf("Expected %+v, got %+v", in, out)
	}
}

func TestGetMiss(t *testing.T) {
	c, _ := testCache(t, time.Hour)

	var out models.RepoMeta
	found, err := c.GetJSON(context.Background(), "repometa:nobody/nothing", &out)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if found {
		t.Error("Expected a miss for an unset key")
	}
}

func TestEntryExpires(t *testing.T) {
	c, mr := testCache(t, time.Minute)
	ctx := context.Background()

	if err := c.SetJSON(ctx, "repometa:owner/repo", models.RepoMeta{RepoID: "owner/repo"}); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	if ttl := mr.TTL(keyPrefix + "repometa:owner/repo"); ttl != time.Minute {
		t.Errorf("Expected TTL of 1m, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)

	var out models.RepoMeta
	found, err := c.GetJSON(ctx, "repometa:owner/repo", &out)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if found {
		t.Error("Expected the entry to have expired")
	}
}

func TestCorruptEntryBehavesLikeMiss(t *testing.T) {
	c, mr := testCache(t, time.Hour)

	mr.Set(keyPrefix+"repometa:owner/repo", "{not json")

	var out models.RepoMeta
	found, err := c.GetJSON(context.Background(), "repometa:owner/repo", &out)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if found {
		t.Error("Expected a corrupt entry to read as a miss")
	}
	if mr.Exists(keyPrefix + "repometa:owner/repo") {
		t.Error("Expected the corrupt entry to be deleted")
	}
}

func TestDelete(t *testing.T) {
	c, _ := testCache(t, time.Hour)
	ctx := context.Background()

	if err := c.SetJSON(ctx, "k", "v"); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	var out string
	found, _ := c.GetJSON(ctx, "k", &out)
	if found {
		t.Error("Expected key to be gone after delete")
	}

	// Deleting a missing key is fine.
	if err := c.Delete(ctx, "k"); err != nil {
		t.Errorf("Expected no error deleting a missing key, got %v", err)
	}
}

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/verdin-ai/verdin/internal/cache"
	"github.com/verdin-ai/verdin/pkg/models"
)

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Hello World",
		"  hello   world  ",
		"HELLO\t\nworld",
		"",
		"one",
	}
	for _, in := range inputs {
		once := cache.Normalize(in)
		twice := cache.Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestNormalizeCollapsesWhitespaceAndCase(t *testing.T) {
	got := cache.Normalize("  Write   a\tPOEM\nabout geese  ")
	want := "write a poem about geese"
	if got != want {
		t.Errorf("Normalize() = %q, want %q", got, want)
	}
}

func TestFingerprintEquivalence(t *testing.T) {
	a := cache.Fingerprint("Explain   Quantum Tunneling")
	b := cache.Fingerprint("explain quantum tunneling")
	if a != b {
		t.Errorf("equivalent prompts produced different fingerprints: %s vs %s", a, b)
	}

	c := cache.Fingerprint("explain classical tunneling")
	if a == c {
		t.Error("distinct prompts produced the same fingerprint")
	}
}

// A KV in no-op mode (Redis down) must behave as a permanent miss for the
// exact tier while the semantic tier still works.
func TestPromptCacheDegradesToSemanticTier(t *testing.T) {
	ctx := context.Background()
	kv := cache.NewKV(ctx, "", "", 0) // no address = no-op mode
	sem := cache.NewJaccardSimilarity(0.9)
	pc := cache.NewPromptCache(kv, sem, time.Hour)

	receipt := models.Receipt{ID: "rec_1", NetSavings: 2.4}
	pc.Store(ctx, "Summarize the Q3 report", "summary text", receipt)

	hit := pc.Lookup(ctx, "summarize THE q3   report")
	if hit == nil {
		t.Fatal("expected semantic-tier hit after exact tier degraded")
	}
	if hit.Receipt.ID != "rec_1" {
		t.Errorf("hit.Receipt.ID = %q, want rec_1", hit.Receipt.ID)
	}
	if hit.Response != "summary text" {
		t.Errorf("hit.Response = %q", hit.Response)
	}
}

// Without a semantic backend, an unreachable cache service is simply a
// permanent miss, never an error.
func TestPromptCacheNoBackendIsPermanentMiss(t *testing.T) {
	ctx := context.Background()
	kv := cache.NewKV(ctx, "", "", 0)
	pc := cache.NewPromptCache(kv, nil, time.Hour)

	pc.Store(ctx, "anything", "result", models.Receipt{ID: "rec_2"})
	if hit := pc.Lookup(ctx, "anything"); hit != nil {
		t.Errorf("expected miss with no backing tiers, got %+v", hit)
	}
}

func TestJaccardThreshold(t *testing.T) {
	ctx := context.Background()
	sem := cache.NewJaccardSimilarity(0.8)

	entry := &models.CacheEntry{Fingerprint: "fp", Response: "r"}
	if err := sem.Store(ctx, "explain the raft consensus protocol", entry); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	if got := sem.Lookup(ctx, "explain the raft consensus protocol"); got == nil {
		t.Error("identical prompt should match")
	}
	if got := sem.Lookup(ctx, "write a haiku about springtime"); got != nil {
		t.Error("unrelated prompt should not match")
	}
}

package cache

import (
	"context"
	"strings"
	"sync"

	"github.com/verdin-ai/verdin/pkg/models"
)

// JaccardSimilarity is an in-process Similarity backend using token-set
// Jaccard distance. It stands in for a real vector index in local
// deployments and tests; the orchestrator only sees the Similarity
// interface either way.
type JaccardSimilarity struct {
	// Threshold is the minimum Jaccard coefficient for a match, in (0, 1].
	Threshold float64

	mu      sync.RWMutex
	entries map[string]*models.CacheEntry // normalized prompt -> entry
}

// NewJaccardSimilarity creates the backend. threshold 0.8 is a reasonable
// default for near-identical prompts.
func NewJaccardSimilarity(threshold float64) *JaccardSimilarity {
	return &JaccardSimilarity{
		Threshold: threshold,
		entries:   make(map[string]*models.CacheEntry),
	}
}

// Lookup returns the stored entry with the highest Jaccard coefficient at
// or above the threshold, or nil.
func (j *JaccardSimilarity) Lookup(_ context.Context, normalized string) *models.CacheEntry {
	query := tokenSet(normalized)
	if len(query) == 0 {
		return nil
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	var best *models.CacheEntry
	bestScore := j.Threshold
	for prompt, entry := range j.entries {
		score := jaccard(query, tokenSet(prompt))
		if score >= bestScore {
			best = entry
			bestScore = score
		}
	}
	return best
}

// Store indexes the entry under its normalized prompt.
func (j *JaccardSimilarity) Store(_ context.Context, normalized string, entry *models.CacheEntry) error {
	j.mu.Lock()
	j.entries[normalized] = entry
	j.mu.Unlock()
	return nil
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		set[tok] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/verdin-ai/verdin/pkg/models"
)

const promptKeyPrefix = "prompt:"

// Similarity is the pluggable semantic-match backend. Lookup returns the
// nearest stored entry within the backend's distance threshold, or nil for
// a miss. The absence of a backend is a permanent miss, not an error.
type Similarity interface {
	Lookup(ctx context.Context, normalized string) *models.CacheEntry
	Store(ctx context.Context, normalized string, entry *models.CacheEntry) error
}

// PromptCache maps normalized prompts to previously computed results.
// Tier one is an exact match on the normalized-prompt fingerprint; tier two
// is the optional similarity backend. Both tiers are best-effort: failures
// are logged and swallowed, never surfaced to the request path.
type PromptCache struct {
	kv       *KV
	semantic Similarity
	ttl      time.Duration
}

// NewPromptCache creates the cache. semantic may be nil.
func NewPromptCache(kv *KV, semantic Similarity, ttl time.Duration) *PromptCache {
	return &PromptCache{kv: kv, semantic: semantic, ttl: ttl}
}

// Normalize canonicalizes prompt text: lowercase, whitespace runs collapsed
// to single spaces, trimmed. Idempotent.
func Normalize(prompt string) string {
	return strings.Join(strings.Fields(strings.ToLower(prompt)), " ")
}

// Fingerprint is the deterministic cache key for a prompt: the hex SHA-256
// digest of its normalized text.
func Fingerprint(prompt string) string {
	sum := sha256.Sum256([]byte(Normalize(prompt)))
	return hex.EncodeToString(sum[:])
}

// Lookup checks the exact tier, then the semantic tier. nil means miss.
func (c *PromptCache) Lookup(ctx context.Context, prompt string) *models.CacheEntry {
	normalized := Normalize(prompt)

	var entry models.CacheEntry
	if c.kv.Get(ctx, promptKeyPrefix+Fingerprint(normalized), &entry) {
		log.Debug().Str("fingerprint", entry.Fingerprint).Msg("Prompt cache hit (exact)")
		return &entry
	}

	if c.semantic == nil {
		return nil
	}
	if hit := c.semantic.Lookup(ctx, normalized); hit != nil {
		log.Debug().Str("fingerprint", hit.Fingerprint).Msg("Prompt cache hit (semantic)")
		return hit
	}
	return nil
}

// Store writes the entry to the exact tier and, when present, the semantic
// tier. Never fails: caching must not block the primary request path.
func (c *PromptCache) Store(ctx context.Context, prompt, response string, receipt models.Receipt) {
	normalized := Normalize(prompt)
	entry := &models.CacheEntry{
		Fingerprint: Fingerprint(normalized),
		Prompt:      normalized,
		Response:    response,
		Receipt:     receipt,
		CreatedAt:   time.Now().UTC(),
	}

	if !c.kv.Set(ctx, promptKeyPrefix+entry.Fingerprint, entry, c.ttl) {
		log.Debug().Str("fingerprint", entry.Fingerprint).Msg("Exact-tier store skipped")
	}

	if c.semantic != nil {
		if err := c.semantic.Store(ctx, normalized, entry); err != nil {
			log.Warn().Err(err).Msg("Semantic-tier store failed")
		}
	}
}

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/quorumlabs/quorum/internal/discussion"
	"github.com/quorumlabs/quorum/internal/gateway"
	"github.com/quorumlabs/quorum/internal/models"
	"github.com/quorumlabs/quorum/internal/sink"
)

const (
	summarizeMinChars = 800
	summarizeTimeout  = 90 * time.Second
	summaryMaxTokens  = 1024
)

// summaryCache holds turn digests, keyed by discussion id then turn id.
// Entries are written once and never invalidated; losing the cache on
// restart only degrades later contexts to truncation.
type summaryCache struct {
	mu sync.RWMutex
	m  map[string]map[string]string
}

func newSummaryCache() *summaryCache {
	return &summaryCache{m: make(map[string]map[string]string)}
}

func (c *summaryCache) get(discussionID, turnID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	digest, ok := c.m[discussionID][turnID]
	return digest, ok
}

func (c *summaryCache) put(discussionID, turnID, digest string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m[discussionID] == nil {
		c.m[discussionID] = make(map[string]string)
	}
	c.m[discussionID][turnID] = digest
}

// summarizeTurn produces and caches a digest for a completed turn. It runs
// detached from the round and must never fail it: every failure path falls
// back to truncation and a warning log. Short turns are skipped entirely.
func (e *Engine) summarizeTurn(d *discussion.Discussion, t discussion.Turn) {
	if len([]rune(t.Content)) < summarizeMinChars {
		return
	}

	// Detached from the round's context on purpose: the round may be long
	// finished by the time this runs.
	ctx, cancel := context.WithTimeout(context.Background(), summarizeTimeout)
	defer cancel()

	e.summaries.put(d.ID, t.ID, e.buildDigest(ctx, d, t))
}

func (e *Engine) buildDigest(ctx context.Context, d *discussion.Discussion, t discussion.Turn) string {
	cfg, ok := e.registry.PreferTier(models.TierFast)
	if !ok {
		e.sink.Log(d.ID, sink.LevelWarn, "summarizer", "no model available, falling back to truncation", map[string]any{"turnId": t.ID})
		return truncateMiddle(t.Content, truncateTarget)
	}

	msgs := []gateway.Message{
		{Role: gateway.RoleSystem, Content: summarySystemPrompt(t.Role, t.ModelName)},
		{Role: gateway.RoleUser, Content: t.Content},
	}
	digest, err := e.gateway.Generate(ctx, cfg.Model, msgs, gateway.Options{Temperature: 0.3, MaxTokens: summaryMaxTokens})
	if err != nil || digest == "" {
		details := map[string]any{"turnId": t.ID, "model": cfg.ID}
		if err != nil {
			details["error"] = err.Error()
		}
		e.sink.Log(d.ID, sink.LevelWarn, "summarizer", "summarization failed, falling back to truncation", details)
		return truncateMiddle(t.Content, truncateTarget)
	}
	return digest
}

package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/quorumlabs/quorum/internal/discussion"
	"github.com/quorumlabs/quorum/internal/gateway"
	"github.com/quorumlabs/quorum/internal/models"
	"github.com/quorumlabs/quorum/internal/sink"
)

const (
	maxQueriesPerBatch  = 5
	maxResultsPerQuery  = 5
	maxResultBlockChars = 6000
)

var searchDirectiveRe = regexp.MustCompile(`\[SEARCH:\s*([^\]]+)\]|【搜索[:：]\s*([^】]+)】`)

// extractSearchDirectives returns the query strings of all inline search
// directives in the model output, in order of appearance.
func extractSearchDirectives(text string) []string {
	var queries []string
	for _, m := range searchDirectiveRe.FindAllStringSubmatch(text, -1) {
		q := m[1]
		if q == "" {
			q = m[2]
		}
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	return queries
}

// generateWithSearch runs one generation, then up to SearchIterations
// rounds of directive detection, external search, and re-generation with the
// results injected. The final iteration's instruction forbids further
// directives; whatever the model emits after that is returned as-is.
func (e *Engine) generateWithSearch(ctx context.Context, d *discussion.Discussion, cfg models.Config, msgs []gateway.Message, role discussion.Role) (string, error) {
	opts := gateway.Options{Temperature: e.opts.Temperature, MaxTokens: e.opts.MaxTokens}
	gen := func(m []gateway.Message) (string, error) {
		return e.gateway.GenerateStreaming(ctx, cfg.Model, m, opts, func(chunk string) {
			e.sink.Emit(d.ID, sink.EventChunk, map[string]any{"role": string(role), "model": cfg.DisplayName, "content": chunk})
		})
	}

	text, err := gen(msgs)
	if err != nil || !d.SearchEnabled || e.searcher == nil {
		return text, err
	}

	budget := providerBudget(cfg.Provider())
	for iter := 1; iter <= e.opts.SearchIterations; iter++ {
		queries := extractSearchDirectives(text)
		if len(queries) == 0 {
			return text, nil
		}
		if len(queries) > maxQueriesPerBatch {
			queries = queries[:maxQueriesPerBatch]
		}

		results := e.runSearchBatch(ctx, d.ID, queries)
		final := iter == e.opts.SearchIterations

		msgs = append(msgs,
			gateway.Message{Role: gateway.RoleAssistant, Content: text},
			gateway.Message{Role: gateway.RoleUser, Content: searchFollowup(results, final)},
		)
		msgs = trimToBudget(msgs, budget)

		text, err = gen(msgs)
		if err != nil {
			return "", err
		}
	}
	return text, nil
}

// runSearchBatch executes the queries sequentially. Search is best-effort: a
// failed query contributes an error-annotated entry instead of aborting.
func (e *Engine) runSearchBatch(ctx context.Context, discussionID string, queries []string) string {
	var b strings.Builder
	for _, q := range queries {
		e.sink.Emit(discussionID, sink.EventSearchStart, map[string]any{"query": q})
		e.sink.Log(discussionID, sink.LevelInfo, "search", "query started", map[string]any{"query": q})

		resp, err := e.searcher.Search(ctx, q, maxResultsPerQuery, e.opts.FetchPages)
		count := 0
		fmt.Fprintf(&b, "Results for %q:\n", q)
		switch {
		case err != nil:
			fmt.Fprintf(&b, "(search failed: %v)\n", err)
			e.sink.Log(discussionID, sink.LevelWarn, "search", "query failed", map[string]any{"query": q, "error": err.Error()})
		case resp.Err != "":
			fmt.Fprintf(&b, "(search error: %s)\n", resp.Err)
			e.sink.Log(discussionID, sink.LevelWarn, "search", "query errored", map[string]any{"query": q, "error": resp.Err})
		case len(resp.Results) == 0:
			b.WriteString("(no results)\n")
		default:
			count = len(resp.Results)
			for i, r := range resp.Results {
				fmt.Fprintf(&b, "%d. %s — %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
				if r.PageContent != "" {
					fmt.Fprintf(&b, "   Excerpt: %s\n", r.PageContent)
				}
			}
		}
		b.WriteString("\n")

		e.sink.Emit(discussionID, sink.EventSearchEnd, map[string]any{"query": q, "resultCount": count})
		e.sink.Log(discussionID, sink.LevelInfo, "search", "query completed", map[string]any{"query": q, "results": count})
	}
	return truncateMiddle(b.String(), maxResultBlockChars)
}

const (
	searchFollowupAllowMore = "Here are the search results you requested. Incorporate them into your answer. You may request further searches with [SEARCH: query] if essential information is still missing."
	searchFollowupFinal     = "Here are the search results you requested. This was the final permitted search. Do NOT emit any further [SEARCH: ...] directives; give your conclusive answer now."
)

func searchFollowup(results string, final bool) string {
	instruction := searchFollowupAllowMore
	if final {
		instruction = searchFollowupFinal
	}
	return results + instruction
}

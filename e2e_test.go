package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/quorumlabs/quorum/internal/discussion"
	"github.com/quorumlabs/quorum/internal/engine"
	"github.com/quorumlabs/quorum/internal/gateway"
	"github.com/quorumlabs/quorum/internal/models"
	"github.com/quorumlabs/quorum/internal/sink"
)

// TestE2EFullDebateWithMockServer drives the real engine and gateway against
// a mock OpenRouter server. The judge holds off until round 3, then delivers
// a verdict.
func TestE2EFullDebateWithMockServer(t *testing.T) {
	var judgeCalls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key-123" {
			t.Errorf("bad auth header: %s", auth)
		}

		var req gateway.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}

		systemPrompt := ""
		if len(req.Messages) > 0 {
			systemPrompt = req.Messages[0].Content
		}

		var content string
		switch {
		case strings.Contains(systemPrompt, "the judge of a multi-model debate"):
			if judgeCalls.Add(1) >= 3 {
				content = "【置信度评分】\n- Invest more: 0.85\n- Status quo: 0.20\n【最终结论】\nThe case for more investment holds."
			} else {
				content = "Guests, your positions diverge on cost. Address the budget question directly."
			}
		case strings.Contains(systemPrompt, "dense digest"):
			content = "Digest of an earlier turn."
		default:
			content = "Space programs repay their cost through technological spillovers."
		}

		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			// Split into two chunks to exercise SSE reassembly.
			runes := []rune(content)
			half := len(runes) / 2
			for _, part := range []string{string(runes[:half]), string(runes[half:])} {
				chunk := gateway.StreamChunk{Choices: []gateway.StreamChoice{{Delta: gateway.Message{Content: part}}}}
				raw, _ := json.Marshal(chunk)
				fmt.Fprintf(w, "data: %s\n\n", raw)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		resp := gateway.ChatResponse{Choices: []gateway.Choice{{Message: gateway.Message{Role: "assistant", Content: content}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := gateway.NewClientWithBaseURL("test-key-123", server.URL)
	registry := models.NewRegistry([]models.Config{
		{ID: "judge", DisplayName: "Arbiter", Model: "openai/gpt-judge", Tier: models.TierStandard},
		{ID: "g1", DisplayName: "Alpha", Model: "anthropic/claude-alpha", Tier: models.TierStandard},
		{ID: "g2", DisplayName: "Beta", Model: "google/gemini-beta", Tier: models.TierFast},
	})
	store := discussion.NewMemStore()
	snk := sink.New()
	eng := engine.New(store, client, nil, registry, snk, engine.Options{})

	d := &discussion.Discussion{
		Question:    "Should we invest more in space exploration?",
		GuestModels: []string{"g1", "g2"},
		JudgeModel:  "judge",
	}
	if err := store.CreateDiscussion(d); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := eng.Start(ctx, d.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	var verdict *engine.Verdict
	rounds := 0
	for round := 1; round <= 5; round++ {
		result, err := eng.ExecuteRound(ctx, d.ID, round)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		rounds = round
		if result.Complete {
			verdict = result.Verdict
			break
		}
		// An undecided round is a judge turn plus one turn per guest.
		if len(result.Turns) != 3 {
			t.Fatalf("round %d: expected 3 turns, got %d", round, len(result.Turns))
		}
	}
	eng.WaitSummaries()

	if verdict == nil {
		t.Fatal("debate never reached a verdict")
	}
	if rounds != 3 {
		t.Errorf("expected verdict in round 3, got round %d", rounds)
	}
	if verdict.Scores["Invest more"] != 0.85 {
		t.Errorf("unexpected scores: %v", verdict.Scores)
	}
	if verdict.Conclusion != "The case for more investment holds." {
		t.Errorf("unexpected conclusion: %q", verdict.Conclusion)
	}

	got, err := store.GetDiscussion(d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != discussion.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.FinalVerdict != verdict.Conclusion {
		t.Errorf("persisted verdict = %q", got.FinalVerdict)
	}
	if got.ConfidenceScores["Status quo"] != 0.20 {
		t.Errorf("persisted scores = %v", got.ConfidenceScores)
	}

	// Host turn, two full rounds of three, final judge turn.
	turns, err := store.GetTurns(d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 8 {
		t.Errorf("expected 8 turns, got %d", len(turns))
	}
	if turns[0].Role != discussion.RoleHost {
		t.Errorf("first turn role = %q, want host", turns[0].Role)
	}
	if last := turns[len(turns)-1]; last.Role != discussion.RoleJudge {
		t.Errorf("last turn role = %q, want judge", last.Role)
	}
}

package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/quorumlabs/quorum/internal/discussion"
	"github.com/quorumlabs/quorum/internal/gateway"
	"github.com/quorumlabs/quorum/internal/models"
	"github.com/quorumlabs/quorum/internal/search"
	"github.com/quorumlabs/quorum/internal/sink"
)

const sampleVerdict = "The debate is settled.\n【置信度评分】\n- H1: 0.75\n- H2: 0.40\n【最终结论】\nDone."

type capturedCall struct {
	model string
	msgs  []gateway.Message
}

// scriptedGateway routes every generation through fn and records the calls.
type scriptedGateway struct {
	mu          sync.Mutex
	fn          func(model string, msgs []gateway.Message) (string, error)
	streamCalls []capturedCall
	genCalls    []capturedCall
}

func (g *scriptedGateway) Generate(_ context.Context, model string, msgs []gateway.Message, _ gateway.Options) (string, error) {
	g.mu.Lock()
	g.genCalls = append(g.genCalls, capturedCall{model: model, msgs: msgs})
	g.mu.Unlock()
	return g.fn(model, msgs)
}

func (g *scriptedGateway) GenerateStreaming(_ context.Context, model string, msgs []gateway.Message, _ gateway.Options, onChunk func(string)) (string, error) {
	g.mu.Lock()
	g.streamCalls = append(g.streamCalls, capturedCall{model: model, msgs: msgs})
	g.mu.Unlock()
	text, err := g.fn(model, msgs)
	if err == nil && onChunk != nil {
		onChunk(text)
	}
	return text, err
}

func (g *scriptedGateway) streamed() []capturedCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]capturedCall, len(g.streamCalls))
	copy(out, g.streamCalls)
	return out
}

// mockSearcher returns one canned result per query and records the queries.
type mockSearcher struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func (s *mockSearcher) Search(_ context.Context, query string, _ int, _ bool) (*search.Response, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &search.Response{Results: []search.Result{
		{Title: "Result for " + query, URL: "https://example.com", Snippet: "snippet about " + query},
	}}, nil
}

func testRegistry() *models.Registry {
	return models.NewRegistry([]models.Config{
		{ID: "judge", DisplayName: "Arbiter", Model: "openai/gpt-judge", Tier: models.TierStandard},
		{ID: "g1", DisplayName: "Alpha", Model: "anthropic/claude-alpha", Tier: models.TierStandard},
		{ID: "g2", DisplayName: "Beta", Model: "google/gemini-beta", Tier: models.TierFast},
	})
}

func newTestEngine(t *testing.T, gw Gateway, searcher search.Searcher) (*Engine, *discussion.MemStore, *discussion.Discussion) {
	t.Helper()
	store := discussion.NewMemStore()
	d := &discussion.Discussion{
		Question:    "Is the moon made of cheese?",
		GuestModels: []string{"g1", "g2"},
		JudgeModel:  "judge",
		Mode:        discussion.ModeDebate,
	}
	if err := store.CreateDiscussion(d); err != nil {
		t.Fatalf("CreateDiscussion: %v", err)
	}
	e := New(store, gw, searcher, testRegistry(), sink.New(), Options{})
	return e, store, d
}

func TestStartWritesHostTurn(t *testing.T) {
	gw := &scriptedGateway{fn: func(string, []gateway.Message) (string, error) { return "unused", nil }}
	e, store, d := newTestEngine(t, gw, nil)

	turn, err := e.Start(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if turn.Role != discussion.RoleHost || turn.Content != d.Question {
		t.Errorf("unexpected host turn: %+v", turn)
	}
	turns, _ := store.GetTurns(d.ID)
	if len(turns) != 1 {
		t.Errorf("expected 1 turn, got %d", len(turns))
	}
}

func TestExecuteRoundNoVerdict(t *testing.T) {
	gw := &scriptedGateway{fn: func(model string, _ []gateway.Message) (string, error) {
		switch model {
		case "openai/gpt-judge":
			return "Guests, please weigh in.", nil
		case "anthropic/claude-alpha":
			return "Alpha thinks it is rock.", nil
		default:
			return "Beta agrees with Alpha.", nil
		}
	}}
	e, store, d := newTestEngine(t, gw, nil)

	result, err := e.ExecuteRound(context.Background(), d.ID, 1)
	if err != nil {
		t.Fatalf("ExecuteRound: %v", err)
	}
	if result.Complete {
		t.Error("expected round without verdict to be incomplete")
	}
	if len(result.Turns) != 3 {
		t.Fatalf("expected 3 turns (judge + 2 guests), got %d", len(result.Turns))
	}
	if result.Turns[0].Role != discussion.RoleJudge {
		t.Errorf("expected judge first, got %s", result.Turns[0].Role)
	}
	if result.Turns[1].ModelName != "Alpha" || result.Turns[2].ModelName != "Beta" {
		t.Errorf("guests out of configured order: %+v", result.Turns[1:])
	}

	// Round 1 judge gets the opening instruction as the final message.
	calls := gw.streamed()
	judgeMsgs := calls[0].msgs
	if got := judgeMsgs[len(judgeMsgs)-1].Content; got != judgeInstructions[discussion.ModeDebate][PhaseOpening] {
		t.Errorf("expected opening instruction, got %q", got)
	}

	// The second guest's context must include the first guest's turn.
	betaMsgs := calls[2].msgs
	found := false
	for _, m := range betaMsgs {
		if strings.Contains(m.Content, "Alpha thinks it is rock.") {
			found = true
		}
	}
	if !found {
		t.Error("second guest's context is missing the first guest's turn")
	}

	st := e.ExecutionState(d.ID)
	if st.Executing || st.Complete || st.Err != "" {
		t.Errorf("unexpected state after round: %+v", st)
	}
	turns, _ := store.GetTurns(d.ID)
	if len(turns) != 3 {
		t.Errorf("expected 3 persisted turns, got %d", len(turns))
	}
}

func TestExecuteRoundVerdictSkipsGuests(t *testing.T) {
	gw := &scriptedGateway{fn: func(model string, _ []gateway.Message) (string, error) {
		if model == "openai/gpt-judge" {
			return sampleVerdict, nil
		}
		t.Errorf("guest %s must not run after a verdict", model)
		return "", nil
	}}
	e, store, d := newTestEngine(t, gw, nil)

	result, err := e.ExecuteRound(context.Background(), d.ID, 3)
	if err != nil {
		t.Fatalf("ExecuteRound: %v", err)
	}
	if !result.Complete || result.Verdict == nil {
		t.Fatal("expected completed round with verdict")
	}
	if len(result.Turns) != 1 {
		t.Errorf("expected only the judge turn, got %d", len(result.Turns))
	}
	if result.Verdict.Scores["H1"] != 0.75 || result.Verdict.Scores["H2"] != 0.40 {
		t.Errorf("unexpected scores: %v", result.Verdict.Scores)
	}
	if result.Verdict.Conclusion != "Done." {
		t.Errorf("expected conclusion 'Done.', got %q", result.Verdict.Conclusion)
	}

	got, _ := store.GetDiscussion(d.ID)
	if got.Status != discussion.StatusCompleted {
		t.Errorf("expected status completed, got %q", got.Status)
	}
	if got.FinalVerdict != "Done." || got.ConfidenceScores["H1"] != 0.75 {
		t.Errorf("verdict not persisted: %+v", got)
	}

	st := e.ExecutionState(d.ID)
	if !st.Complete || st.Executing {
		t.Errorf("unexpected state: %+v", st)
	}
}

func TestExecuteRoundMutualExclusion(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	gw := &scriptedGateway{fn: func(model string, _ []gateway.Message) (string, error) {
		once.Do(func() {
			close(entered)
			<-release
		})
		return "some output", nil
	}}
	e, store, d := newTestEngine(t, gw, nil)

	done := make(chan error, 1)
	go func() {
		_, err := e.ExecuteRound(context.Background(), d.ID, 1)
		done <- err
	}()

	<-entered
	if _, err := e.ExecuteRound(context.Background(), d.ID, 1); !errors.Is(err, ErrRoundExecuting) {
		t.Errorf("expected ErrRoundExecuting, got %v", err)
	}
	// The rejected call must not have written anything.
	if turns, _ := store.GetTurns(d.ID); len(turns) != 0 {
		t.Errorf("rejected round mutated turns: %d", len(turns))
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first round failed: %v", err)
	}
	if turns, _ := store.GetTurns(d.ID); len(turns) != 3 {
		t.Errorf("expected 3 turns from the accepted round, got %d", len(turns))
	}
}

func TestExecuteRoundErrorResetsFlag(t *testing.T) {
	boom := errors.New("provider exploded")
	failing := true
	gw := &scriptedGateway{fn: func(string, []gateway.Message) (string, error) {
		if failing {
			return "", boom
		}
		return "fine now", nil
	}}
	e, _, d := newTestEngine(t, gw, nil)

	_, err := e.ExecuteRound(context.Background(), d.ID, 1)
	if !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
	st := e.ExecutionState(d.ID)
	if st.Executing {
		t.Error("executing flag not reset after failure")
	}
	if !strings.Contains(st.Err, "provider exploded") {
		t.Errorf("expected error recorded in state, got %q", st.Err)
	}

	// A retry of the same round must now be accepted.
	failing = false
	if _, err := e.ExecuteRound(context.Background(), d.ID, 1); err != nil {
		t.Fatalf("retry rejected: %v", err)
	}
}

func TestInvokeGuestUnknownModel(t *testing.T) {
	gw := &scriptedGateway{fn: func(string, []gateway.Message) (string, error) { return "x", nil }}
	e, store, d := newTestEngine(t, gw, nil)

	_, err := e.InvokeGuest(context.Background(), d.ID, "nonexistent")
	if !errors.Is(err, ErrModelNotConfigured) {
		t.Fatalf("expected ErrModelNotConfigured, got %v", err)
	}
	if turns, _ := store.GetTurns(d.ID); len(turns) != 0 {
		t.Error("failed invoke must not write a turn")
	}
}

func TestJudgeInstructionFollowsPhase(t *testing.T) {
	gw := &scriptedGateway{fn: func(string, []gateway.Message) (string, error) { return "no verdict here", nil }}
	e, _, d := newTestEngine(t, gw, nil)

	tests := []struct {
		round int
		want  string
	}{
		{1, judgeInstructions[discussion.ModeDebate][PhaseOpening]},
		{3, judgeInstructions[discussion.ModeDebate][PhaseMidRound]},
		{7, judgeInstructions[discussion.ModeDebate][PhaseLateRound]},
	}
	for _, tt := range tests {
		if _, err := e.ExecuteRound(context.Background(), d.ID, tt.round); err != nil {
			t.Fatalf("round %d: %v", tt.round, err)
		}
	}

	calls := gw.streamed()
	// Judge calls are at indices 0, 3, 6 (judge + two guests per round).
	for i, tt := range tests {
		msgs := calls[i*3].msgs
		if got := msgs[len(msgs)-1].Content; got != tt.want {
			t.Errorf("round %d: expected %q, got %q", tt.round, tt.want, got)
		}
	}
}

func TestRequestFinalVerdict(t *testing.T) {
	gw := &scriptedGateway{fn: func(string, []gateway.Message) (string, error) { return sampleVerdict, nil }}
	e, store, d := newTestEngine(t, gw, nil)

	_, verdict, err := e.RequestFinalVerdict(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("RequestFinalVerdict: %v", err)
	}
	if verdict == nil {
		t.Fatal("expected verdict")
	}

	calls := gw.streamed()
	msgs := calls[0].msgs
	if got := msgs[len(msgs)-1].Content; got != finalVerdictInstructions[discussion.ModeDebate] {
		t.Errorf("expected forcing instruction, got %q", got)
	}
	got, _ := store.GetDiscussion(d.ID)
	if got.Status != discussion.StatusCompleted {
		t.Errorf("expected completed status, got %q", got.Status)
	}
}

func TestSummaryCachedAndReused(t *testing.T) {
	longAnswer := strings.Repeat("Alpha presents detailed evidence. ", 60) // > summarizeMinChars
	gw := &scriptedGateway{fn: func(model string, msgs []gateway.Message) (string, error) {
		if model == "google/gemini-beta" && len(msgs) == 2 && strings.Contains(msgs[0].Content, "dense digest") {
			return "compact digest of the evidence", nil
		}
		if model == "anthropic/claude-alpha" {
			return longAnswer, nil
		}
		return "short reply", nil
	}}
	e, _, d := newTestEngine(t, gw, nil)

	if _, err := e.ExecuteRound(context.Background(), d.ID, 1); err != nil {
		t.Fatalf("round 1: %v", err)
	}
	e.WaitSummaries()

	if digest, ok := e.summaries.get(d.ID, firstGuestTurnID(t, e, d.ID)); !ok || digest != "compact digest of the evidence" {
		t.Fatalf("expected cached digest, got %q ok=%v", digest, ok)
	}

	// Round 2: by the second guest's turn, the round-1 guest turn has aged
	// out of the full-text window and must appear as its cached digest.
	if _, err := e.ExecuteRound(context.Background(), d.ID, 2); err != nil {
		t.Fatalf("round 2: %v", err)
	}
	calls := gw.streamed()
	betaMsgs := calls[5].msgs
	found := false
	for _, m := range betaMsgs {
		if strings.Contains(m.Content, summaryNotePrefix+"compact digest of the evidence") {
			found = true
		}
	}
	if !found {
		t.Error("round 2 context does not reuse the cached digest")
	}
}

func firstGuestTurnID(t *testing.T, e *Engine, discussionID string) string {
	t.Helper()
	turns, err := e.store.GetTurns(discussionID)
	if err != nil {
		t.Fatalf("GetTurns: %v", err)
	}
	for _, turn := range turns {
		if turn.Role == discussion.RoleGuest {
			return turn.ID
		}
	}
	t.Fatal("no guest turn found")
	return ""
}

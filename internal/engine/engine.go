// Package engine implements the round orchestration core: turn sequencing,
// context construction, token budgeting, search-augmented generation,
// summarization and verdict detection.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/quorumlabs/quorum/internal/discussion"
	"github.com/quorumlabs/quorum/internal/gateway"
	"github.com/quorumlabs/quorum/internal/models"
	"github.com/quorumlabs/quorum/internal/search"
	"github.com/quorumlabs/quorum/internal/sink"
)

// Sentinel errors surfaced to the API layer.
var (
	ErrRoundExecuting     = errors.New("engine: round already executing")
	ErrModelNotConfigured = errors.New("engine: model not configured")
)

// Gateway is the provider capability consumed by the engine.
type Gateway interface {
	Generate(ctx context.Context, model string, messages []gateway.Message, opts gateway.Options) (string, error)
	GenerateStreaming(ctx context.Context, model string, messages []gateway.Message, opts gateway.Options, onChunk func(string)) (string, error)
}

// ExecState is the transient per-discussion execution state. It is never
// persisted; a process restart simply allows a new round to start.
type ExecState struct {
	Executing    bool   `json:"isExecuting"`
	CurrentRound int    `json:"currentRound"`
	Complete     bool   `json:"isComplete"`
	Err          string `json:"error,omitempty"`
}

// Options are the engine tunables. Zero values select the defaults.
type Options struct {
	RecentFullTurns  int     // turns kept at full length in context (default 2)
	SearchIterations int     // max search-augmentation iterations (default 2)
	Temperature      float64 // generation temperature (default 0.7)
	MaxTokens        int     // output token cap per generation (default 4096)
	FetchPages       bool    // fetch page excerpts for search hits
}

func (o Options) withDefaults() Options {
	if o.RecentFullTurns <= 0 {
		o.RecentFullTurns = 2
	}
	if o.SearchIterations <= 0 {
		o.SearchIterations = 2
	}
	if o.Temperature == 0 {
		o.Temperature = 0.7
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4096
	}
	return o
}

// RoundResult is the outcome of one ExecuteRound call.
type RoundResult struct {
	Round    int               `json:"round"`
	Turns    []discussion.Turn `json:"turns"`
	Complete bool              `json:"complete"`
	Verdict  *Verdict          `json:"verdict,omitempty"`
}

// Engine drives debate rounds. One instance serves all discussions of a
// process; all mutable state is owned here, keyed by discussion id.
type Engine struct {
	store    discussion.Store
	gateway  Gateway
	searcher search.Searcher
	registry *models.Registry
	sink     *sink.Sink
	parser   VerdictParser
	opts     Options

	mu     sync.Mutex
	states map[string]*ExecState

	summaries *summaryCache
	tasks     sync.WaitGroup
}

// New creates an Engine. searcher may be nil when search is unavailable.
func New(store discussion.Store, gw Gateway, searcher search.Searcher, registry *models.Registry, snk *sink.Sink, opts Options) *Engine {
	return &Engine{
		store:     store,
		gateway:   gw,
		searcher:  searcher,
		registry:  registry,
		sink:      snk,
		parser:    MarkerParser{},
		opts:      opts.withDefaults(),
		states:    make(map[string]*ExecState),
		summaries: newSummaryCache(),
	}
}

// SetVerdictParser swaps the verdict detection strategy.
func (e *Engine) SetVerdictParser(p VerdictParser) { e.parser = p }

// ExecutionState returns a copy of the discussion's execution state.
func (e *Engine) ExecutionState(discussionID string) ExecState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[discussionID]; ok {
		return *st
	}
	return ExecState{}
}

// WaitSummaries blocks until all detached summarization tasks have finished.
// Used on shutdown and in tests.
func (e *Engine) WaitSummaries() { e.tasks.Wait() }

// Start writes the initiating host turn carrying the discussion question.
// Duplicate-start deduplication is the caller's responsibility.
func (e *Engine) Start(ctx context.Context, discussionID string) (discussion.Turn, error) {
	d, err := e.store.GetDiscussion(discussionID)
	if err != nil {
		return discussion.Turn{}, fmt.Errorf("engine: %w", err)
	}
	turn, err := e.store.AppendTurn(discussion.Turn{
		DiscussionID: d.ID,
		Role:         discussion.RoleHost,
		Content:      d.Question,
	})
	if err != nil {
		return discussion.Turn{}, fmt.Errorf("engine: %w", err)
	}
	e.sink.Log(d.ID, sink.LevelInfo, "engine", "discussion started", nil)
	return turn, nil
}

// tryAcquire flips the per-discussion execution flag. This is the single
// mutual-exclusion point: it fails without any state mutation when a round
// is already in flight.
func (e *Engine) tryAcquire(discussionID string, round int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[discussionID]
	if !ok {
		st = &ExecState{}
		e.states[discussionID] = st
	}
	if st.Executing {
		return false
	}
	st.Executing = true
	st.CurrentRound = round
	st.Err = ""
	return true
}

func (e *Engine) release(discussionID string, complete bool, errText string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.states[discussionID]
	st.Executing = false
	if complete {
		st.Complete = true
	}
	st.Err = errText
}

// ExecuteRound runs one full round: a judge turn, then — unless the judge
// delivered a verdict — every configured guest strictly in order. Rejects
// with ErrRoundExecuting when a round for this discussion is in flight.
func (e *Engine) ExecuteRound(ctx context.Context, discussionID string, round int) (*RoundResult, error) {
	if !e.tryAcquire(discussionID, round) {
		return nil, ErrRoundExecuting
	}

	result, err := e.runRound(ctx, discussionID, round)
	if err != nil {
		e.release(discussionID, false, err.Error())
		e.sink.Log(discussionID, sink.LevelError, "engine", "round aborted", map[string]any{"round": round, "error": err.Error()})
		return nil, err
	}
	e.release(discussionID, result.Complete, "")
	e.sink.Emit(discussionID, sink.EventRoundComplete, map[string]any{"round": round, "complete": result.Complete})
	return result, nil
}

func (e *Engine) runRound(ctx context.Context, discussionID string, round int) (*RoundResult, error) {
	d, err := e.store.GetDiscussion(discussionID)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	result := &RoundResult{Round: round}

	phase := phaseForRound(round)
	e.sink.Log(d.ID, sink.LevelInfo, "engine", "round started", map[string]any{"round": round, "phase": phase.String()})

	judgeTurn, verdict, err := e.judgeTurn(ctx, d, judgeInstruction(d.Mode, phase))
	if err != nil {
		return nil, err
	}
	result.Turns = append(result.Turns, judgeTurn)

	if verdict != nil {
		result.Complete = true
		result.Verdict = verdict
		return result, nil
	}

	// Guests run strictly sequentially: each one's context must include the
	// turns of the guests before it in this round.
	for _, guestID := range d.GuestModels {
		turn, err := e.guestTurn(ctx, d, guestID)
		if err != nil {
			return nil, err
		}
		result.Turns = append(result.Turns, turn)
	}
	return result, nil
}

// InvokeJudge runs a single judge turn outside the round wrapper. The
// instruction phase is derived from the number of judge turns already taken.
func (e *Engine) InvokeJudge(ctx context.Context, discussionID string) (discussion.Turn, *Verdict, error) {
	d, err := e.store.GetDiscussion(discussionID)
	if err != nil {
		return discussion.Turn{}, nil, fmt.Errorf("engine: %w", err)
	}
	turns, err := e.store.GetTurns(d.ID)
	if err != nil {
		return discussion.Turn{}, nil, fmt.Errorf("engine: %w", err)
	}
	round := countRole(turns, discussion.RoleJudge) + 1
	return e.judgeTurn(ctx, d, judgeInstruction(d.Mode, phaseForRound(round)))
}

// InvokeGuest runs a single guest turn outside the round wrapper.
func (e *Engine) InvokeGuest(ctx context.Context, discussionID, modelID string) (discussion.Turn, error) {
	d, err := e.store.GetDiscussion(discussionID)
	if err != nil {
		return discussion.Turn{}, fmt.Errorf("engine: %w", err)
	}
	return e.guestTurn(ctx, d, modelID)
}

// RequestFinalVerdict invokes the judge with a forcing instruction demanding
// an immediate conclusion regardless of round count.
func (e *Engine) RequestFinalVerdict(ctx context.Context, discussionID string) (discussion.Turn, *Verdict, error) {
	d, err := e.store.GetDiscussion(discussionID)
	if err != nil {
		return discussion.Turn{}, nil, fmt.Errorf("engine: %w", err)
	}
	return e.judgeTurn(ctx, d, finalVerdictInstruction(d.Mode))
}

func (e *Engine) judgeTurn(ctx context.Context, d *discussion.Discussion, instruction string) (discussion.Turn, *Verdict, error) {
	cfg, ok := e.registry.Get(d.JudgeModel)
	if !ok {
		return discussion.Turn{}, nil, fmt.Errorf("%w: %q", ErrModelNotConfigured, d.JudgeModel)
	}

	turn, text, err := e.runTurn(ctx, d, discussion.RoleJudge, cfg, instruction)
	if err != nil {
		return discussion.Turn{}, nil, err
	}

	verdict := e.parser.Parse(text)
	if verdict != nil {
		if err := e.persistVerdict(d.ID, verdict); err != nil {
			return discussion.Turn{}, nil, err
		}
		e.markComplete(d.ID)
		e.sink.Log(d.ID, sink.LevelInfo, "engine", "verdict reached", map[string]any{"scores": verdict.Scores})
	}
	return turn, verdict, nil
}

func (e *Engine) guestTurn(ctx context.Context, d *discussion.Discussion, modelID string) (discussion.Turn, error) {
	cfg, ok := e.registry.Get(modelID)
	if !ok {
		return discussion.Turn{}, fmt.Errorf("%w: %q", ErrModelNotConfigured, modelID)
	}
	turn, _, err := e.runTurn(ctx, d, discussion.RoleGuest, cfg, guestInstruction(d.Mode))
	return turn, err
}

// runTurn is the single-turn pipeline: fresh history reload, context build,
// token budgeting, search-augmented generation, persistence, detached
// summarization.
func (e *Engine) runTurn(ctx context.Context, d *discussion.Discussion, role discussion.Role, cfg models.Config, instruction string) (discussion.Turn, string, error) {
	// Always re-read history: turns may have been appended concurrently and
	// the store is the sole sequencing authority.
	turns, err := e.store.GetTurns(d.ID)
	if err != nil {
		return discussion.Turn{}, "", fmt.Errorf("engine: %w", err)
	}

	msgs := e.buildContext(d, turns, role, cfg.DisplayName)
	msgs = append(msgs, gateway.Message{Role: gateway.RoleUser, Content: instruction})
	msgs = trimToBudget(msgs, providerBudget(cfg.Provider()))

	e.sink.Emit(d.ID, sink.EventTurnStart, map[string]any{"role": string(role), "model": cfg.DisplayName})

	text, err := e.generateWithSearch(ctx, d, cfg, msgs, role)
	if err != nil {
		e.sink.Log(d.ID, sink.LevelError, "gateway", "generation failed", map[string]any{"model": cfg.ID, "error": err.Error()})
		return discussion.Turn{}, "", fmt.Errorf("engine: %s turn: %w", role, err)
	}

	turn, err := e.store.AppendTurn(discussion.Turn{
		DiscussionID: d.ID,
		Role:         role,
		ModelName:    cfg.DisplayName,
		Content:      text,
	})
	if err != nil {
		return discussion.Turn{}, "", fmt.Errorf("engine: %w", err)
	}

	e.sink.Emit(d.ID, sink.EventTurnEnd, map[string]any{"role": string(role), "model": cfg.DisplayName, "content": text, "turnId": turn.ID})
	e.sink.Log(d.ID, sink.LevelInfo, "engine", "turn completed", map[string]any{"role": string(role), "model": cfg.ID, "chars": len(text)})

	// Summarization runs detached: the turn is already durable and the digest
	// only matters for later rounds.
	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		e.summarizeTurn(d, turn)
	}()

	return turn, text, nil
}

func (e *Engine) persistVerdict(discussionID string, v *Verdict) error {
	completed := discussion.StatusCompleted
	err := e.store.UpdateDiscussion(discussionID, discussion.Update{
		Status:           &completed,
		FinalVerdict:     &v.Conclusion,
		ConfidenceScores: v.Scores,
	})
	if err != nil {
		return fmt.Errorf("engine: persisting verdict: %w", err)
	}
	return nil
}

func (e *Engine) markComplete(discussionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[discussionID]
	if !ok {
		st = &ExecState{}
		e.states[discussionID] = st
	}
	st.Complete = true
}

func countRole(turns []discussion.Turn, role discussion.Role) int {
	n := 0
	for _, t := range turns {
		if t.Role == role {
			n++
		}
	}
	return n
}

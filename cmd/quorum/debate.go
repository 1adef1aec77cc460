package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quorumlabs/quorum/internal/config"
	"github.com/quorumlabs/quorum/internal/discussion"
	"github.com/quorumlabs/quorum/internal/engine"
	"github.com/quorumlabs/quorum/internal/gateway"
	"github.com/quorumlabs/quorum/internal/models"
	"github.com/quorumlabs/quorum/internal/output"
	"github.com/quorumlabs/quorum/internal/search"
	"github.com/quorumlabs/quorum/internal/sink"
)

func newDebateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debate",
		Short: "Run a one-shot debate in the terminal",
		RunE:  runDebate,
	}
	cmd.Flags().String("question", "", "Question to debate (required)")
	cmd.Flags().String("judge", "", "Judge model id (default: first configured model)")
	cmd.Flags().StringSlice("guests", nil, "Guest model ids (default: remaining configured models, up to 4)")
	cmd.Flags().String("mode", string(discussion.ModeDebate), "Discussion mode: debate or document-collaboration")
	cmd.Flags().Bool("search", false, "Allow models to request web searches")
	cmd.Flags().Int("rounds", 0, "Round ceiling (overrides QUORUM_MAX_ROUNDS)")
	cmd.MarkFlagRequired("question")
	return cmd
}

func runDebate(cmd *cobra.Command, args []string) error {
	question, _ := cmd.Flags().GetString("question")
	judgeID, _ := cmd.Flags().GetString("judge")
	guestIDs, _ := cmd.Flags().GetStringSlice("guests")
	mode, _ := cmd.Flags().GetString("mode")
	searchEnabled, _ := cmd.Flags().GetBool("search")
	rounds, _ := cmd.Flags().GetInt("rounds")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if rounds > 0 {
		cfg.MaxRounds = rounds
	}

	registry := models.NewRegistry(cfg.Models)
	all := registry.All()
	if len(all) == 0 {
		return fmt.Errorf("no models configured")
	}
	if judgeID == "" {
		judgeID = all[0].ID
	}
	if len(guestIDs) == 0 {
		for _, m := range all {
			if m.ID == judgeID {
				continue
			}
			guestIDs = append(guestIDs, m.ID)
			if len(guestIDs) == 4 {
				break
			}
		}
	}
	if len(guestIDs) == 0 {
		return fmt.Errorf("no guest models available; pass --guests")
	}
	for _, id := range append([]string{judgeID}, guestIDs...) {
		if _, ok := registry.Get(id); !ok {
			return fmt.Errorf("model %q is not configured", id)
		}
	}

	switch discussion.Mode(mode) {
	case discussion.ModeDebate, discussion.ModeDocument:
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	if searchEnabled && cfg.SearchURL == "" {
		return fmt.Errorf("--search requires QUORUM_SEARCH_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store := discussion.NewMemStore()
	snk := sink.New()
	var searcher search.Searcher
	if cfg.SearchURL != "" {
		searcher = search.NewClient(cfg.SearchURL)
	}
	eng := engine.New(store, gateway.NewClient(cfg.APIKey), searcher, registry, snk, engine.Options{
		RecentFullTurns:  cfg.RecentFullTurns,
		SearchIterations: cfg.SearchIterations,
		FetchPages:       cfg.FetchPages,
	})
	defer eng.WaitSummaries()

	d := &discussion.Discussion{
		Question:      question,
		GuestModels:   guestIDs,
		JudgeModel:    judgeID,
		Mode:          discussion.Mode(mode),
		SearchEnabled: searchEnabled,
	}
	if err := store.CreateDiscussion(d); err != nil {
		return err
	}

	guestNames := make([]string, len(guestIDs))
	for i, id := range guestIDs {
		m, _ := registry.Get(id)
		guestNames[i] = m.DisplayName
	}
	judge, _ := registry.Get(judgeID)
	fmt.Printf("Question: %s\n", question)
	fmt.Printf("Judge: %s | Guests: %s | Rounds: up to %d\n", judge.DisplayName, strings.Join(guestNames, ", "), cfg.MaxRounds)

	hostTurn, err := eng.Start(ctx, d.ID)
	if err != nil {
		return err
	}
	output.PrintTurn(hostTurn)

	for round := 1; round <= cfg.MaxRounds; round++ {
		output.PrintRound(round)
		result, err := eng.ExecuteRound(ctx, d.ID, round)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return fmt.Errorf("debate interrupted")
			}
			return err
		}
		for _, turn := range result.Turns {
			output.PrintTurn(turn)
		}
		if result.Complete {
			output.PrintVerdict(result.Verdict)
			return nil
		}
	}

	// Ceiling reached without a verdict; force one.
	fmt.Println("\nRound ceiling reached, requesting a final verdict.")
	turn, verdict, err := eng.RequestFinalVerdict(ctx, d.ID)
	if err != nil {
		return err
	}
	output.PrintTurn(turn)
	output.PrintVerdict(verdict)
	return nil
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/spf13/cobra"

	"github.com/quorumlabs/quorum/internal/config"
	"github.com/quorumlabs/quorum/internal/discussion"
	"github.com/quorumlabs/quorum/internal/engine"
	"github.com/quorumlabs/quorum/internal/gateway"
	"github.com/quorumlabs/quorum/internal/models"
	"github.com/quorumlabs/quorum/internal/search"
	"github.com/quorumlabs/quorum/internal/server"
	"github.com/quorumlabs/quorum/internal/sink"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and websocket server",
		RunE:  runServe,
	}
	cmd.Flags().String("listen", "", "Listen address (overrides QUORUM_LISTEN)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
		cfg.ListenAddr = addr
	}

	registry := models.NewRegistry(cfg.Models)
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
	srv := server.New(store, eng, snk, registry, cfg.MaxRounds)

	app := fiber.New(fiber.Config{AppName: "quorum"})
	app.Use(logger.New())
	srv.Register(app)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Println("shutting down")
		_ = app.Shutdown()
		eng.WaitSummaries()
	}()

	log.Printf("quorum server listening on %s", cfg.ListenAddr)
	return app.Listen(cfg.ListenAddr)
}

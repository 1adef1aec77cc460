// Package server exposes the discussion engine over HTTP and websockets.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/quorumlabs/quorum/internal/discussion"
	"github.com/quorumlabs/quorum/internal/engine"
	"github.com/quorumlabs/quorum/internal/models"
	"github.com/quorumlabs/quorum/internal/sink"
)

const (
	maxGuests        = 4
	defaultThreshold = 0.7
)

// Server wires the engine, store and sink into fiber handlers.
type Server struct {
	store     discussion.Store
	engine    *engine.Engine
	sink      *sink.Sink
	registry  *models.Registry
	maxRounds int
}

// New creates a Server. maxRounds caps how many rounds a discussion may run.
func New(store discussion.Store, eng *engine.Engine, snk *sink.Sink, registry *models.Registry, maxRounds int) *Server {
	return &Server{
		store:     store,
		engine:    eng,
		sink:      snk,
		registry:  registry,
		maxRounds: maxRounds,
	}
}

// Register mounts all routes onto the fiber app.
func (s *Server) Register(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/models", s.listModels)
	api.Post("/discussions", s.createDiscussion)
	api.Get("/discussions", s.listDiscussions)
	api.Get("/discussions/:id", s.getDiscussion)
	api.Get("/discussions/:id/turns", s.getTurns)
	api.Get("/discussions/:id/state", s.getState)
	api.Get("/discussions/:id/logs", s.getLogs)
	api.Delete("/discussions/:id/logs", s.clearLogs)
	api.Post("/discussions/:id/start", s.startDiscussion)
	api.Post("/discussions/:id/rounds", s.executeRound)
	api.Post("/discussions/:id/judge", s.invokeJudge)
	api.Post("/discussions/:id/guests/:model", s.invokeGuest)
	api.Post("/discussions/:id/verdict", s.requestVerdict)

	app.Get("/ws/:id", s.wsUpgrade, websocket.New(s.handleWS))
}

// App builds a fiber app with all routes mounted.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{AppName: "quorum"})
	s.Register(app)
	return app
}

// apiError maps engine and store errors to HTTP statuses.
func apiError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, discussion.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, engine.ErrRoundExecuting):
		status = fiber.StatusConflict
	case errors.Is(err, engine.ErrModelNotConfigured):
		status = fiber.StatusBadRequest
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, format string, args ...any) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": fmt.Sprintf(format, args...)})
}

func (s *Server) listModels(c *fiber.Ctx) error {
	return c.JSON(s.registry.All())
}

type createDiscussionRequest struct {
	Question            string                  `json:"question"`
	GuestModels         []string                `json:"guestModels"`
	JudgeModel          string                  `json:"judgeModel"`
	Mode                discussion.Mode         `json:"mode"`
	ConfidenceThreshold float64                 `json:"confidenceThreshold"`
	SearchEnabled       bool                    `json:"searchEnabled"`
	Attachments         []discussion.Attachment `json:"attachments"`
}

func (s *Server) createDiscussion(c *fiber.Ctx) error {
	var req createDiscussionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: %v", err)
	}
	if req.Question == "" {
		return badRequest(c, "question is required")
	}
	if len(req.GuestModels) == 0 || len(req.GuestModels) > maxGuests {
		return badRequest(c, "guestModels must have 1 to %d entries", maxGuests)
	}
	if req.JudgeModel == "" {
		return badRequest(c, "judgeModel is required")
	}
	for _, id := range append([]string{req.JudgeModel}, req.GuestModels...) {
		if _, ok := s.registry.Get(id); !ok {
			return badRequest(c, "model %q is not configured", id)
		}
	}
	switch req.Mode {
	case "":
		req.Mode = discussion.ModeDebate
	case discussion.ModeDebate, discussion.ModeDocument:
	default:
		return badRequest(c, "unknown mode %q", req.Mode)
	}
	if req.ConfidenceThreshold == 0 {
		req.ConfidenceThreshold = defaultThreshold
	}
	if req.ConfidenceThreshold < 0 || req.ConfidenceThreshold > 1 {
		return badRequest(c, "confidenceThreshold must be in [0,1]")
	}

	d := &discussion.Discussion{
		Question:            req.Question,
		GuestModels:         req.GuestModels,
		JudgeModel:          req.JudgeModel,
		Mode:                req.Mode,
		ConfidenceThreshold: req.ConfidenceThreshold,
		SearchEnabled:       req.SearchEnabled,
		Attachments:         req.Attachments,
	}
	if err := s.store.CreateDiscussion(d); err != nil {
		return apiError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(d)
}

func (s *Server) listDiscussions(c *fiber.Ctx) error {
	ds, err := s.store.ListDiscussions()
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(ds)
}

func (s *Server) getDiscussion(c *fiber.Ctx) error {
	d, err := s.store.GetDiscussion(c.Params("id"))
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(d)
}

func (s *Server) getTurns(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := s.store.GetDiscussion(id); err != nil {
		return apiError(c, err)
	}
	turns, err := s.store.GetTurns(id)
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(turns)
}

func (s *Server) getState(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := s.store.GetDiscussion(id); err != nil {
		return apiError(c, err)
	}
	return c.JSON(s.engine.ExecutionState(id))
}

func (s *Server) getLogs(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := s.store.GetDiscussion(id); err != nil {
		return apiError(c, err)
	}
	return c.JSON(s.sink.Logs(id))
}

func (s *Server) clearLogs(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := s.store.GetDiscussion(id); err != nil {
		return apiError(c, err)
	}
	s.sink.Clear(id)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) startDiscussion(c *fiber.Ctx) error {
	turn, err := s.engine.Start(c.Context(), c.Params("id"))
	if err != nil {
		return apiError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(turn)
}

// nextRound derives the upcoming round number from the transcript. Each
// round opens with exactly one judge turn, so the count of judge turns is
// the count of rounds started.
func (s *Server) nextRound(id string) (int, error) {
	turns, err := s.store.GetTurns(id)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range turns {
		if t.Role == discussion.RoleJudge {
			n++
		}
	}
	return n + 1, nil
}

// executeRound kicks off a full round in the background and returns 202.
// Progress is observable via the state endpoint and the websocket stream.
func (s *Server) executeRound(c *fiber.Ctx) error {
	id := c.Params("id")
	d, err := s.store.GetDiscussion(id)
	if err != nil {
		return apiError(c, err)
	}
	if d.Status == discussion.StatusCompleted {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "discussion is already completed"})
	}
	if st := s.engine.ExecutionState(id); st.Executing {
		return apiError(c, engine.ErrRoundExecuting)
	}
	round, err := s.nextRound(id)
	if err != nil {
		return apiError(c, err)
	}
	if round > s.maxRounds {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": fmt.Sprintf("round limit of %d reached", s.maxRounds),
		})
	}

	go func() {
		// Detached from the request; the round must survive the client
		// going away.
		if _, err := s.engine.ExecuteRound(context.Background(), id, round); err != nil {
			s.sink.Emit(id, sink.EventError, map[string]any{"error": err.Error()})
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"round": round})
}

func (s *Server) invokeJudge(c *fiber.Ctx) error {
	turn, verdict, err := s.engine.InvokeJudge(c.Context(), c.Params("id"))
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(fiber.Map{"turn": turn, "verdict": verdict})
}

func (s *Server) invokeGuest(c *fiber.Ctx) error {
	turn, err := s.engine.InvokeGuest(c.Context(), c.Params("id"), c.Params("model"))
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(turn)
}

func (s *Server) requestVerdict(c *fiber.Ctx) error {
	turn, verdict, err := s.engine.RequestFinalVerdict(c.Context(), c.Params("id"))
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(fiber.Map{"turn": turn, "verdict": verdict})
}

func (s *Server) wsUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if _, err := s.store.GetDiscussion(c.Params("id")); err != nil {
		return apiError(c, err)
	}
	return c.Next()
}

// handleWS streams live discussion events to a spectator until either side
// closes the connection.
func (s *Server) handleWS(c *websocket.Conn) {
	defer c.Close()

	id := c.Params("id")
	events, cancel := s.sink.Subscribe(id)
	defer cancel()

	// Reads are only used to detect the peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

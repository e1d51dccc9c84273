package main

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sicko7947/waitflow"
	"github.com/sicko7947/waitflow/example/approval"
	"github.com/sicko7947/waitflow/realtime"
	"github.com/sicko7947/waitflow/realtime/sse"
)

const defaultListLimit = 50

// server exposes the approval workflow over HTTP. Create and choice
// requests are acknowledged before the workflow runs; progress is
// delivered over the event stream.
type server struct {
	orch   *approval.Orchestrator
	stream *sse.Handler
	logger zerolog.Logger

	// background runs outlive the request but not the server
	ctx context.Context
	wg  sync.WaitGroup
}

func newServer(ctx context.Context, orch *approval.Orchestrator, hub *realtime.Hub, cfg RealtimeConfig, logger zerolog.Logger) *server {
	return &server{
		orch: orch,
		stream: sse.New(hub, approval.ChannelPath,
			sse.WithLogger(logger),
			sse.WithHeartbeat(cfg.HeartbeatInterval),
		),
		logger: logger,
		ctx:    ctx,
	}
}

// registerRoutes registers all HTTP routes
func (s *server) registerRoutes(app *fiber.App) {
	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "waitflow-approval",
			"version": "1.0.0",
		})
	})

	// Realtime
	app.Post("/connect", s.stream.Connect)
	s.stream.Register(app.Group("/workflow/stream"))

	// Workflow endpoints
	wf := app.Group("/workflow")
	wf.Post("/create", s.handleCreate)
	wf.Get("/:id/state", s.handleGetState)
	wf.Post("/:id/choice", s.handleChoice)

	app.Get("/api/workflows", s.handleList)
}

// wait blocks until background runs have returned
func (s *server) wait() {
	s.wg.Wait()
}

func (s *server) background(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// handleCreate admits an approval and runs it in the background. Admission
// failures are reported on the response.
func (s *server) handleCreate(c fiber.Ctx) error {
	var req approval.SubmitRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if req.WorkflowID == "" {
		req.WorkflowID = uuid.NewString()
	}

	inst, err := s.orch.Create(c.Context(), req)
	if err != nil {
		return s.fail(c, err)
	}
	id := inst.ID

	s.background(func(ctx context.Context) {
		if _, err := s.orch.Run(ctx, id); err != nil {
			s.logger.Error().Err(err).Str("instance_id", id).Msg("Approval run ended with error")
		}
	})

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"workflowId": id,
		"status":     "started",
		"message":    "Approval workflow started",
	})
}

// handleGetState returns the instance snapshot
func (s *server) handleGetState(c fiber.Ctx) error {
	inst, err := s.orch.GetState(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}

	body := fiber.Map{
		"instance": inst,
		"history":  approval.History(inst),
	}
	if res, ok := approval.Result(inst); ok {
		body["finalResult"] = res
	}
	return c.JSON(body)
}

// handleChoice validates the choice and resumes the instance in the
// background
func (s *server) handleChoice(c fiber.Ctx) error {
	// Params alias the request buffer, which is reused after return
	id := strings.Clone(c.Params("id"))

	var req approval.ChoiceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if !approval.ValidChoice(req.Choice) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid choice",
		})
	}

	inst, err := s.orch.GetState(c.Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	if inst.Status != waitflow.StatusWaiting {
		return s.fail(c, waitflow.InvalidStateError(inst, waitflow.StatusWaiting))
	}

	s.background(func(ctx context.Context) {
		if _, err := s.orch.Choose(ctx, id, req.Choice); err != nil {
			s.logger.Error().Err(err).Str("instance_id", id).Msg("Choice could not be applied")
		}
	})

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"workflowId": id,
		"choice":     req.Choice,
		"message":    "Choice submitted",
	})
}

// handleList returns recent approvals
func (s *server) handleList(c fiber.Ctx) error {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = n
	}

	list, err := s.orch.List(c.Context(), limit)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows": list,
		"count":     len(list),
	})
}

func (s *server) fail(c fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, waitflow.ErrInstanceNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, waitflow.ErrInvalidState), errors.Is(err, waitflow.ErrInstanceExists):
		status = fiber.StatusConflict
	case errors.Is(err, waitflow.ErrConcurrencyLimitExceeded):
		status = fiber.StatusTooManyRequests
	}

	if status == fiber.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}

	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}

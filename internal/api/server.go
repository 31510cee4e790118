// Package api is the HTTP surface of the coordinator, consumed by the UI
// gateway. Handlers translate requests into engine operations and engine
// errors into the wire error model; all authorization beyond the admin token
// is the gateway's job.
package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ludoarena/battle-coordinator/internal/battle"
	"github.com/ludoarena/battle-coordinator/internal/proofs"
	"github.com/ludoarena/battle-coordinator/pkg/battledto"
)

type Server struct {
	engine    *battle.Engine
	presigner *proofs.Presigner
	adminTok  string
}

func NewServer(engine *battle.Engine, presigner *proofs.Presigner, adminToken string) *Server {
	return &Server{engine: engine, presigner: presigner, adminTok: adminToken}
}

func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "battle-coordinator",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	app.Post("/battles", s.CreateBattle)
	app.Get("/battles/open", s.ListOpen)
	app.Get("/battles/user/:id", s.ListByUser)
	app.Get("/battles/:id", s.GetBattle)
	app.Get("/battles/:id/stream", s.StreamBattle)
	app.Post("/battles/:id/join", s.Join)
	app.Post("/battles/:id/room-code", s.SetRoomCode)
	app.Post("/battles/:id/ready", s.MarkReady)
	app.Post("/battles/:id/result", s.SubmitResult)
	app.Post("/battles/:id/cancel", s.Cancel)

	app.Post("/proofs/presign", s.PresignProof)

	admin := app.Group("/admin", s.requireAdmin)
	admin.Post("/battles/:id/override", s.Override)

	return app
}

func (s *Server) requireAdmin(c *fiber.Ctx) error {
	if s.adminTok == "" || c.Get("X-Admin-Token") != s.adminTok {
		return c.Status(fiber.StatusUnauthorized).JSON(battledto.DomainError{
			Code: battledto.CodeInvalidState, Message: "admin token required",
		})
	}
	return c.Next()
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(battledto.DomainError{
		Code: battledto.CodeBadRequest, Message: msg,
	})
}

// writeErr maps an engine error onto the wire error model and status code.
func writeErr(c *fiber.Ctx, err error) error {
	var (
		code      string
		status    int
		retryable bool
	)
	switch {
	case errors.Is(err, battle.ErrNotFound):
		code, status = battledto.CodeNotFound, fiber.StatusNotFound
	case errors.Is(err, battle.ErrStaleState):
		code, status, retryable = battledto.CodeStaleState, fiber.StatusConflict, true
	case errors.Is(err, battle.ErrInvalidState):
		code, status = battledto.CodeInvalidState, fiber.StatusConflict
	case errors.Is(err, battle.ErrUnknownPlayer):
		code, status = battledto.CodeUnknownPlayer, fiber.StatusForbidden
	case errors.Is(err, battle.ErrDuplicateSubmission):
		code, status = battledto.CodeDuplicateSubmission, fiber.StatusConflict
	case errors.Is(err, battle.ErrMissingProof):
		code, status = battledto.CodeMissingProof, fiber.StatusBadRequest
	case errors.Is(err, battle.ErrLedgerFailure):
		code, status, retryable = battledto.CodeLedgerFailure, fiber.StatusBadGateway, true
	default:
		code, status = battledto.CodeInternal, fiber.StatusInternalServerError
	}
	return c.Status(status).JSON(battledto.DomainError{
		Code:      code,
		Message:   err.Error(),
		Retryable: retryable,
	})
}

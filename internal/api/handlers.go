package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ludoarena/battle-coordinator/internal/battle"
	"github.com/ludoarena/battle-coordinator/pkg/battledto"
)

func (s *Server) CreateBattle(c *fiber.Ctx) error {
	var req battledto.CreateBattleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed body")
	}
	if req.CreatorID == "" || req.Amount <= 0 {
		return badRequest(c, "creator_id and a positive amount are required")
	}
	b, err := s.engine.Create(c.UserContext(), battle.Player{
		ID: req.CreatorID, Name: req.CreatorName, AvatarRef: req.AvatarRef,
	}, req.Amount)
	if err != nil {
		return writeErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(b)
}

func (s *Server) GetBattle(c *fiber.Ctx) error {
	b, err := s.engine.Store().Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(b)
}

func (s *Server) ListOpen(c *fiber.Ctx) error {
	list, err := s.engine.Store().ListOpen(c.UserContext())
	if err != nil {
		return writeErr(c, err)
	}
	if list == nil {
		list = []*battle.Battle{}
	}
	return c.JSON(list)
}

func (s *Server) ListByUser(c *fiber.Ctx) error {
	list, err := s.engine.Store().ListByUser(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeErr(c, err)
	}
	if list == nil {
		list = []*battle.Battle{}
	}
	return c.JSON(list)
}

func (s *Server) Join(c *fiber.Ctx) error {
	var req battledto.JoinRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed body")
	}
	if req.PlayerID == "" {
		return badRequest(c, "player_id is required")
	}
	b, err := s.engine.Join(c.UserContext(), c.Params("id"), battle.Player{
		ID: req.PlayerID, Name: req.PlayerName, AvatarRef: req.AvatarRef,
	}, req.ExpectedVersion)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(b)
}

func (s *Server) SetRoomCode(c *fiber.Ctx) error {
	var req battledto.RoomCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed body")
	}
	b, err := s.engine.SetRoomCode(c.UserContext(), c.Params("id"), req.CallerID, req.RoomCode, req.ExpectedVersion)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(b)
}

func (s *Server) MarkReady(c *fiber.Ctx) error {
	var req battledto.ReadyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed body")
	}
	b, err := s.engine.MarkReady(c.UserContext(), c.Params("id"), req.CallerID, req.ExpectedVersion)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(b)
}

func (s *Server) SubmitResult(c *fiber.Ctx) error {
	var req battledto.ResultRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed body")
	}
	outcome := battle.Outcome(req.Outcome)
	if outcome != battle.OutcomeWon && outcome != battle.OutcomeLost {
		return badRequest(c, "outcome must be won or lost")
	}
	b, err := s.engine.SubmitResult(c.UserContext(), c.Params("id"), req.CallerID, outcome, req.ProofRef, req.ExpectedVersion)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(b)
}

func (s *Server) Cancel(c *fiber.Ctx) error {
	var req battledto.CancelRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed body")
	}
	b, err := s.engine.Cancel(c.UserContext(), c.Params("id"), req.CallerID, req.ExpectedVersion)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(b)
}

func (s *Server) Override(c *fiber.Ctx) error {
	var req battledto.OverrideRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed body")
	}
	b, err := s.engine.Override(c.UserContext(), c.Params("id"), req.WinnerID, req.ExpectedVersion)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(b)
}

func (s *Server) PresignProof(c *fiber.Ctx) error {
	if s.presigner == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(battledto.DomainError{
			Code: battledto.CodeInternal, Message: "proof storage not configured",
		})
	}
	var req battledto.PresignRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed body")
	}
	slot, err := s.presigner.PresignUpload(c.UserContext(), req.BattleID, req.PlayerID)
	if err != nil {
		return badRequest(c, err.Error())
	}
	return c.JSON(slot)
}

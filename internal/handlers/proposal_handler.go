package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/viniciusmb/trampo-backend/internal/models"
	"github.com/viniciusmb/trampo-backend/internal/services/negotiation"
)

type ProposalHandler struct {
	Negotiation *negotiation.NegotiationService
}

type createProposalReq struct {
	ScheduledDate string  `json:"scheduled_date"` // RFC3339
	Price         float64 `json:"price"`
	PaymentMethod string  `json:"payment_method"` // pix / dinheiro
}

func (h *ProposalHandler) Create(c *fiber.Ctx) error {
	sess, err := sessionFrom(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Unauthorized",
		})
	}

	convID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "id invalido",
		})
	}

	var req createProposalReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "invalid body",
		})
	}

	when, err := time.Parse(time.RFC3339, req.ScheduledDate)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "scheduled_date invalida, use RFC3339",
		})
	}

	p, err := h.Negotiation.SendProposal(c.Context(), sess, convID, negotiation.SendInput{
		ScheduledDate: when,
		Price:         req.Price,
		PaymentMethod: models.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
	})
	if err != nil {
		return respondErr(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    p,
	})
}

// List returns the conversation's proposals keyed by message id so the
// client can attach each card to its chat bubble.
func (h *ProposalHandler) List(c *fiber.Ctx) error {
	sess, err := sessionFrom(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Unauthorized",
		})
	}

	convID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "id invalido",
		})
	}

	proposals, err := h.Negotiation.ListByConversation(c.Context(), sess, convID)
	if err != nil {
		return respondErr(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    proposals,
	})
}

func (h *ProposalHandler) Accept(c *fiber.Ctx) error {
	sess, err := sessionFrom(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Unauthorized",
		})
	}

	proposalID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "id invalido",
		})
	}

	p, b, err := h.Negotiation.Accept(c.Context(), sess, proposalID)
	if err != nil {
		return respondErr(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"proposal": p,
			"booking":  b,
		},
	})
}

type rejectProposalReq struct {
	Reason string `json:"reason"`
}

func (h *ProposalHandler) Reject(c *fiber.Ctx) error {
	sess, err := sessionFrom(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Unauthorized",
		})
	}

	proposalID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "id invalido",
		})
	}

	var req rejectProposalReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "invalid body",
		})
	}

	p, err := h.Negotiation.Reject(c.Context(), sess, proposalID, strings.TrimSpace(req.Reason))
	if err != nil {
		return respondErr(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    p,
	})
}

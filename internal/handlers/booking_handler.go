package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/viniciusmb/trampo-backend/internal/services/booking"
)

type BookingHandler struct {
	Bookings *booking.BookingService
}

type createBookingReq struct {
	ProviderID    string `json:"provider_id"`
	ServiceID     string `json:"service_id"`
	ScheduledDate string `json:"scheduled_date"` // RFC3339
	Description   string `json:"description"`
}

func (h *BookingHandler) Create(c *fiber.Ctx) error {
	sess, err := sessionFrom(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Unauthorized",
		})
	}

	var req createBookingReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "invalid body",
		})
	}

	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "provider_id invalido",
		})
	}
	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "service_id invalido",
		})
	}
	when, err := time.Parse(time.RFC3339, req.ScheduledDate)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "scheduled_date invalida, use RFC3339",
		})
	}

	b, err := h.Bookings.Request(c.Context(), sess, booking.RequestInput{
		ProviderID:    providerID,
		ServiceID:     serviceID,
		ScheduledDate: when,
		Description:   strings.TrimSpace(req.Description),
	})
	if err != nil {
		return respondErr(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    b,
	})
}

type respondBookingReq struct {
	Decision string `json:"decision"` // accept / reject
}

func (h *BookingHandler) Respond(c *fiber.Ctx) error {
	sess, err := sessionFrom(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Unauthorized",
		})
	}

	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "id invalido",
		})
	}

	var req respondBookingReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "invalid body",
		})
	}
	decision := strings.ToLower(strings.TrimSpace(req.Decision))
	if decision != booking.DecisionAccept && decision != booking.DecisionReject {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "decision deve ser accept ou reject",
		})
	}

	b, err := h.Bookings.RespondDirect(c.Context(), sess, bookingID, decision)
	if err != nil {
		return respondErr(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    b,
	})
}

func (h *BookingHandler) Cancel(c *fiber.Ctx) error {
	sess, err := sessionFrom(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Unauthorized",
		})
	}

	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "id invalido",
		})
	}

	b, err := h.Bookings.Cancel(c.Context(), sess, bookingID)
	if err != nil {
		return respondErr(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    b,
	})
}

func (h *BookingHandler) ListMine(c *fiber.Ctx) error {
	sess, err := sessionFrom(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Unauthorized",
		})
	}

	var views interface{}
	if sess.IsProvider() {
		views, err = h.Bookings.ListForProvider(c.Context(), sess)
	} else {
		views, err = h.Bookings.ListForClient(c.Context(), sess)
	}
	if err != nil {
		return respondErr(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    views,
	})
}

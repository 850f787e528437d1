package handlers

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/viniciusmb/trampo-backend/internal/realtime"
	"github.com/viniciusmb/trampo-backend/internal/services/chat"
)

type ChatHandler struct {
	Chat *chat.ChatService
	Hub  *realtime.Hub
}

// OpenConversation creates the booking's conversation on first use and
// returns the existing one afterwards.
func (h *ChatHandler) OpenConversation(c *fiber.Ctx) error {
	sess, err := sessionFrom(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Unauthorized",
		})
	}

	bookingID, err := uuid.Parse(c.Params("bookingId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "bookingId invalido",
		})
	}

	conv, created, err := h.Chat.OpenConversation(c.Context(), sess, bookingID)
	if err != nil {
		return respondErr(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    conv,
	})
}

func (h *ChatHandler) GetConversations(c *fiber.Ctx) error {
	sess, err := sessionFrom(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Unauthorized",
		})
	}

	items, err := h.Chat.ListConversations(c.Context(), sess)
	if err != nil {
		return respondErr(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    items,
	})
}

// GetMessages returns the full ordered history and marks the counterpart's
// messages as read in the same call, the way the mobile client expects.
func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
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

	msgs, err := h.Chat.Messages(c.Context(), sess, convID)
	if err != nil {
		return respondErr(c, err)
	}

	if _, err := h.Chat.MarkRead(c.Context(), sess, convID); err != nil {
		log.Printf("chat: mark read on fetch: %v", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    msgs,
	})
}

type sendMessageReq struct {
	Content string `json:"content"`
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
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

	var req sendMessageReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "invalid body",
		})
	}

	msg, err := h.Chat.PostMessage(c.Context(), sess, convID, strings.TrimSpace(req.Content))
	if err != nil {
		return respondErr(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    msg,
	})
}

func (h *ChatHandler) MarkAsRead(c *fiber.Ctx) error {
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

	flipped, err := h.Chat.MarkRead(c.Context(), sess, convID)
	if err != nil {
		return respondErr(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"marked": flipped},
	})
}

func (h *ChatHandler) GetUnreadTotal(c *fiber.Ctx) error {
	sess, err := sessionFrom(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Unauthorized",
		})
	}

	total, err := h.Chat.UnreadTotal(c.Context(), sess)
	if err != nil {
		return respondErr(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"count": total},
	})
}

// WebSocketHandler keeps one connection registered with the hub for the
// authenticated user. Identity comes from the JWT locals set during the
// upgrade request, never from the query string.
func (h *ChatHandler) WebSocketHandler(c *websocket.Conn) {
	userUUID, ok := c.Locals("userId").(uuid.UUID)
	if !ok {
		if raw, isStr := c.Locals("userId").(string); isStr {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				log.Println("websocket: invalid userId local:", err)
				c.Close()
				return
			}
			userUUID = parsed
		} else {
			log.Println("websocket: missing userId local")
			c.Close()
			return
		}
	}

	log.Printf("websocket: user %s connected", userUUID)

	client := &realtime.Client{
		ID:     uuid.New().String(),
		UserID: userUUID,
		Conn:   realtime.NewWebSocketConn(c),
		Send:   make(chan []byte, 256),
	}

	h.Hub.RegisterClient(client)
	defer func() {
		h.Hub.UnregisterClient(client)
		log.Printf("websocket: user %s disconnected", userUUID)
	}()

	go func() {
		for msg := range client.Send {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Println("websocket write error:", err)
				return
			}
		}
	}()

	// Reads keep the connection alive; clients only send ping/pong frames.
	for {
		var payload map[string]interface{}
		if err := c.ReadJSON(&payload); err != nil {
			break
		}
		if msgType, ok := payload["type"].(string); ok && msgType == "pong" {
			continue
		}
	}
}

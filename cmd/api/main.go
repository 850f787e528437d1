package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"

	"github.com/viniciusmb/trampo-backend/internal/config"
	"github.com/viniciusmb/trampo-backend/internal/db"
	"github.com/viniciusmb/trampo-backend/internal/domain"
	"github.com/viniciusmb/trampo-backend/internal/handlers"
	"github.com/viniciusmb/trampo-backend/internal/middleware"
	"github.com/viniciusmb/trampo-backend/internal/models"
	"github.com/viniciusmb/trampo-backend/internal/realtime"
	"github.com/viniciusmb/trampo-backend/internal/services/booking"
	"github.com/viniciusmb/trampo-backend/internal/services/chat"
	"github.com/viniciusmb/trampo-backend/internal/services/negotiation"
	"github.com/viniciusmb/trampo-backend/internal/syncer"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}

	rdb := realtime.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("redis indisponivel:", err)
	}

	if err := gdb.AutoMigrate(
		&models.User{},
		&models.Service{},
		&models.Booking{},
		&models.Conversation{},
		&models.Message{},
		&models.Proposal{},
		&models.ChangeEvent{},
	); err != nil {
		log.Fatal(err)
	}

	feed := realtime.NewFeed(rdb)

	hub := realtime.NewHub()
	go hub.Run()

	sync := syncer.NewSynchronizer(gdb, feed, hub)
	go sync.Run(context.Background())

	bookingSvc := booking.NewBookingService(gdb)
	chatSvc := chat.NewChatService(gdb, feed)
	negotiationSvc := negotiation.NewNegotiationService(gdb, feed)

	authH := &handlers.AuthHandler{
		DB:        gdb,
		JWTSecret: cfg.JWTSecret,
		Expires:   cfg.JWTExpiresMin,
	}
	bookingH := &handlers.BookingHandler{Bookings: bookingSvc}
	chatH := &handlers.ChatHandler{Chat: chatSvc, Hub: hub}
	proposalH := &handlers.ProposalHandler{Negotiation: negotiationSvc}

	app := fiber.New()

	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://127.0.0.1:3000, http://localhost:3000",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders:    "Content-Length",
		AllowCredentials: true,
	}))

	app.Options("/*", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	api := app.Group("/api")

	// public
	api.Post("/auth/register", authH.Register)
	api.Post("/auth/login", authH.Login)
	api.Post("/auth/logout", authH.Logout)

	// protected (JWT from cookie)
	protected := api.Group("/",
		middleware.JWTFromCookie(cfg.JWTSecret),
		middleware.AttachJWTLocals(),
	)

	protected.Get("/auth/me", authH.Me)

	protected.Post("/bookings", middleware.RequireRoles(domain.RoleClient), bookingH.Create)
	protected.Get("/bookings", bookingH.ListMine)
	protected.Post("/bookings/:id/respond", middleware.RequireRoles(domain.RoleProvider), bookingH.Respond)
	protected.Post("/bookings/:id/cancel", middleware.RequireRoles(domain.RoleClient), bookingH.Cancel)
	protected.Post("/bookings/:bookingId/conversation", chatH.OpenConversation)

	protected.Get("/conversations", chatH.GetConversations)
	protected.Get("/conversations/:id/messages", chatH.GetMessages)
	protected.Post("/conversations/:id/messages", chatH.SendMessage)
	protected.Post("/conversations/:id/read", chatH.MarkAsRead)
	protected.Get("/conversations/unread-total", chatH.GetUnreadTotal)

	protected.Post("/conversations/:id/proposals", middleware.RequireRoles(domain.RoleProvider), proposalH.Create)
	protected.Get("/conversations/:id/proposals", proposalH.List)
	protected.Post("/proposals/:id/accept", middleware.RequireRoles(domain.RoleClient), proposalH.Accept)
	protected.Post("/proposals/:id/reject", middleware.RequireRoles(domain.RoleClient), proposalH.Reject)

	// websocket, authenticated during the upgrade request
	app.Use("/ws/chat",
		middleware.JWTFromCookie(cfg.JWTSecret),
		middleware.AttachJWTLocals(),
		func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		},
	)
	app.Get("/ws/chat", websocket.New(chatH.WebSocketHandler))

	log.Println("listening on :" + cfg.AppPort)
	log.Fatal(app.Listen(":" + cfg.AppPort))
}

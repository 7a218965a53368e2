package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/medivoyage/backend/internal/config"
	"github.com/medivoyage/backend/internal/http/handlers"
	"github.com/medivoyage/backend/internal/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	escrowHandler *handlers.EscrowHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Escrows
	protected.Post("/escrows", escrowHandler.CreateEscrow)
	protected.Get("/escrows", escrowHandler.ListEscrows)
	protected.Get("/escrows/:id", escrowHandler.GetEscrow)
	protected.Post("/escrows/:id/payments", escrowHandler.ProcessPayment)
	protected.Post("/escrows/:id/cancel", escrowHandler.Cancel)
	protected.Get("/escrows/:id/analytics", escrowHandler.Analytics)
	protected.Get("/escrows/:id/transactions", escrowHandler.ListTransactions)
	protected.Get("/escrows/:id/events", escrowHandler.GetEscrowEvents)

	// Milestones
	protected.Post("/escrows/:id/milestones/:name/release", escrowHandler.ReleaseMilestone)
	protected.Post("/escrows/:id/release-next", escrowHandler.ReleaseNext)

	// Disputes
	protected.Post("/escrows/:id/disputes", escrowHandler.OpenDispute)
	protected.Get("/escrows/:id/disputes", escrowHandler.ListDisputes)
	protected.Post("/escrows/:id/disputes/:disputeId/review", escrowHandler.ReviewDispute)
	protected.Post("/escrows/:id/disputes/:disputeId/escalate", escrowHandler.EscalateDispute)

	// Settings
	protected.Put("/escrows/:id/security", escrowHandler.UpdateSecurity)
	protected.Post("/escrows/:id/payment-methods", escrowHandler.AddPaymentMethod)

	// Admin-only operations
	admin := protected.Group("", middleware.AdminMiddleware())
	admin.Post("/escrows/:id/activate", escrowHandler.Activate)
	admin.Post("/escrows/:id/refund", escrowHandler.Refund)
	admin.Post("/escrows/:id/disputes/:disputeId/resolve", escrowHandler.ResolveDispute)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}

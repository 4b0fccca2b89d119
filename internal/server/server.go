package server

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/tagihanapp/tagihan/internal/config"
	"github.com/tagihanapp/tagihan/internal/handler"
	"github.com/tagihanapp/tagihan/internal/middleware"
	"github.com/tagihanapp/tagihan/internal/repository"
	"github.com/tagihanapp/tagihan/internal/service"
	"github.com/tagihanapp/tagihan/internal/telemetry"
	"go.mongodb.org/mongo-driver/mongo"
)

// AppDependencies holds the dependencies required to start the application
type AppDependencies struct {
	Config      *config.Config
	MongoDB     *mongo.Database
	RedisClient *redis.Client
	Gateway     service.Gateway
	AuthClient  service.FirebaseAuthClient // optional, disables /auth/login when nil
	Audit       service.AuditArchive       // optional
}

// NewApp creates and configures the Fiber application with the given dependencies
func NewApp(deps AppDependencies) *fiber.App {
	// Initialize repositories
	invoiceRepo := repository.NewMongoInvoiceRepository(deps.MongoDB)
	paymentRepo := repository.NewMongoPaymentRepository(deps.MongoDB)
	teamRepo := repository.NewMongoTeamRepository(deps.MongoDB)
	userRepo := repository.NewMongoUserRepository(deps.MongoDB)
	planRepo := repository.NewMongoPlanRepository(deps.MongoDB)
	ledger := repository.NewMongoLedgerStore(deps.MongoDB)

	// Initialize services
	chargeService := service.NewChargeService(
		invoiceRepo,
		paymentRepo,
		teamRepo,
		userRepo,
		ledger,
		deps.Gateway,
		deps.Audit,
	)

	// Initialize handlers
	paymentHandler := handler.NewPaymentHandler(chargeService, invoiceRepo, paymentRepo, teamRepo, planRepo)
	webhookHandler := handler.NewWebhookHandler(chargeService, deps.Config.Midtrans.ServerKey)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Tagihan Billing API",
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Correlation-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	if deps.Config.OTEL.Enabled {
		app.Use(telemetry.FiberMiddleware())
	}

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "tagihan-billing",
		})
	})

	// API v1 routes
	v1 := app.Group("/v1")

	// Auth endpoints (public, only when a Firebase client is configured)
	if deps.AuthClient != nil {
		authService := service.NewAuthService(userRepo, teamRepo, deps.AuthClient, deps.Config.JWT.Secret)
		authHandler := handler.NewAuthHandler(authService)
		v1.Post("/auth/login", authHandler.Login)
	}

	// Public pricing catalog
	v1.Get("/billing/plans", paymentHandler.ListPlans)

	// Gateway webhook (public, signature-verified)
	v1.Post("/payments/webhook/midtrans", webhookHandler.MidtransWebhook)

	// Billing API (authenticated)
	billing := v1.Group("/billing")
	billing.Use(middleware.VerifyTagihanToken(deps.Config.JWT.Secret))
	billing.Use(middleware.IdempotencyMiddleware(deps.RedisClient, 24*time.Hour))

	billing.Post("/charge", paymentHandler.Charge)
	billing.Get("/invoices/:id", paymentHandler.GetInvoice)
	billing.Get("/teams/:teamId/invoices", paymentHandler.ListTeamInvoices)

	return app
}

// NewAuditArchive initializes the optional S3 payload archive from config.
// Returns nil when no endpoint is configured.
func NewAuditArchive(ctx context.Context, cfg *config.Config) service.AuditArchive {
	if cfg.S3.Endpoint == "" {
		return nil
	}
	archive, err := repository.NewS3AuditArchive(ctx, cfg.S3)
	if err != nil {
		log.Printf("Warning: failed to initialize audit archive: %v", err)
		return nil
	}
	return archive
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	log.Printf("Error: %v", err)
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

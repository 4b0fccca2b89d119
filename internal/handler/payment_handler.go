package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/tagihanapp/tagihan/internal/domain"
	"github.com/tagihanapp/tagihan/internal/infrastructure/midtrans"
	"github.com/tagihanapp/tagihan/internal/service"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PaymentHandler handles billing API endpoints
type PaymentHandler struct {
	chargeService *service.ChargeService
	invoiceRepo   domain.InvoiceRepository
	paymentRepo   domain.PaymentRepository
	teamRepo      domain.TeamRepository
	planRepo      domain.SubscriptionPlanRepository
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(
	chargeService *service.ChargeService,
	invoiceRepo domain.InvoiceRepository,
	paymentRepo domain.PaymentRepository,
	teamRepo domain.TeamRepository,
	planRepo domain.SubscriptionPlanRepository,
) *PaymentHandler {
	return &PaymentHandler{
		chargeService: chargeService,
		invoiceRepo:   invoiceRepo,
		paymentRepo:   paymentRepo,
		teamRepo:      teamRepo,
		planRepo:      planRepo,
	}
}

// ChargeRequest represents the request body for charging an invoice
type ChargeRequest struct {
	InvoiceID string `json:"invoice_id"`
}

// Charge handles POST /api/v1/billing/charge
// Creates a QRIS charge for a pending invoice, or replays the existing
// charge when one is already in flight.
func (h *PaymentHandler) Charge(c *fiber.Ctx) error {
	userID, ok := c.Locals("userID").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}

	var req ChargeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	if req.InvoiceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invoice_id is required",
		})
	}
	if _, err := primitive.ObjectIDFromHex(req.InvoiceID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid invoice_id",
		})
	}

	ctx := c.UserContext()

	resp, err := h.chargeService.RequestCharge(ctx, req.InvoiceID, userID)
	if err != nil {
		return h.chargeError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"replayed": resp.Replayed,
		"data":     resp,
	})
}

// chargeError maps orchestrator errors onto HTTP responses. Gateway errors
// keep the gateway's own status code so clients can tell a declined charge
// from an unreachable gateway.
func (h *PaymentHandler) chargeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "invoice not found",
		})
	case errors.Is(err, domain.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   "not a member of the invoice's team",
		})
	case errors.Is(err, domain.ErrAlreadySettled):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invoice already paid",
		})
	}

	var gwErr *midtrans.GatewayError
	if errors.As(err, &gwErr) {
		log.Printf("[Charge] Gateway error: %v", gwErr)
		return c.Status(gwErr.StatusCode).JSON(fiber.Map{
			"success": false,
			"error":   gwErr.Message,
		})
	}

	log.Printf("[Charge] Internal error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"error":   "failed to process charge",
	})
}

// GetInvoice handles GET /api/v1/billing/invoices/:id
// Returns the invoice and its latest payment attempt, if any.
func (h *PaymentHandler) GetInvoice(c *fiber.Ctx) error {
	userID, ok := c.Locals("userID").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}

	invoiceID := c.Params("id")
	if _, err := primitive.ObjectIDFromHex(invoiceID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid invoice id",
		})
	}

	ctx := c.UserContext()

	invoice, err := h.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "invoice not found",
			})
		}
		log.Printf("[GetInvoice] Error fetching invoice: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch invoice",
		})
	}

	isMember, err := h.teamRepo.IsMember(ctx, invoice.TeamID, userID)
	if err != nil {
		log.Printf("[GetInvoice] Error checking membership: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch invoice",
		})
	}
	if !isMember {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   "not a member of the invoice's team",
		})
	}

	var payment *domain.Payment
	if p, err := h.paymentRepo.GetLatestByInvoiceID(ctx, invoiceID); err == nil {
		payment = p
	} else if !errors.Is(err, domain.ErrNotFound) {
		log.Printf("[GetInvoice] Error fetching payment: %v", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"invoice": invoice,
			"payment": payment,
		},
	})
}

// ListTeamInvoices handles GET /api/v1/billing/teams/:teamId/invoices
func (h *PaymentHandler) ListTeamInvoices(c *fiber.Ctx) error {
	userID, ok := c.Locals("userID").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}

	teamID := c.Params("teamId")
	ctx := c.UserContext()

	isMember, err := h.teamRepo.IsMember(ctx, teamID, userID)
	if err != nil {
		log.Printf("[ListTeamInvoices] Error checking membership: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch invoices",
		})
	}
	if !isMember {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   "not a member of this team",
		})
	}

	invoices, err := h.invoiceRepo.GetByTeamID(ctx, teamID)
	if err != nil {
		log.Printf("[ListTeamInvoices] Error fetching invoices: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch invoices",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    invoices,
	})
}

// ListPlans handles GET /api/v1/billing/plans
// Public pricing page data, no auth required.
func (h *PaymentHandler) ListPlans(c *fiber.Ctx) error {
	plans, err := h.planRepo.GetActivePlans(c.UserContext())
	if err != nil {
		log.Printf("[ListPlans] Error fetching plans: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch plans",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    plans,
	})
}

package handler

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/tagihanapp/tagihan/internal/domain"
	"github.com/tagihanapp/tagihan/internal/service"
)

// WebhookHandler handles external payment gateway notifications
type WebhookHandler struct {
	chargeService *service.ChargeService
	serverKey     string
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(chargeService *service.ChargeService, serverKey string) *WebhookHandler {
	return &WebhookHandler{
		chargeService: chargeService,
		serverKey:     serverKey,
	}
}

// MidtransNotification represents the webhook payload from Midtrans
type MidtransNotification struct {
	TransactionID     string `json:"transaction_id"`
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	TransactionTime   string `json:"transaction_time"`
	PaymentType       string `json:"payment_type"`
	FraudStatus       string `json:"fraud_status"`
}

// MidtransWebhook handles POST /api/v1/payments/webhook/midtrans
// This is a public endpoint - no authentication required. Authenticity comes
// from the SHA-512 signature over order id, status code, gross amount and the
// server key.
func (h *WebhookHandler) MidtransWebhook(c *fiber.Ctx) error {
	ctx := c.UserContext()

	// keep the raw body for the ledger before any parsing touches it
	raw := make([]byte, len(c.Body()))
	copy(raw, c.Body())

	var req MidtransNotification
	if err := c.BodyParser(&req); err != nil {
		log.Printf("[Webhook] Failed to parse body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	log.Printf("[Webhook] Received notification: order_id=%s, transaction_id=%s, status=%s",
		req.OrderID, req.TransactionID, req.TransactionStatus)

	if !h.verifySignature(req.OrderID, req.StatusCode, req.GrossAmount, req.SignatureKey) {
		log.Printf("[Webhook] Signature verification failed for order_id=%s", req.OrderID)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "invalid signature",
		})
	}

	result, err := h.chargeService.ApplyGatewayUpdate(ctx, req.TransactionID, req.TransactionStatus, raw)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Printf("[Webhook] No payment for transaction_id=%s", req.TransactionID)
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "payment not found",
			})
		}
		log.Printf("[Webhook] Failed to apply update for transaction_id=%s: %v", req.TransactionID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to process notification",
		})
	}

	if result.NoOp {
		return c.JSON(fiber.Map{
			"success": true,
			"message": "already processed",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "notification processed",
	})
}

// verifySignature checks the Midtrans signature_key:
// sha512(order_id + status_code + gross_amount + server_key)
func (h *WebhookHandler) verifySignature(orderID, statusCode, grossAmount, signature string) bool {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + h.serverKey))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

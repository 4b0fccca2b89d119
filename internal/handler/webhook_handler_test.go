package handler

import (
	"bytes"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	h := NewWebhookHandler(nil, "server-key")

	sum := sha512.Sum512([]byte("ORDER-1" + "200" + "50000.00" + "server-key"))
	valid := hex.EncodeToString(sum[:])

	assert.True(t, h.verifySignature("ORDER-1", "200", "50000.00", valid))
	assert.False(t, h.verifySignature("ORDER-1", "200", "50000.00", "bogus"))
	assert.False(t, h.verifySignature("ORDER-2", "200", "50000.00", valid))
	assert.False(t, h.verifySignature("ORDER-1", "201", "50000.00", valid))
}

func TestMidtransWebhookRejectsBeforeTouchingService(t *testing.T) {
	// nil charge service: these requests must be rejected before any
	// reconciliation happens
	h := NewWebhookHandler(nil, "server-key")

	app := fiber.New()
	app.Post("/webhook", h.MidtransWebhook)

	req, _ := http.NewRequest("POST", "/webhook", bytes.NewReader([]byte(`{"order_id":"ORDER-1","status_code":"200","gross_amount":"50000.00","signature_key":"forged","transaction_status":"settlement"}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest("POST", "/webhook", bytes.NewReader([]byte(`not-json`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

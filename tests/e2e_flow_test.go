package tests

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tagihanapp/tagihan/internal/config"
	"github.com/tagihanapp/tagihan/internal/domain"
	"github.com/tagihanapp/tagihan/internal/repository"
	"github.com/tagihanapp/tagihan/internal/server"
)

const testServerKey = "SB-Mid-server-e2e-key"

func TestChargeLifecycle(t *testing.T) {
	// 1. Infrastructure
	db, cleanupDB := SetupTestDB(t)
	defer cleanupDB()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	mockAuth := NewMockAuthClient()
	mockAuth.AddMockUser("owner-token", "firebase-owner", "owner@example.com")
	mockAuth.AddMockUser("stranger-token", "firebase-stranger", "stranger@example.com")

	gateway := &MockGateway{}

	cfg := &config.Config{}
	cfg.JWT.Secret = "test-secret-key-123"
	cfg.Midtrans.ServerKey = testServerKey

	// 2. App
	app := server.NewApp(server.AppDependencies{
		Config:      cfg,
		MongoDB:     db,
		RedisClient: redisClient,
		Gateway:     gateway,
		AuthClient:  mockAuth,
	})

	request := func(method, path, token string, body interface{}) *http.Response {
		var bodyReader io.Reader
		if body != nil {
			jsonBytes, _ := json.Marshal(body)
			bodyReader = bytes.NewReader(jsonBytes)
		}
		req, _ := http.NewRequest(method, path, bodyReader)
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	decode := func(resp *http.Response) map[string]interface{} {
		defer resp.Body.Close()
		var out map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	// 3. Login creates the user and their team
	resp := request("POST", "/v1/auth/login", "", map[string]string{"firebase_token": "owner-token"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	loginData := decode(resp)["data"].(map[string]interface{})
	ownerJWT := loginData["token"].(string)
	teamID := loginData["team_id"].(string)
	require.NotEmpty(t, ownerJWT)
	require.NotEmpty(t, teamID)

	resp = request("POST", "/v1/auth/login", "", map[string]string{"firebase_token": "stranger-token"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	strangerJWT := decode(resp)["data"].(map[string]interface{})["token"].(string)

	// 4. Seed a pending invoice for the owner's team
	ctx := context.Background()
	invoiceRepo := repository.NewMongoInvoiceRepository(db)
	invoice := &domain.Invoice{
		TeamID:        teamID,
		InvoiceNumber: "INV-2026-0042",
		Amount:        39000,
		Currency:      "IDR",
		Status:        domain.InvoiceStatusPending,
		DueDate:       time.Now().AddDate(0, 0, 7),
	}
	require.NoError(t, invoiceRepo.Create(ctx, invoice))

	// 5. Charge validation failures
	resp = request("POST", "/v1/billing/charge", "", map[string]string{"invoice_id": invoice.ID})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = request("POST", "/v1/billing/charge", ownerJWT, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = request("POST", "/v1/billing/charge", ownerJWT, map[string]string{"invoice_id": "not-a-hex-id"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = request("POST", "/v1/billing/charge", ownerJWT, map[string]string{"invoice_id": "ffffffffffffffffffffffff"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = request("POST", "/v1/billing/charge", strangerJWT, map[string]string{"invoice_id": invoice.ID})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, gateway.CallCount())

	// 6. First charge hits the gateway
	resp = request("POST", "/v1/billing/charge", ownerJWT, map[string]string{"invoice_id": invoice.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chargeBody := decode(resp)
	assert.Equal(t, false, chargeBody["replayed"])
	chargeData := chargeBody["data"].(map[string]interface{})
	assert.Equal(t, "INV-2026-0042", chargeData["order_id"])
	assert.Equal(t, "mock-trx-1", chargeData["transaction_id"])
	assert.Equal(t, "qris", chargeData["payment_type"])
	assert.Contains(t, chargeData["qr_url"], "qr-code")
	assert.Equal(t, 1, gateway.CallCount())

	// 7. Retry replays the same charge, no second gateway call
	resp = request("POST", "/v1/billing/charge", ownerJWT, map[string]string{"invoice_id": invoice.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	retryBody := decode(resp)
	assert.Equal(t, true, retryBody["replayed"])
	retryData := retryBody["data"].(map[string]interface{})
	assert.Equal(t, "INV-2026-0042", retryData["order_id"])
	assert.Equal(t, "mock-trx-1", retryData["transaction_id"])
	assert.Equal(t, 1, gateway.CallCount())

	// 8. Invoice view shows the pending payment
	resp = request("GET", "/v1/billing/invoices/"+invoice.ID, ownerJWT, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	viewData := decode(resp)["data"].(map[string]interface{})
	invoiceView := viewData["invoice"].(map[string]interface{})
	paymentView := viewData["payment"].(map[string]interface{})
	assert.Equal(t, "pending", invoiceView["status"])
	assert.Equal(t, "pending", paymentView["status"])
	assert.Equal(t, "mock-trx-1", paymentView["provider_id"])

	// 9. Webhook with a bad signature is rejected
	resp = request("POST", "/v1/payments/webhook/midtrans", "", map[string]string{
		"transaction_id":     "mock-trx-1",
		"order_id":           "INV-2026-0042",
		"status_code":        "200",
		"gross_amount":       "39000.00",
		"transaction_status": "settlement",
		"signature_key":      "forged",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// 10. Settlement webhook marks invoice paid
	notification := map[string]string{
		"transaction_id":     "mock-trx-1",
		"order_id":           "INV-2026-0042",
		"status_code":        "200",
		"gross_amount":       "39000.00",
		"transaction_status": "settlement",
	}
	notification["signature_key"] = signNotification(notification)

	resp = request("POST", "/v1/payments/webhook/midtrans", "", notification)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = request("GET", "/v1/billing/invoices/"+invoice.ID, ownerJWT, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	viewData = decode(resp)["data"].(map[string]interface{})
	invoiceView = viewData["invoice"].(map[string]interface{})
	paymentView = viewData["payment"].(map[string]interface{})
	assert.Equal(t, "paid", invoiceView["status"])
	assert.NotEmpty(t, invoiceView["paid_at"])
	assert.Equal(t, "completed", paymentView["status"])

	// 11. Duplicate webhook is acknowledged without changes
	resp = request("POST", "/v1/payments/webhook/midtrans", "", notification)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "already processed", decode(resp)["message"])

	// 12. Charging a paid invoice is refused
	resp = request("POST", "/v1/billing/charge", ownerJWT, map[string]string{"invoice_id": invoice.ID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 1, gateway.CallCount())

	// 13. Team invoice listing
	resp = request("GET", "/v1/billing/teams/"+teamID+"/invoices", ownerJWT, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	invoices := decode(resp)["data"].([]interface{})
	assert.Len(t, invoices, 1)

	resp = request("GET", "/v1/billing/teams/"+teamID+"/invoices", strangerJWT, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func signNotification(n map[string]string) string {
	sum := sha512.Sum512([]byte(n["order_id"] + n["status_code"] + n["gross_amount"] + testServerKey))
	return hex.EncodeToString(sum[:])
}

package midtrans

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const (
	// QRActionName is the action entry whose URL renders the scannable QR code
	QRActionName = "generate-qr-code"

	// PaymentTypeQRIS is the only payment type this client charges
	PaymentTypeQRIS = "qris"

	// ProviderName identifies the gateway on ledger records
	ProviderName = "midtrans"

	SandboxBaseURL    = "https://api.sandbox.midtrans.com"
	ProductionBaseURL = "https://api.midtrans.com"
)

// Config holds Midtrans Core API configuration
type Config struct {
	ServerKey string // Server key from the Midtrans dashboard
	BaseURL   string // Base URL (sandbox or production)
	Timeout   time.Duration
}

// Client is the Midtrans Core API client. It performs a single outbound
// call per charge; retry policy belongs to the caller.
type Client struct {
	config     Config
	httpClient *http.Client
}

// GatewayError is a non-success response from Midtrans. StatusCode carries
// the HTTP status so callers can propagate it.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("midtrans: status %d: %s", e.StatusCode, e.Message)
}

// CustomerDetails identifies the paying customer on the charge
type CustomerDetails struct {
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// ChargeRequest is the input for a QRIS charge. OrderID is the caller's
// idempotency token, unique per attempt. GrossAmount is in the smallest
// currency unit and must be non-negative.
type ChargeRequest struct {
	OrderID     string
	GrossAmount int64
	Customer    CustomerDetails
}

// Action is a gateway follow-up step, e.g. the QR display endpoint
type Action struct {
	Name   string `json:"name"`
	Method string `json:"method,omitempty"`
	URL    string `json:"url"`
}

// ChargeResult is the normalized gateway response. Raw holds the full
// response body verbatim for audit; typed fields are what business logic
// may rely on.
type ChargeResult struct {
	TransactionID     string   `json:"transaction_id"`
	OrderID           string   `json:"order_id"`
	GrossAmount       string   `json:"gross_amount"`
	PaymentType       string   `json:"payment_type"`
	TransactionStatus string   `json:"transaction_status"`
	StatusCode        string   `json:"status_code"`
	StatusMessage     string   `json:"status_message"`
	Actions           []Action `json:"actions,omitempty"`
	QRString          string   `json:"qr_string,omitempty"`
	ExpiryTime        string   `json:"expiry_time,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// QRActionURL locates the generate-qr-code action and returns its URL,
// or "" if the gateway sent no such action.
func (r *ChargeResult) QRActionURL() string {
	for _, a := range r.Actions {
		if a.Name == QRActionName {
			return a.URL
		}
	}
	return ""
}

// chargePayload is the Core API /v2/charge request body
type chargePayload struct {
	PaymentType        string             `json:"payment_type"`
	TransactionDetails transactionDetails `json:"transaction_details"`
	CustomerDetails    *CustomerDetails   `json:"customer_details,omitempty"`
	QRIS               qrisDetails        `json:"qris"`
}

type transactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type qrisDetails struct {
	Acquirer string `json:"acquirer"`
}

// NewClient creates a new Midtrans client. The server key is validated
// here so a misconfigured process fails at startup, not on first charge.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ServerKey == "" {
		return nil, fmt.Errorf("midtrans: server key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// authHeader builds the Basic auth value: base64(serverKey + ":")
func (c *Client) authHeader() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.config.ServerKey+":"))
}

// ChargeQRIS creates a QRIS charge at Midtrans. The call is bounded by the
// client timeout; a timeout or transport failure is returned as a
// GatewayError, never treated as success. No retries happen here.
func (c *Client) ChargeQRIS(ctx context.Context, chargeReq ChargeRequest) (*ChargeResult, error) {
	if chargeReq.GrossAmount < 0 {
		return nil, fmt.Errorf("midtrans: gross amount must be non-negative, got %d", chargeReq.GrossAmount)
	}
	if chargeReq.OrderID == "" {
		return nil, fmt.Errorf("midtrans: order id is required")
	}

	url := c.config.BaseURL + "/v2/charge"

	payload := chargePayload{
		PaymentType: PaymentTypeQRIS,
		TransactionDetails: transactionDetails{
			OrderID:     chargeReq.OrderID,
			GrossAmount: chargeReq.GrossAmount,
		},
		QRIS: qrisDetails{Acquirer: "gopay"},
	}
	if chargeReq.Customer != (CustomerDetails{}) {
		payload.CustomerDetails = &chargeReq.Customer
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.authHeader())

	log.Printf("[Midtrans] Charging order %s, amount: %d", chargeReq.OrderID, chargeReq.GrossAmount)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and transport failures surface as gateway errors so the
		// caller's no-ledger-write rule applies uniformly.
		return nil, &GatewayError{
			StatusCode: http.StatusBadGateway,
			Message:    fmt.Sprintf("charge request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayError{
			StatusCode: http.StatusBadGateway,
			Message:    fmt.Sprintf("failed to read response: %v", err),
		}
	}

	log.Printf("[Midtrans] Response status: %d for order %s", resp.StatusCode, chargeReq.OrderID)

	var result ChargeResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &GatewayError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to parse response: %v", err),
		}
	}
	result.Raw = respBody

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := result.StatusMessage
		if msg == "" {
			msg = "midtrans charge failed"
		}
		return nil, &GatewayError{StatusCode: resp.StatusCode, Message: msg}
	}

	return &result, nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tagihanapp/tagihan/internal/domain"
	"github.com/tagihanapp/tagihan/internal/infrastructure/midtrans"
	"golang.org/x/sync/singleflight"
)

// sharedChargeTimeout bounds the collapsed gateway-call-plus-commit once it is
// detached from the requesting contexts.
const sharedChargeTimeout = 60 * time.Second

// Gateway is the outbound payment gateway seen by the orchestrator. The
// orchestrator never retries it; callers retry, and the ledger-level replay
// makes that safe.
type Gateway interface {
	ChargeQRIS(ctx context.Context, req midtrans.ChargeRequest) (*midtrans.ChargeResult, error)
}

// AuditArchive receives raw gateway payloads for long-term audit storage.
// Archival is best-effort and never blocks or fails a charge.
type AuditArchive interface {
	PutPayload(ctx context.Context, providerID, source string, payload []byte) error
}

// ChargeResponse is the normalized result of a charge request, whether
// freshly created at the gateway or replayed from the ledger.
type ChargeResponse struct {
	InvoiceID     string          `json:"invoice_id"`
	OrderID       string          `json:"order_id"`
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
	PaymentType   string          `json:"payment_type"`
	QRUrl         string          `json:"qr_url,omitempty"`
	ExpiryTime    string          `json:"expiry_time,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
	Payment       *domain.Payment `json:"payment,omitempty"`
	Replayed      bool            `json:"-"`
}

// ChargeService orchestrates charge creation and reconciliation. It holds no
// state of its own; all coordination goes through the transactional ledger
// store and, for in-process duplicates, the per-invoice singleflight group.
type ChargeService struct {
	invoices domain.InvoiceRepository
	payments domain.PaymentRepository
	teams    domain.TeamRepository
	users    domain.UserRepository
	ledger   domain.LedgerStore
	gateway  Gateway
	audit    AuditArchive // optional

	flight singleflight.Group
}

// NewChargeService creates the charge orchestrator. audit may be nil.
func NewChargeService(
	invoices domain.InvoiceRepository,
	payments domain.PaymentRepository,
	teams domain.TeamRepository,
	users domain.UserRepository,
	ledger domain.LedgerStore,
	gateway Gateway,
	audit AuditArchive,
) *ChargeService {
	return &ChargeService{
		invoices: invoices,
		payments: payments,
		teams:    teams,
		users:    users,
		ledger:   ledger,
		gateway:  gateway,
		audit:    audit,
	}
}

// RequestCharge decides, for one invoice, whether to create a new gateway
// charge, replay the existing one, or reject the request.
//
// Replay is the correctness anchor: if a non-failed payment already exists,
// its stored gateway payload is returned and the gateway is not called, so
// client retries (double-click, timeout-and-retry) cannot double-charge.
// Concurrent requests for the same invoice collapse into one gateway call
// via singleflight; a commit that still loses the order-identifier race is
// resolved by re-reading the winner's payment and replaying it.
func (s *ChargeService) RequestCharge(ctx context.Context, invoiceID, userID string) (*ChargeResponse, error) {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	isMember, err := s.teams.IsMember(ctx, invoice.TeamID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check team membership: %w", err)
	}
	if !isMember {
		return nil, domain.ErrForbidden
	}

	if invoice.Status == domain.InvoiceStatusPaid {
		return nil, domain.ErrAlreadySettled
	}

	result, err, _ := s.flight.Do(invoice.ID, func() (interface{}, error) {
		// The collapsed call is shared by every waiter, so it must not die
		// with the first caller's request context.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedChargeTimeout)
		defer cancel()
		return s.replayOrCreate(fctx, invoice, userID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ChargeResponse), nil
}

func (s *ChargeService) replayOrCreate(ctx context.Context, invoice *domain.Invoice, userID string) (*ChargeResponse, error) {
	existing, err := s.payments.GetLatestByInvoiceID(ctx, invoice.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up payments: %w", err)
	}

	if existing != nil && existing.Status != domain.PaymentStatusFailed {
		log.Printf("[Charge] Replaying payment %s for invoice %s", existing.ID, invoice.ID)
		return s.replayResponse(invoice, existing), nil
	}

	orderID := s.orderIdentifier(invoice)
	customer := s.customerDetails(ctx, userID)

	charge, err := s.gateway.ChargeQRIS(ctx, midtrans.ChargeRequest{
		OrderID:     orderID,
		GrossAmount: invoice.Amount,
		Customer:    customer,
	})
	if err != nil {
		// No ledger writes on gateway failure: the invoice and any failed
		// payment keep their pre-call state, so a retry re-enters here.
		return nil, err
	}

	commit := domain.ChargeCommit{
		InvoiceID:     invoice.ID,
		TeamID:        invoice.TeamID,
		Amount:        invoice.Amount,
		Currency:      invoice.Currency,
		OrderID:       charge.OrderID,
		Provider:      midtrans.ProviderName,
		ProviderID:    charge.TransactionID,
		PaymentMethod: charge.PaymentType,
		Metadata:      charge.Raw,
	}
	if existing != nil {
		commit.ExistingPaymentID = existing.ID
	}

	payment, err := s.ledger.CommitCharge(ctx, commit)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateCommit) {
			// Another commit won the race. The charge we created is an
			// orphan at the gateway; the winner's payment is the truth.
			log.Printf("[Charge] Commit lost race for invoice %s, replaying winner", invoice.ID)
			return s.replayWinner(ctx, invoice.ID)
		}
		return nil, err
	}

	s.archive(charge.TransactionID, "charge", charge.Raw)

	return &ChargeResponse{
		InvoiceID:     invoice.ID,
		OrderID:       charge.OrderID,
		TransactionID: charge.TransactionID,
		Status:        charge.TransactionStatus,
		PaymentType:   charge.PaymentType,
		QRUrl:         charge.QRActionURL(),
		ExpiryTime:    charge.ExpiryTime,
		Raw:           charge.Raw,
		Payment:       payment,
	}, nil
}

// replayWinner re-reads the ledger after a lost commit race and replays the
// committed charge.
func (s *ChargeService) replayWinner(ctx context.Context, invoiceID string) (*ChargeResponse, error) {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	payment, err := s.payments.GetLatestByInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read payment after lost commit: %w", err)
	}
	return s.replayResponse(invoice, payment), nil
}

// replayResponse rebuilds a charge response from the payment's stored
// gateway payload without touching the gateway.
func (s *ChargeService) replayResponse(invoice *domain.Invoice, payment *domain.Payment) *ChargeResponse {
	resp := &ChargeResponse{
		InvoiceID:     invoice.ID,
		OrderID:       invoice.PaymentReference,
		TransactionID: payment.ProviderID,
		Status:        payment.Status,
		PaymentType:   payment.PaymentMethod,
		Payment:       payment,
		Replayed:      true,
	}

	var meta midtrans.ChargeResult
	if len(payment.Metadata) > 0 {
		if err := json.Unmarshal(payment.Metadata, &meta); err == nil {
			meta.Raw = payment.Metadata
			resp.Raw = payment.Metadata
			resp.QRUrl = meta.QRActionURL()
			resp.ExpiryTime = meta.ExpiryTime
			if resp.OrderID == "" {
				resp.OrderID = meta.OrderID
			}
		} else {
			log.Printf("[Charge] Failed to decode stored metadata for payment %s: %v", payment.ID, err)
		}
	}

	return resp
}

// orderIdentifier picks the idempotency token sent to the gateway: the
// invoice's existing reference, else its invoice number, else a synthesized
// INV-<id>-<ulid>. The unique index on payment_reference backstops any
// collision at commit time.
func (s *ChargeService) orderIdentifier(invoice *domain.Invoice) string {
	if invoice.PaymentReference != "" {
		return invoice.PaymentReference
	}
	if invoice.InvoiceNumber != "" {
		return invoice.InvoiceNumber
	}
	return fmt.Sprintf("INV-%s-%s", invoice.ID, ulid.Make())
}

// customerDetails fetches the requesting user for the gateway's customer
// block. Lookup failure is not fatal; the charge proceeds without it.
func (s *ChargeService) customerDetails(ctx context.Context, userID string) midtrans.CustomerDetails {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		log.Printf("[Charge] Could not load user %s for customer details: %v", userID, err)
		return midtrans.CustomerDetails{}
	}
	return midtrans.CustomerDetails{
		Email:     user.Email,
		FirstName: user.Name,
		Phone:     user.Phone,
	}
}

// ApplyGatewayUpdate is the reconciliation hook: asynchronous gateway
// notifications (webhooks, status polls) re-enter the ledger here. The
// store makes it idempotent, so duplicate notifications are no-ops.
func (s *ChargeService) ApplyGatewayUpdate(ctx context.Context, providerID, transactionStatus string, raw []byte) (*domain.GatewayUpdateResult, error) {
	paymentStatus, err := MapTransactionStatus(transactionStatus)
	if err != nil {
		return nil, err
	}

	result, err := s.ledger.ApplyGatewayUpdate(ctx, providerID, paymentStatus, raw)
	if err != nil {
		return nil, err
	}

	if result.NoOp {
		log.Printf("[Reconcile] Duplicate notification for %s (status %s), no-op", providerID, transactionStatus)
	} else {
		log.Printf("[Reconcile] Payment %s -> %s, invoice %s -> %s",
			result.Payment.ID, result.Payment.Status, result.Invoice.ID, result.Invoice.Status)
		s.archive(providerID, "webhook", raw)
	}

	return result, nil
}

// MapTransactionStatus translates a Midtrans transaction status into the
// ledger's payment status.
func MapTransactionStatus(transactionStatus string) (string, error) {
	switch transactionStatus {
	case "capture", "settlement":
		return domain.PaymentStatusCompleted, nil
	case "pending":
		return domain.PaymentStatusPending, nil
	case "deny", "cancel", "expire", "failure":
		return domain.PaymentStatusFailed, nil
	case "refund", "partial_refund":
		return domain.PaymentStatusRefunded, nil
	default:
		return "", fmt.Errorf("unknown transaction status %q", transactionStatus)
	}
}

// archive ships a raw payload to the audit store without blocking the
// request path.
func (s *ChargeService) archive(providerID, source string, payload []byte) {
	if s.audit == nil || len(payload) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.audit.PutPayload(ctx, providerID, source, payload); err != nil {
			log.Printf("[Audit] Failed to archive %s payload for %s: %v", source, providerID, err)
		}
	}()
}

package domain

import (
	"context"
	"time"
)

// Payment status constants
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Payment represents one gateway charge attempt for an invoice.
// ProviderID is the gateway transaction identifier; Metadata stores the raw
// gateway payload verbatim for audit and for rebuilding replay responses.
// Failed payments are retained for history, never deleted.
type Payment struct {
	ID            string    `bson:"_id,omitempty" json:"id"`
	InvoiceID     string    `bson:"invoice_id,omitempty" json:"invoice_id"`
	TeamID        string    `bson:"team_id,omitempty" json:"team_id"`
	Amount        int64     `bson:"amount,omitempty" json:"amount"`
	Currency      string    `bson:"currency,omitempty" json:"currency"`
	Status        string    `bson:"status,omitempty" json:"status"` // pending, completed, failed, refunded
	PaymentMethod string    `bson:"payment_method,omitempty" json:"payment_method"`
	Provider      string    `bson:"provider,omitempty" json:"provider"`
	ProviderID    string    `bson:"provider_id,omitempty" json:"provider_id"`
	Metadata      []byte    `bson:"metadata,omitempty" json:"-"`
	CreatedAt     time.Time `bson:"created_at,omitempty" json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at,omitempty" json:"updated_at"`
}

// IsTerminal reports whether no further gateway-driven transition is expected
// for this attempt.
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusCompleted ||
		p.Status == PaymentStatusFailed ||
		p.Status == PaymentStatusRefunded
}

// PaymentRepository defines read operations for payments.
type PaymentRepository interface {
	GetByID(ctx context.Context, id string) (*Payment, error)
	GetLatestByInvoiceID(ctx context.Context, invoiceID string) (*Payment, error)
	GetByProviderID(ctx context.Context, providerID string) (*Payment, error)
}

// ChargeCommit carries everything the ledger needs to project a successful
// gateway charge onto the invoice/payment pair in one transaction.
// When ExistingPaymentID is set the payment row is updated in place,
// otherwise a new row is inserted.
type ChargeCommit struct {
	InvoiceID         string
	TeamID            string
	Amount            int64
	Currency          string
	OrderID           string
	Provider          string
	ProviderID        string
	PaymentMethod     string
	Metadata          []byte
	ExistingPaymentID string
}

// GatewayUpdateResult reports what a reconciliation pass did.
type GatewayUpdateResult struct {
	Payment *Payment
	Invoice *Invoice
	NoOp    bool // duplicate notification, nothing changed
}

// LedgerStore is the transactional mutation primitive over invoices and
// payments. Both operations run inside a single transaction: either the
// invoice and payment are updated together or neither is.
type LedgerStore interface {
	// CommitCharge sets the invoice's provider/reference and upserts the
	// payment row from the same gateway result. A lost race, whether
	// against a non-failed attempt already recorded for the invoice, a
	// settled invoice, or a unique-constraint violation on the order
	// identifier or provider id, is surfaced as ErrDuplicateCommit so
	// callers can re-read and replay.
	CommitCharge(ctx context.Context, commit ChargeCommit) (*Payment, error)

	// ApplyGatewayUpdate locates the payment by provider id and advances
	// payment and invoice state for the given gateway status. Idempotent:
	// reapplying the same status, or a pending status to a payment that
	// already reached a terminal one, is a no-op, not an error.
	ApplyGatewayUpdate(ctx context.Context, providerID, paymentStatus string, raw []byte) (*GatewayUpdateResult, error)
}

package domain

import (
	"context"
	"time"
)

// Invoice status constants
const (
	InvoiceStatusPending  = "pending"
	InvoiceStatusPaid     = "paid"
	InvoiceStatusFailed   = "failed"
	InvoiceStatusRefunded = "refunded"
)

// Invoice represents a billable obligation for a team.
// Amount is in the smallest currency unit (IDR has no sub-units).
// PaymentReference holds the gateway order_id once a charge exists; it is
// set in the same transaction as the matching payment row, never alone.
type Invoice struct {
	ID               string     `bson:"_id,omitempty" json:"id"`
	SubscriptionID   string     `bson:"subscription_id,omitempty" json:"subscription_id"`
	TeamID           string     `bson:"team_id,omitempty" json:"team_id"`
	InvoiceNumber    string     `bson:"invoice_number,omitempty" json:"invoice_number"`
	Amount           int64      `bson:"amount,omitempty" json:"amount"`
	Currency         string     `bson:"currency,omitempty" json:"currency"`
	Status           string     `bson:"status,omitempty" json:"status"` // pending, paid, failed, refunded
	DueDate          time.Time  `bson:"due_date,omitempty" json:"due_date"`
	PaidAt           *time.Time `bson:"paid_at,omitempty" json:"paid_at,omitempty"`
	PaymentProvider  string     `bson:"payment_provider,omitempty" json:"payment_provider,omitempty"`
	PaymentReference string     `bson:"payment_reference,omitempty" json:"payment_reference,omitempty"`
	CreatedAt        time.Time  `bson:"created_at,omitempty" json:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at,omitempty" json:"updated_at"`
}

// InvoiceRepository defines read/create operations for invoices.
// All charge-related mutation goes through LedgerStore instead.
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *Invoice) error
	GetByID(ctx context.Context, id string) (*Invoice, error)
	GetByTeamID(ctx context.Context, teamID string) ([]*Invoice, error)
	GetByPaymentReference(ctx context.Context, orderID string) (*Invoice, error)
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tagihanapp/tagihan/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoLedgerStore implements domain.LedgerStore. It is the only place that
// mutates invoices and payments for charging, and it always does so inside a
// multi-document transaction so the invoice's payment_reference and the
// payment's provider_id are set together or not at all.
type MongoLedgerStore struct {
	client   *mongo.Client
	invoices *mongo.Collection
	payments *mongo.Collection
}

// NewMongoLedgerStore creates the transactional ledger store and ensures the
// unique indexes that make commits fail-safe under concurrent double-charge:
// the second committer's write is rejected with a duplicate-key error rather
// than silently duplicated.
func NewMongoLedgerStore(db *mongo.Database) *MongoLedgerStore {
	store := &MongoLedgerStore{
		client:   db.Client(),
		invoices: db.Collection("invoices"),
		payments: db.Collection("payments"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.ensureIndexes(ctx); err != nil {
		log.Printf("[Ledger] Warning: failed to ensure indexes: %v", err)
	}

	return store
}

func (s *MongoLedgerStore) ensureIndexes(ctx context.Context) error {
	_, err := s.invoices.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "payment_reference", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"payment_reference": bson.M{"$type": "string"}}),
	})
	if err != nil {
		return fmt.Errorf("invoices payment_reference index: %w", err)
	}

	_, err = s.payments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "provider_id", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"provider_id": bson.M{"$type": "string"}}),
	})
	if err != nil {
		return fmt.Errorf("payments provider_id index: %w", err)
	}

	_, err = s.payments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "invoice_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("payments invoice_id index: %w", err)
	}
	return nil
}

// CommitCharge projects a successful gateway charge onto the ledger: invoice
// becomes pending with provider/reference set, and the payment row is updated
// or inserted with the gateway transaction id and raw payload. Both writes
// happen in one transaction. A commit that loses a race, whether to another
// attempt already in flight on the same invoice, to a settled invoice, or to
// the unique indexes, returns ErrDuplicateCommit.
func (s *MongoLedgerStore) CommitCharge(ctx context.Context, commit domain.ChargeCommit) (*domain.Payment, error) {
	invoiceOID, err := primitive.ObjectIDFromHex(commit.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice id: %w", err)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		now := time.Now().UTC()

		// Same-invoice races never trip the unique indexes: both racers
		// write the same payment_reference to the same document and the
		// gateway hands each a distinct provider_id. The guard is this
		// in-transaction check for an attempt that is already in flight.
		raceFilter := bson.M{
			"invoice_id":  commit.InvoiceID,
			"status":      bson.M{"$ne": domain.PaymentStatusFailed},
			"provider_id": bson.M{"$ne": commit.ProviderID},
		}
		inFlight, err := s.payments.CountDocuments(sc, raceFilter)
		if err != nil {
			return nil, err
		}
		if inFlight > 0 {
			return nil, domain.ErrDuplicateCommit
		}

		invoiceUpdate := bson.M{
			"$set": bson.M{
				"status":            domain.InvoiceStatusPending,
				"payment_provider":  commit.Provider,
				"payment_reference": commit.OrderID,
				"updated_at":        now,
			},
		}
		// A paid invoice is never written back to pending
		invoiceFilter := bson.M{
			"_id":    invoiceOID,
			"status": bson.M{"$ne": domain.InvoiceStatusPaid},
		}
		invoiceResult, err := s.invoices.UpdateOne(sc, invoiceFilter, invoiceUpdate)
		if err != nil {
			return nil, err
		}
		if invoiceResult.MatchedCount == 0 {
			// missing invoice vs one a racer already settled
			known, err := s.invoices.CountDocuments(sc, bson.M{"_id": invoiceOID})
			if err != nil {
				return nil, err
			}
			if known == 0 {
				return nil, domain.ErrNotFound
			}
			return nil, domain.ErrDuplicateCommit
		}

		payment := &domain.Payment{
			InvoiceID:     commit.InvoiceID,
			TeamID:        commit.TeamID,
			Amount:        commit.Amount,
			Currency:      commit.Currency,
			Status:        domain.PaymentStatusPending,
			PaymentMethod: commit.PaymentMethod,
			Provider:      commit.Provider,
			ProviderID:    commit.ProviderID,
			Metadata:      commit.Metadata,
			UpdatedAt:     now,
		}

		if commit.ExistingPaymentID != "" {
			paymentOID, err := primitive.ObjectIDFromHex(commit.ExistingPaymentID)
			if err != nil {
				return nil, fmt.Errorf("invalid payment id: %w", err)
			}
			paymentUpdate := bson.M{
				"$set": bson.M{
					"status":         domain.PaymentStatusPending,
					"provider":       commit.Provider,
					"provider_id":    commit.ProviderID,
					"payment_method": commit.PaymentMethod,
					"metadata":       primitive.Binary{Data: commit.Metadata},
					"updated_at":     now,
				},
			}
			paymentResult, err := s.payments.UpdateOne(sc, bson.M{"_id": paymentOID}, paymentUpdate)
			if err != nil {
				return nil, err
			}
			if paymentResult.MatchedCount == 0 {
				return nil, domain.ErrNotFound
			}
			payment.ID = commit.ExistingPaymentID
			return payment, nil
		}

		paymentOID := primitive.NewObjectID()
		payment.ID = paymentOID.Hex()
		payment.CreatedAt = now

		doc := bson.M{
			"_id":            paymentOID,
			"invoice_id":     commit.InvoiceID,
			"team_id":        commit.TeamID,
			"amount":         commit.Amount,
			"currency":       commit.Currency,
			"status":         domain.PaymentStatusPending,
			"payment_method": commit.PaymentMethod,
			"provider":       commit.Provider,
			"provider_id":    commit.ProviderID,
			"metadata":       primitive.Binary{Data: commit.Metadata},
			"created_at":     now,
			"updated_at":     now,
		}
		if _, err := s.payments.InsertOne(sc, doc); err != nil {
			return nil, err
		}
		return payment, nil
	})

	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, domain.ErrDuplicateCommit
		}
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrDuplicateCommit) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to commit charge: %w", err)
	}

	return result.(*domain.Payment), nil
}

// ApplyGatewayUpdate advances payment and invoice state from an asynchronous
// gateway notification. Reapplying a status the payment already holds, or a
// pending status after the payment reached a terminal one, is a no-op, which
// makes duplicate and out-of-order webhook deliveries harmless.
func (s *MongoLedgerStore) ApplyGatewayUpdate(ctx context.Context, providerID, paymentStatus string, raw []byte) (*domain.GatewayUpdateResult, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		var rawPayment bson.M
		if err := s.payments.FindOne(sc, bson.M{"provider_id": providerID}).Decode(&rawPayment); err != nil {
			if err == mongo.ErrNoDocuments {
				return nil, domain.ErrNotFound
			}
			return nil, err
		}
		payment := mapBsonToPayment(rawPayment)

		invoiceOID, err := primitive.ObjectIDFromHex(payment.InvoiceID)
		if err != nil {
			return nil, fmt.Errorf("invalid invoice id on payment %s: %w", payment.ID, err)
		}

		var rawInvoice bson.M
		if err := s.invoices.FindOne(sc, bson.M{"_id": invoiceOID}).Decode(&rawInvoice); err != nil {
			if err == mongo.ErrNoDocuments {
				return nil, domain.ErrNotFound
			}
			return nil, err
		}
		invoice := mapBsonToInvoice(rawInvoice)

		if payment.Status == paymentStatus {
			return &domain.GatewayUpdateResult{Payment: payment, Invoice: invoice, NoOp: true}, nil
		}
		// Notifications can arrive out of order: a stale pending after
		// settlement must not reopen a finished attempt.
		if payment.IsTerminal() && paymentStatus == domain.PaymentStatusPending {
			return &domain.GatewayUpdateResult{Payment: payment, Invoice: invoice, NoOp: true}, nil
		}

		now := time.Now().UTC()

		paymentSet := bson.M{
			"status":     paymentStatus,
			"updated_at": now,
		}
		if len(raw) > 0 {
			paymentSet["metadata"] = primitive.Binary{Data: raw}
		}
		paymentOID, err := primitive.ObjectIDFromHex(payment.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid payment id: %w", err)
		}
		if _, err := s.payments.UpdateOne(sc, bson.M{"_id": paymentOID}, bson.M{"$set": paymentSet}); err != nil {
			return nil, err
		}
		payment.Status = paymentStatus
		payment.UpdatedAt = now
		if len(raw) > 0 {
			payment.Metadata = raw
		}

		invoiceSet := bson.M{"updated_at": now}
		switch paymentStatus {
		case domain.PaymentStatusCompleted:
			if invoice.Status != domain.InvoiceStatusPaid {
				invoiceSet["status"] = domain.InvoiceStatusPaid
				invoiceSet["paid_at"] = now
				invoice.Status = domain.InvoiceStatusPaid
				invoice.PaidAt = &now
			}
		case domain.PaymentStatusRefunded:
			invoiceSet["status"] = domain.InvoiceStatusRefunded
			invoice.Status = domain.InvoiceStatusRefunded
		case domain.PaymentStatusFailed:
			// The invoice stays pending: a failed attempt leaves it
			// eligible for a fresh charge.
		}
		if _, err := s.invoices.UpdateOne(sc, bson.M{"_id": invoiceOID}, bson.M{"$set": invoiceSet}); err != nil {
			return nil, err
		}
		invoice.UpdatedAt = now

		return &domain.GatewayUpdateResult{Payment: payment, Invoice: invoice}, nil
	})

	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to apply gateway update: %w", err)
	}

	return result.(*domain.GatewayUpdateResult), nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/tagihanapp/tagihan/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoPaymentRepository implements domain.PaymentRepository
type MongoPaymentRepository struct {
	collection *mongo.Collection
}

// NewMongoPaymentRepository creates a new payment repository
func NewMongoPaymentRepository(db *mongo.Database) *MongoPaymentRepository {
	return &MongoPaymentRepository{
		collection: db.Collection("payments"),
	}
}

func (r *MongoPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid payment id: %w", err)
	}

	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return mapBsonToPayment(raw), nil
}

// GetLatestByInvoiceID returns the most recent charge attempt for an invoice.
// Earlier failed attempts stay in the collection for history.
func (r *MongoPaymentRepository) GetLatestByInvoiceID(ctx context.Context, invoiceID string) (*domain.Payment, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"invoice_id": invoiceID}, opts).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest payment: %w", err)
	}
	return mapBsonToPayment(raw), nil
}

func (r *MongoPaymentRepository) GetByProviderID(ctx context.Context, providerID string) (*domain.Payment, error) {
	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"provider_id": providerID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment by provider id: %w", err)
	}
	return mapBsonToPayment(raw), nil
}

func mapBsonToPayment(raw bson.M) *domain.Payment {
	payment := &domain.Payment{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		payment.ID = oid.Hex()
	}
	if invoiceID, ok := raw["invoice_id"].(string); ok {
		payment.InvoiceID = invoiceID
	}
	if teamID, ok := raw["team_id"].(string); ok {
		payment.TeamID = teamID
	}
	if amount, ok := raw["amount"].(int64); ok {
		payment.Amount = amount
	} else if amount, ok := raw["amount"].(int32); ok {
		payment.Amount = int64(amount)
	}
	if currency, ok := raw["currency"].(string); ok {
		payment.Currency = currency
	}
	if status, ok := raw["status"].(string); ok {
		payment.Status = status
	}
	if method, ok := raw["payment_method"].(string); ok {
		payment.PaymentMethod = method
	}
	if provider, ok := raw["provider"].(string); ok {
		payment.Provider = provider
	}
	if providerID, ok := raw["provider_id"].(string); ok {
		payment.ProviderID = providerID
	}
	if metadata, ok := raw["metadata"].(primitive.Binary); ok {
		payment.Metadata = metadata.Data
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		payment.CreatedAt = created.Time()
	}
	if updated, ok := raw["updated_at"].(primitive.DateTime); ok {
		payment.UpdatedAt = updated.Time()
	}

	return payment
}

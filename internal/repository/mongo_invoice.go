package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/tagihanapp/tagihan/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoInvoiceRepository implements domain.InvoiceRepository
type MongoInvoiceRepository struct {
	collection *mongo.Collection
}

// NewMongoInvoiceRepository creates a new invoice repository
func NewMongoInvoiceRepository(db *mongo.Database) *MongoInvoiceRepository {
	return &MongoInvoiceRepository{
		collection: db.Collection("invoices"),
	}
}

func (r *MongoInvoiceRepository) Create(ctx context.Context, invoice *domain.Invoice) error {
	now := time.Now().UTC()
	invoice.CreatedAt = now
	invoice.UpdatedAt = now

	objID := primitive.NewObjectID()
	invoice.ID = objID.Hex()

	doc := bson.M{
		"_id":             objID,
		"subscription_id": invoice.SubscriptionID,
		"team_id":         invoice.TeamID,
		"invoice_number":  invoice.InvoiceNumber,
		"amount":          invoice.Amount,
		"currency":        invoice.Currency,
		"status":          invoice.Status,
		"due_date":        invoice.DueDate,
		"created_at":      invoice.CreatedAt,
		"updated_at":      invoice.UpdatedAt,
	}

	_, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

func (r *MongoInvoiceRepository) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice id: %w", err)
	}

	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return mapBsonToInvoice(raw), nil
}

func (r *MongoInvoiceRepository) GetByTeamID(ctx context.Context, teamID string) ([]*domain.Invoice, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"team_id": teamID})
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices by team: %w", err)
	}
	defer cursor.Close(ctx)

	var invoices []*domain.Invoice
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		invoices = append(invoices, mapBsonToInvoice(raw))
	}
	return invoices, nil
}

// GetByPaymentReference finds an invoice by the gateway order identifier
func (r *MongoInvoiceRepository) GetByPaymentReference(ctx context.Context, orderID string) (*domain.Invoice, error) {
	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"payment_reference": orderID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invoice by reference: %w", err)
	}
	return mapBsonToInvoice(raw), nil
}

func mapBsonToInvoice(raw bson.M) *domain.Invoice {
	invoice := &domain.Invoice{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		invoice.ID = oid.Hex()
	}
	if subID, ok := raw["subscription_id"].(string); ok {
		invoice.SubscriptionID = subID
	}
	if teamID, ok := raw["team_id"].(string); ok {
		invoice.TeamID = teamID
	}
	if number, ok := raw["invoice_number"].(string); ok {
		invoice.InvoiceNumber = number
	}
	if amount, ok := raw["amount"].(int64); ok {
		invoice.Amount = amount
	} else if amount, ok := raw["amount"].(int32); ok {
		invoice.Amount = int64(amount)
	}
	if currency, ok := raw["currency"].(string); ok {
		invoice.Currency = currency
	}
	if status, ok := raw["status"].(string); ok {
		invoice.Status = status
	}
	if provider, ok := raw["payment_provider"].(string); ok {
		invoice.PaymentProvider = provider
	}
	if reference, ok := raw["payment_reference"].(string); ok {
		invoice.PaymentReference = reference
	}
	if dueDate, ok := raw["due_date"].(primitive.DateTime); ok {
		invoice.DueDate = dueDate.Time()
	}
	if paidAt, ok := raw["paid_at"].(primitive.DateTime); ok {
		t := paidAt.Time()
		invoice.PaidAt = &t
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		invoice.CreatedAt = created.Time()
	}
	if updated, ok := raw["updated_at"].(primitive.DateTime); ok {
		invoice.UpdatedAt = updated.Time()
	}

	return invoice
}

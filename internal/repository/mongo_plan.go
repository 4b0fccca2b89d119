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

// MongoPlanRepository implements domain.SubscriptionPlanRepository
type MongoPlanRepository struct {
	collection *mongo.Collection
}

// NewMongoPlanRepository creates a new subscription plan repository
func NewMongoPlanRepository(db *mongo.Database) *MongoPlanRepository {
	return &MongoPlanRepository{
		collection: db.Collection("subscription_plans"),
	}
}

func (r *MongoPlanRepository) Create(ctx context.Context, plan *domain.SubscriptionPlan) error {
	now := time.Now().UTC()
	plan.CreatedAt = now
	plan.UpdatedAt = now

	objID := primitive.NewObjectID()
	plan.ID = objID.Hex()

	doc := bson.M{
		"_id":              objID,
		"name":             plan.Name,
		"slug":             plan.Slug,
		"description":      plan.Description,
		"price":            plan.Price,
		"currency":         plan.Currency,
		"billing_interval": plan.BillingInterval,
		"trial_days":       plan.TrialDays,
		"is_active":        plan.IsActive,
		"created_at":       plan.CreatedAt,
		"updated_at":       plan.UpdatedAt,
	}

	_, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

func (r *MongoPlanRepository) GetByID(ctx context.Context, id string) (*domain.SubscriptionPlan, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid plan id: %w", err)
	}

	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return mapBsonToPlan(raw), nil
}

func (r *MongoPlanRepository) GetBySlug(ctx context.Context, slug string) (*domain.SubscriptionPlan, error) {
	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"slug": slug}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get plan by slug: %w", err)
	}
	return mapBsonToPlan(raw), nil
}

func (r *MongoPlanRepository) GetActivePlans(ctx context.Context) ([]*domain.SubscriptionPlan, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"is_active": true})
	if err != nil {
		return nil, fmt.Errorf("failed to list active plans: %w", err)
	}
	defer cursor.Close(ctx)

	var plans []*domain.SubscriptionPlan
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		plans = append(plans, mapBsonToPlan(raw))
	}
	return plans, nil
}

func mapBsonToPlan(raw bson.M) *domain.SubscriptionPlan {
	plan := &domain.SubscriptionPlan{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		plan.ID = oid.Hex()
	}
	if name, ok := raw["name"].(string); ok {
		plan.Name = name
	}
	if slug, ok := raw["slug"].(string); ok {
		plan.Slug = slug
	}
	if desc, ok := raw["description"].(string); ok {
		plan.Description = desc
	}
	if price, ok := raw["price"].(int64); ok {
		plan.Price = price
	} else if price, ok := raw["price"].(int32); ok {
		plan.Price = int64(price)
	}
	if currency, ok := raw["currency"].(string); ok {
		plan.Currency = currency
	}
	if interval, ok := raw["billing_interval"].(string); ok {
		plan.BillingInterval = interval
	}
	if trialDays, ok := raw["trial_days"].(int32); ok {
		plan.TrialDays = int(trialDays)
	}
	if isActive, ok := raw["is_active"].(bool); ok {
		plan.IsActive = isActive
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		plan.CreatedAt = created.Time()
	}
	if updated, ok := raw["updated_at"].(primitive.DateTime); ok {
		plan.UpdatedAt = updated.Time()
	}

	return plan
}

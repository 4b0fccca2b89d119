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

// MongoSubscriptionRepository implements domain.SubscriptionRepository
type MongoSubscriptionRepository struct {
	collection *mongo.Collection
}

// NewMongoSubscriptionRepository creates a new subscription repository
func NewMongoSubscriptionRepository(db *mongo.Database) *MongoSubscriptionRepository {
	return &MongoSubscriptionRepository{
		collection: db.Collection("subscriptions"),
	}
}

func (r *MongoSubscriptionRepository) Create(ctx context.Context, subscription *domain.Subscription) error {
	now := time.Now().UTC()
	subscription.CreatedAt = now
	subscription.UpdatedAt = now

	objID := primitive.NewObjectID()
	subscription.ID = objID.Hex()

	doc := bson.M{
		"_id":                  objID,
		"team_id":              subscription.TeamID,
		"plan_id":              subscription.PlanID,
		"status":               subscription.Status,
		"current_period_start": subscription.CurrentPeriodStart,
		"current_period_end":   subscription.CurrentPeriodEnd,
		"created_at":           subscription.CreatedAt,
		"updated_at":           subscription.UpdatedAt,
	}

	_, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (r *MongoSubscriptionRepository) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid subscription id: %w", err)
	}

	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return mapBsonToSubscription(raw), nil
}

func (r *MongoSubscriptionRepository) GetActiveByTeamID(ctx context.Context, teamID string) (*domain.Subscription, error) {
	filter := bson.M{
		"team_id": teamID,
		"status": bson.M{"$in": []string{
			domain.SubscriptionStatusTrialing,
			domain.SubscriptionStatusActive,
			domain.SubscriptionStatusPastDue,
		}},
	}

	var raw bson.M
	if err := r.collection.FindOne(ctx, filter).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active subscription: %w", err)
	}
	return mapBsonToSubscription(raw), nil
}

func mapBsonToSubscription(raw bson.M) *domain.Subscription {
	sub := &domain.Subscription{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		sub.ID = oid.Hex()
	}
	if teamID, ok := raw["team_id"].(string); ok {
		sub.TeamID = teamID
	}
	if planID, ok := raw["plan_id"].(string); ok {
		sub.PlanID = planID
	}
	if status, ok := raw["status"].(string); ok {
		sub.Status = status
	}
	if start, ok := raw["current_period_start"].(primitive.DateTime); ok {
		sub.CurrentPeriodStart = start.Time()
	}
	if end, ok := raw["current_period_end"].(primitive.DateTime); ok {
		sub.CurrentPeriodEnd = end.Time()
	}
	if canceled, ok := raw["canceled_at"].(primitive.DateTime); ok {
		t := canceled.Time()
		sub.CanceledAt = &t
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		sub.CreatedAt = created.Time()
	}
	if updated, ok := raw["updated_at"].(primitive.DateTime); ok {
		sub.UpdatedAt = updated.Time()
	}

	return sub
}

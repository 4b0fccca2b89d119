package domain

import (
	"context"
	"time"
)

// Subscription status constants
const (
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

// SubscriptionPlan is the catalog entry a team subscribes to.
// Price is in the smallest currency unit.
type SubscriptionPlan struct {
	ID              string    `bson:"_id,omitempty" json:"id"`
	Name            string    `bson:"name" json:"name"`
	Slug            string    `bson:"slug" json:"slug"`
	Description     string    `bson:"description,omitempty" json:"description"`
	Price           int64     `bson:"price" json:"price"`
	Currency        string    `bson:"currency" json:"currency"`
	BillingInterval string    `bson:"billing_interval" json:"billing_interval"` // month or year
	TrialDays       int       `bson:"trial_days,omitempty" json:"trial_days"`
	IsActive        bool      `bson:"is_active" json:"is_active"`
	CreatedAt       time.Time `bson:"created_at,omitempty" json:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at,omitempty" json:"updated_at"`
}

// Subscription ties a team to a plan for a billing period. It is the
// upstream context that explains why an invoice exists; the charge path
// only ever reads it.
type Subscription struct {
	ID                 string     `bson:"_id,omitempty" json:"id"`
	TeamID             string     `bson:"team_id" json:"team_id"`
	PlanID             string     `bson:"plan_id" json:"plan_id"`
	Status             string     `bson:"status" json:"status"`
	CurrentPeriodStart time.Time  `bson:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `bson:"current_period_end" json:"current_period_end"`
	CanceledAt         *time.Time `bson:"canceled_at,omitempty" json:"canceled_at,omitempty"`
	CreatedAt          time.Time  `bson:"created_at,omitempty" json:"created_at"`
	UpdatedAt          time.Time  `bson:"updated_at,omitempty" json:"updated_at"`
}

// SubscriptionRepository defines operations for managing subscriptions
type SubscriptionRepository interface {
	Create(ctx context.Context, subscription *Subscription) error
	GetByID(ctx context.Context, id string) (*Subscription, error)
	GetActiveByTeamID(ctx context.Context, teamID string) (*Subscription, error)
}

// SubscriptionPlanRepository defines operations for the plan catalog
type SubscriptionPlanRepository interface {
	Create(ctx context.Context, plan *SubscriptionPlan) error
	GetByID(ctx context.Context, id string) (*SubscriptionPlan, error)
	GetBySlug(ctx context.Context, slug string) (*SubscriptionPlan, error)
	GetActivePlans(ctx context.Context) ([]*SubscriptionPlan, error)
}

package domain

import (
	"context"
	"time"
)

// Team is the tenant that owns subscriptions, invoices and payments.
type Team struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	Name      string    `bson:"name" json:"name"`
	PlanName  string    `bson:"plan_name,omitempty" json:"plan_name,omitempty"`
	CreatedAt time.Time `bson:"created_at,omitempty" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at,omitempty" json:"updated_at"`
}

// TeamMember links a user to a team with a role.
type TeamMember struct {
	ID       string    `bson:"_id,omitempty" json:"id"`
	TeamID   string    `bson:"team_id" json:"team_id"`
	UserID   string    `bson:"user_id" json:"user_id"`
	Role     string    `bson:"role" json:"role"`
	JoinedAt time.Time `bson:"joined_at,omitempty" json:"joined_at"`
}

// TeamRepository defines team and membership lookups. Membership is the
// authorization check for charging: the requesting user must belong to the
// invoice's team.
type TeamRepository interface {
	Create(ctx context.Context, team *Team) error
	GetByID(ctx context.Context, id string) (*Team, error)
	AddMember(ctx context.Context, member *TeamMember) error
	IsMember(ctx context.Context, teamID, userID string) (bool, error)
	GetTeamIDsByUserID(ctx context.Context, userID string) ([]string, error)
}

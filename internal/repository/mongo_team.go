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

// MongoTeamRepository implements domain.TeamRepository
type MongoTeamRepository struct {
	teams   *mongo.Collection
	members *mongo.Collection
}

// NewMongoTeamRepository creates a new team repository
func NewMongoTeamRepository(db *mongo.Database) *MongoTeamRepository {
	return &MongoTeamRepository{
		teams:   db.Collection("teams"),
		members: db.Collection("team_members"),
	}
}

func (r *MongoTeamRepository) Create(ctx context.Context, team *domain.Team) error {
	now := time.Now().UTC()
	team.CreatedAt = now
	team.UpdatedAt = now

	objID := primitive.NewObjectID()
	team.ID = objID.Hex()

	doc := bson.M{
		"_id":        objID,
		"name":       team.Name,
		"plan_name":  team.PlanName,
		"created_at": team.CreatedAt,
		"updated_at": team.UpdatedAt,
	}

	_, err := r.teams.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create team: %w", err)
	}
	return nil
}

func (r *MongoTeamRepository) GetByID(ctx context.Context, id string) (*domain.Team, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid team id: %w", err)
	}

	var raw bson.M
	if err := r.teams.FindOne(ctx, bson.M{"_id": objID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get team: %w", err)
	}

	team := &domain.Team{}
	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		team.ID = oid.Hex()
	}
	if name, ok := raw["name"].(string); ok {
		team.Name = name
	}
	if planName, ok := raw["plan_name"].(string); ok {
		team.PlanName = planName
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		team.CreatedAt = created.Time()
	}
	if updated, ok := raw["updated_at"].(primitive.DateTime); ok {
		team.UpdatedAt = updated.Time()
	}
	return team, nil
}

func (r *MongoTeamRepository) AddMember(ctx context.Context, member *domain.TeamMember) error {
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}

	objID := primitive.NewObjectID()
	member.ID = objID.Hex()

	doc := bson.M{
		"_id":       objID,
		"team_id":   member.TeamID,
		"user_id":   member.UserID,
		"role":      member.Role,
		"joined_at": member.JoinedAt,
	}

	_, err := r.members.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to add team member: %w", err)
	}
	return nil
}

// IsMember reports whether the user belongs to the team. This is the
// authorization gate for charging a team's invoice.
func (r *MongoTeamRepository) IsMember(ctx context.Context, teamID, userID string) (bool, error) {
	filter := bson.M{
		"team_id": teamID,
		"user_id": userID,
	}

	count, err := r.members.CountDocuments(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("failed to check team membership: %w", err)
	}
	return count > 0, nil
}

// GetTeamIDsByUserID lists the teams a user belongs to, used for token claims
func (r *MongoTeamRepository) GetTeamIDsByUserID(ctx context.Context, userID string) ([]string, error) {
	cursor, err := r.members.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer cursor.Close(ctx)

	var teamIDs []string
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		if teamID, ok := raw["team_id"].(string); ok {
			teamIDs = append(teamIDs, teamID)
		}
	}
	return teamIDs, nil
}

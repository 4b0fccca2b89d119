package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tagihanapp/tagihan/internal/domain"
)

// FirebaseAuthClient defines the interface for Firebase Auth operations
// This allows mocking for tests
type FirebaseAuthClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// AuthService exchanges a verified Firebase identity for a service token and
// provisions first-time users with their own team.
type AuthService struct {
	userRepo   domain.UserRepository
	teamRepo   domain.TeamRepository
	authClient FirebaseAuthClient
	jwtSecret  string
}

// NewAuthService creates a new auth service
func NewAuthService(
	userRepo domain.UserRepository,
	teamRepo domain.TeamRepository,
	authClient FirebaseAuthClient,
	jwtSecret string,
) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		teamRepo:   teamRepo,
		authClient: authClient,
		jwtSecret:  jwtSecret,
	}
}

// LoginOrRegisterResponse contains the user and whether they were newly created
type LoginOrRegisterResponse struct {
	User      *domain.User
	Token     string
	TeamID    string
	IsNewUser bool
}

// LoginOrRegister verifies the Firebase token, looks up or creates the user,
// and returns a signed service token carrying the user's team.
func (s *AuthService) LoginOrRegister(ctx context.Context, firebaseToken string) (*LoginOrRegisterResponse, error) {
	token, err := s.authClient.VerifyIDToken(ctx, firebaseToken)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	firebaseUID := token.UID
	email, _ := token.Claims["email"].(string)
	name, _ := token.Claims["name"].(string)
	if name == "" {
		name = email
	}

	user, err := s.userRepo.GetByFirebaseUID(ctx, firebaseUID)
	if err != nil && errors.Is(err, domain.ErrNotFound) && email != "" {
		// pre-provisioned account, matched by email
		if emailUser, emailErr := s.userRepo.GetByEmail(ctx, email); emailErr == nil {
			user = emailUser
			err = nil
		}
	}

	isNew := false
	if errors.Is(err, domain.ErrNotFound) {
		user = &domain.User{
			FirebaseUID: firebaseUID,
			Email:       email,
			Name:        name,
		}
		if err := s.userRepo.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}

		team := &domain.Team{Name: name + "'s Team"}
		if err := s.teamRepo.Create(ctx, team); err != nil {
			return nil, fmt.Errorf("failed to create team: %w", err)
		}
		if err := s.teamRepo.AddMember(ctx, &domain.TeamMember{
			TeamID: team.ID,
			UserID: user.ID,
			Role:   "owner",
		}); err != nil {
			return nil, fmt.Errorf("failed to add team member: %w", err)
		}
		isNew = true
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	teamID := ""
	teamIDs, err := s.teamRepo.GetTeamIDsByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user teams: %w", err)
	}
	if len(teamIDs) > 0 {
		teamID = teamIDs[0]
	}

	signed, err := s.GenerateTagihanToken(user, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &LoginOrRegisterResponse{
		User:      user,
		Token:     signed,
		TeamID:    teamID,
		IsNewUser: isNew,
	}, nil
}

// GenerateTagihanToken signs a 24h service token for the user
func (s *AuthService) GenerateTagihanToken(user *domain.User, teamID string) (string, error) {
	claims := domain.TagihanClaims{
		UserID: user.ID,
		Email:  user.Email,
		TeamID: teamID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

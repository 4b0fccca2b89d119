package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// TagihanClaims represents custom JWT claims for Tagihan auth
type TagihanClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	TeamID string `json:"team_id,omitempty"`
	jwt.RegisteredClaims
}

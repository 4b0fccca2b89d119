package handler

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/tagihanapp/tagihan/internal/service"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	FirebaseToken string `json:"firebase_token"`
}

// Login handles POST /api/v1/auth/login
// Exchanges a Firebase ID token for a service token, registering the user
// on first login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	if req.FirebaseToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "firebase_token is required",
		})
	}

	resp, err := h.authService.LoginOrRegister(c.UserContext(), req.FirebaseToken)
	if err != nil {
		log.Printf("[Auth] Login failed: %v", err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "authentication failed",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"token":       resp.Token,
			"team_id":     resp.TeamID,
			"user":        resp.User,
			"is_new_user": resp.IsNewUser,
		},
	})
}

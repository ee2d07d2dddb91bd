package dto

import "time"

// LoginRequest payload for account login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AccountSummary describes the logged-in account.
type AccountSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// RedeemRequest carries a verification token from the portal link.
type RedeemRequest struct {
	Token string `json:"token"`
}

// LinkedIdentityResponse describes the identity after redemption.
type LinkedIdentityResponse struct {
	IdentityID string `json:"identity_id"`
	Address    string `json:"address"`
	AccountID  string `json:"account_id"`
	Capability string `json:"capability"`
}

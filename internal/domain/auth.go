package domain

import "time"

// VerificationLink binds a channel address to the account that must redeem it.
type VerificationLink struct {
	Address         string
	IdentityID      string
	TargetAccountID string
	ExpiresAt       time.Time
}

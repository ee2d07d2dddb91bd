package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/intake-service/internal/domain"
)

const verificationAudience = "whatsapp-verification"

// TokenManager handles issuing and validating JWT tokens.
type TokenManager struct {
	secret          []byte
	ttl             time.Duration
	verificationTTL time.Duration
	now             func() time.Time
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttlMinutes, verificationTTLMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	if verificationTTLMinutes <= 0 {
		verificationTTLMinutes = 60
	}
	return &TokenManager{
		secret:          []byte(secret),
		ttl:             time.Duration(ttlMinutes) * time.Minute,
		verificationTTL: time.Duration(verificationTTLMinutes) * time.Minute,
		now:             time.Now,
	}
}

// WithClock overrides the time source used for issued-at and expiry.
func (tm *TokenManager) WithClock(now func() time.Time) *TokenManager {
	tm.now = now
	return tm
}

// Claims describes the access token payload.
type Claims struct {
	AccountID string             `json:"account_id"`
	Role      domain.AccountRole `json:"role"`
	jwt.RegisteredClaims
}

// VerificationClaims binds a channel address to the account expected to redeem it.
type VerificationClaims struct {
	Phone           string `json:"phone"`
	IdentityID      string `json:"guest_id"`
	TargetAccountID string `json:"target_account_id,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken builds and signs an access token for an account.
func (tm *TokenManager) GenerateToken(account *domain.Account) (string, time.Time, error) {
	issuedAt := tm.now()
	expiresAt := issuedAt.Add(tm.ttl)
	claims := &Claims{
		AccountID: account.ID,
		Role:      account.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}
	return tm.sign(claims, expiresAt)
}

// ParseToken validates and returns access token claims.
func (tm *TokenManager) ParseToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if err := tm.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if len(claims.Audience) > 0 {
		return nil, errors.New("not an access token")
	}
	return claims, nil
}

// IssueVerification signs a short-lived verification link token.
func (tm *TokenManager) IssueVerification(link domain.VerificationLink) (string, time.Time, error) {
	issuedAt := tm.now()
	expiresAt := issuedAt.Add(tm.verificationTTL)
	claims := &VerificationClaims{
		Phone:           link.Address,
		IdentityID:      link.IdentityID,
		TargetAccountID: link.TargetAccountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   link.Address,
			Audience:  jwt.ClaimStrings{verificationAudience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}
	return tm.sign(claims, expiresAt)
}

// ParseVerification validates a verification token and returns its binding.
func (tm *TokenManager) ParseVerification(tokenStr string) (domain.VerificationLink, error) {
	claims := &VerificationClaims{}
	if err := tm.parse(tokenStr, claims, jwt.WithAudience(verificationAudience)); err != nil {
		return domain.VerificationLink{}, err
	}
	if claims.Phone == "" {
		return domain.VerificationLink{}, errors.New("verification token missing phone")
	}
	link := domain.VerificationLink{
		Address:         claims.Phone,
		IdentityID:      claims.IdentityID,
		TargetAccountID: claims.TargetAccountID,
	}
	if claims.ExpiresAt != nil {
		link.ExpiresAt = claims.ExpiresAt.Time
	}
	return link, nil
}

func (tm *TokenManager) sign(claims jwt.Claims, expiresAt time.Time) (string, time.Time, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

func (tm *TokenManager) parse(tokenStr string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	opts = append(opts, jwt.WithTimeFunc(tm.now))
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	}, opts...)
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return errors.New("invalid token claims")
	}
	return nil
}

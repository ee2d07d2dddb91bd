package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/intake-service/internal/auth"
	"github.com/spec-kit/intake-service/internal/config"
	"github.com/spec-kit/intake-service/internal/domain"
	"github.com/spec-kit/intake-service/internal/repository"
	apperrors "github.com/spec-kit/intake-service/pkg/util/errorutil"
)

// AuthService authenticates internal accounts for the verification flow.
type AuthService struct {
	accounts repository.AccountRepository
	tokenMgr *auth.TokenManager
}

// NewAuthService builds the service.
func NewAuthService(accounts repository.AccountRepository, tokens *auth.TokenManager) *AuthService {
	return &AuthService{accounts: accounts, tokenMgr: tokens}
}

// NewTokenManagerFromConfig builds the shared token manager.
func NewTokenManagerFromConfig(cfg config.AuthConfig) *auth.TokenManager {
	return auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes, cfg.VerificationTTLMinutes)
}

// Login checks credentials and issues an access token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.Account, string, time.Time, error) {
	account, err := s.accounts.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, "", time.Time{}, err
	}
	if err := auth.ComparePassword(account.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	token, exp, err := s.tokenMgr.GenerateToken(account)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return account, token, exp, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

// VerificationLinks signs verification tokens and renders them as portal links.
type VerificationLinks struct {
	tokens  *auth.TokenManager
	baseURL string
}

// NewVerificationLinks builds the link issuer used by the dialog engine.
func NewVerificationLinks(tokens *auth.TokenManager, baseURL string) *VerificationLinks {
	return &VerificationLinks{tokens: tokens, baseURL: baseURL}
}

// IssueLink signs the binding and returns the redemption URL.
func (v *VerificationLinks) IssueLink(link domain.VerificationLink) (string, error) {
	token, _, err := v.tokens.IssueVerification(link)
	if err != nil {
		return "", err
	}
	return v.baseURL + "?token=" + url.QueryEscape(token), nil
}

package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/intake-service/internal/api/dto"
	"github.com/spec-kit/intake-service/internal/auth"
	"github.com/spec-kit/intake-service/internal/service"
	apperrors "github.com/spec-kit/intake-service/pkg/util/errorutil"
)

// VerificationHandler redeems WhatsApp verification links.
type VerificationHandler struct {
	service *service.VerificationService
}

// NewVerificationHandler constructs handler.
func NewVerificationHandler(verification *service.VerificationService) *VerificationHandler {
	return &VerificationHandler{service: verification}
}

// Redeem handles POST /verification/redeem.
func (h *VerificationHandler) Redeem(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("account required")
	}
	var req dto.RedeemRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Token) == "" {
		return apperrors.NewValidationError("token required", nil)
	}

	identity, err := h.service.Redeem(c.UserContext(), *principal, req.Token)
	if err != nil {
		return err
	}

	resp := dto.LinkedIdentityResponse{
		IdentityID: identity.ID,
		Address:    identity.Address,
		Capability: string(identity.Capability),
	}
	if identity.AccountID != nil {
		resp.AccountID = *identity.AccountID
	}
	return c.JSON(fiber.Map{"data": resp})
}

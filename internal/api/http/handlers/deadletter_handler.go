package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/intake-service/internal/api/dto"
	"github.com/spec-kit/intake-service/internal/queue"
	"github.com/spec-kit/intake-service/internal/service"
	apperrors "github.com/spec-kit/intake-service/pkg/util/errorutil"
)

// DeadLetterHandler lets administrators inspect and replay failed jobs.
type DeadLetterHandler struct {
	service *service.DeadLetterService
}

// NewDeadLetterHandler constructs handler.
func NewDeadLetterHandler(deadLetters *service.DeadLetterService) *DeadLetterHandler {
	return &DeadLetterHandler{service: deadLetters}
}

// List handles GET /admin/dead-letters.
func (h *DeadLetterHandler) List(c *fiber.Ctx) error {
	letters, err := h.service.List(c.UserContext(), c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	items := make([]dto.DeadLetterResponse, 0, len(letters))
	for i := range letters {
		items = append(items, deadLetterResponse(&letters[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Replay handles POST /admin/dead-letters/:id/replay.
func (h *DeadLetterHandler) Replay(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return apperrors.NewValidationError("id required", nil)
	}
	letter, err := h.service.Replay(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": deadLetterResponse(letter)})
}

func deadLetterResponse(letter *queue.DeadLetter) dto.DeadLetterResponse {
	job := letter.Message.Job
	return dto.DeadLetterResponse{
		ID:           letter.ID,
		JobID:        job.ID,
		Token:        job.Token,
		Address:      job.Address,
		Kind:         string(job.Kind),
		Attempt:      letter.Message.Attempt,
		Error:        letter.Error,
		SourceStream: letter.SourceStream,
		FailedAt:     letter.FailedAt,
	}
}

package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util"
)

// CommentsHandler exposes comment endpoints.
type CommentsHandler struct {
	tickets *service.TicketService
}

// NewCommentsHandler constructs handler.
func NewCommentsHandler(tickets *service.TicketService) *CommentsHandler {
	return &CommentsHandler{tickets: tickets}
}

// Create handles POST /api/tickets/:id/comments.
func (h *CommentsHandler) Create(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewAuthRequired()
	}

	var req dto.CommentCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload")
	}

	comment, err := h.tickets.PostComment(c.UserContext(), c.Params("id"), principal.UserID, req.Body, req.ParentID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(dto.NewCommentResponse(comment))
}

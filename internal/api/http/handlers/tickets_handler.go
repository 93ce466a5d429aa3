package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/idempotency"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util"
)

// TicketsHandler exposes ticket endpoints.
type TicketsHandler struct {
	tickets *service.TicketService
	idem    *idempotency.Cache
	logger  *zap.Logger
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, idem *idempotency.Cache, logger *zap.Logger) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, idem: idem, logger: logger}
}

// Create handles POST /api/tickets.
func (h *TicketsHandler) Create(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewAuthRequired()
	}

	var req dto.TicketCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload")
	}

	input := service.TicketCreateInput{
		Title:       req.Title,
		Description: req.Description,
		AssigneeID:  req.AssigneeID,
		SLAMinutes:  req.SLAMinutes,
	}
	if req.Priority != nil {
		p := domain.TicketPriority(*req.Priority)
		input.Priority = &p
	}

	ticket, err := h.tickets.CreateTicket(c.UserContext(), principal.UserID, input)
	if err != nil {
		return err
	}

	resp := dto.NewTicketResponse(ticket)
	body, err := json.Marshal(resp)
	if err != nil {
		return apperrors.MapError(err)
	}

	// Persist the exact bytes so a replay under the same Idempotency-Key is
	// byte-identical to the first response.
	if key, pending := idempotency.KeyFromContext(c); pending {
		record := idempotency.RecordFor(key, principal, body, http.StatusCreated)
		if err := h.idem.Save(c.UserContext(), record); err != nil {
			h.logger.Warn("idempotency record save failed", zap.String("key", key), zap.Error(err))
		}
	}

	c.Status(http.StatusCreated)
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}

// List handles GET /api/tickets.
func (h *TicketsHandler) List(c *fiber.Ctx) error {
	filter := service.TicketListFilter{
		Limit:  parseIntQuery(c, "limit", 0),
		Offset: parseIntQuery(c, "offset", 0),
	}
	if q := c.Query("query"); q != "" {
		filter.Text = &q
	}
	if status := c.Query("status"); status != "" {
		s := domain.TicketStatus(status)
		filter.Status = &s
	}
	if assignee := c.Query("assignee"); assignee != "" {
		filter.AssigneeID = &assignee
	}
	if breached := c.Query("breached"); breached == "true" || breached == "1" {
		filter.BreachedOnly = true
	}

	page, err := h.tickets.ListTickets(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketListResponse(page.Items, page.NextOffset))
}

// ListBreached handles GET /api/tickets/breached.
func (h *TicketsHandler) ListBreached(c *fiber.Ctx) error {
	items, err := h.tickets.ListBreached(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketListResponse(items, nil))
}

// Get handles GET /api/tickets/:id.
func (h *TicketsHandler) Get(c *fiber.Ctx) error {
	ticket, comments, timeline, err := h.tickets.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketDetailResponse(ticket, comments, timeline))
}

// Patch handles PATCH /api/tickets/:id.
func (h *TicketsHandler) Patch(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewAuthRequired()
	}

	var req dto.TicketPatchRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload")
	}

	input := service.TicketPatchInput{
		Title:       req.Title,
		Description: req.Description,
		AssigneeID:  req.AssigneeID,
		SLAMinutes:  req.SLAMinutes,
	}
	if req.Status != nil {
		s := domain.TicketStatus(*req.Status)
		input.Status = &s
	}
	if req.Priority != nil {
		p := domain.TicketPriority(*req.Priority)
		input.Priority = &p
	}

	version := ParseIfMatch(c.Get(fiber.HeaderIfMatch))
	ticket, err := h.tickets.PatchTicket(c.UserContext(), principal.UserID, principal.Role, c.Params("id"), version, input)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderETag, strconv.FormatInt(ticket.Version, 10))
	return c.JSON(dto.NewTicketResponse(ticket))
}

func parseIntQuery(c *fiber.Ctx, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

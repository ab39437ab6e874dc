package http

import (
	stderrors "errors"

	"github.com/ahmadnk31/gsm-sync/internal/shared/errors"
	"github.com/ahmadnk31/gsm-sync/internal/shared/logger"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/model"
	"github.com/ahmadnk31/gsm-sync/internal/sync/usecase"

	"github.com/gofiber/fiber/v2"
)

// ViewHandler exposes the read-only sync surface to the presentation layer.
// It never mutates the caches directly; mutations go through the session,
// which routes them to the external data store.
type ViewHandler struct {
	session *usecase.SyncSession
	log     logger.Logger
}

// NewViewHandler creates a ViewHandler bound to one sync session.
func NewViewHandler(session *usecase.SyncSession, log logger.Logger) *ViewHandler {
	return &ViewHandler{
		session: session,
		log:     log.WithComponent("view-handler"),
	}
}

// RegisterRoutes registers the read endpoints.
func (h *ViewHandler) RegisterRoutes(router fiber.Router) {
	api := router.Group("/api/v1")

	api.Get("/views/:kind", h.handleGetView)
	api.Patch("/views/:kind/:id", h.handleMutate)
	api.Get("/conversations/:id/unread", h.handleUnreadCount)
	api.Post("/conversations/:id/read", h.handleMarkRead)
}

// handleGetView returns the current snapshot for one entity kind.
func (h *ViewHandler) handleGetView(c *fiber.Ctx) error {
	kind := model.EntityKind(c.Params("kind"))
	if !kind.IsValid() {
		return respondError(c, errors.NewValidationError("unknown entity kind").
			WithDetail("entity_kind", c.Params("kind")))
	}

	snapshot, err := h.session.GetView(kind)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(snapshot)
}

// handleMutate forwards a patch to the data store. The confirmed row comes
// back in the response and re-enters the cache as an authoritative update.
func (h *ViewHandler) handleMutate(c *fiber.Ctx) error {
	kind := model.EntityKind(c.Params("kind"))
	if !kind.IsValid() {
		return respondError(c, errors.NewValidationError("unknown entity kind").
			WithDetail("entity_kind", c.Params("kind")))
	}

	patch := map[string]interface{}{}
	if err := c.BodyParser(&patch); err != nil {
		return respondError(c, errors.NewValidationError("invalid patch body").WithCause(err))
	}

	updated, err := h.session.Mutate(c.UserContext(), kind, c.Params("id"), patch)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(updated)
}

// handleUnreadCount returns the derived unread counter for one conversation.
func (h *ViewHandler) handleUnreadCount(c *fiber.Ctx) error {
	count, err := h.session.GetUnreadCount(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"conversation_id": c.Params("id"),
		"unread":          count,
	})
}

// handleMarkRead zeroes the conversation counter after the store confirms.
func (h *ViewHandler) handleMarkRead(c *fiber.Ctx) error {
	if err := h.session.MarkRead(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"conversation_id": c.Params("id"),
		"unread":          0,
	})
}

// respondError maps application errors onto HTTP responses.
func respondError(c *fiber.Ctx, err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return c.Status(appErr.HTTPCode).JSON(fiber.Map{
			"error":   string(appErr.Type),
			"message": appErr.Message,
			"details": appErr.Details,
		})
	}

	if stderrors.Is(err, errors.ErrSessionClosed) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   "SESSION_CLOSED",
			"message": err.Error(),
		})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "INTERNAL_ERROR",
		"message": err.Error(),
	})
}

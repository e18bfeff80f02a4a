package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cohort-pools/internal/middleware"
	"github.com/iliyamo/cohort-pools/internal/service"
)

// ChatHandler serves matches, conversation continuation and blocks.
type ChatHandler struct {
	Conversations *service.Conversations
	Safety        *service.Safety
	Log           *slog.Logger
}

// NewChatHandler panics when a service is missing.
func NewChatHandler(s *service.Services, log *slog.Logger) *ChatHandler {
	if s == nil || s.Conversations == nil || s.Safety == nil {
		panic("nil service passed to NewChatHandler")
	}
	return &ChatHandler{Conversations: s.Conversations, Safety: s.Safety, Log: log}
}

// Matches lists the caller's matches, newest first.
func (h *ChatHandler) Matches(c echo.Context) error {
	viewer := middleware.UserID(c)
	matches, err := h.Conversations.ListMatches(c.Request().Context(), viewer)
	if err != nil {
		return fail(c, h.Log, err)
	}
	out := make([]MatchView, 0, len(matches))
	for _, m := range matches {
		out = append(out, matchView(m, viewer))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// Conversation returns one of the caller's conversations.
func (h *ChatHandler) Conversation(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid conversation id")
	}
	conv, err := h.Conversations.Get(c.Request().Context(), middleware.UserID(c), id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, conversationView(conv))
}

// Continue records the caller's wish to keep the conversation open.
func (h *ChatHandler) Continue(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid conversation id")
	}
	res, err := h.Conversations.RequestContinuation(c.Request().Context(), middleware.UserID(c), id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Block stops contact between the caller and a matched user.
func (h *ChatHandler) Block(c echo.Context) error {
	var req struct {
		UserID string `json:"user_id"`
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if err := h.Safety.Block(c.Request().Context(), middleware.UserID(c), req.UserID, req.Reason); err != nil {
		return fail(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Unblock lifts the caller's block on :user_id.
func (h *ChatHandler) Unblock(c echo.Context) error {
	if err := h.Safety.Unblock(c.Request().Context(), middleware.UserID(c), c.Param("user_id")); err != nil {
		return fail(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

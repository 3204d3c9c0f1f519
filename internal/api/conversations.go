package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/omnirouter/internal/api/auth"
	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/dispatch"
)

type agentReplyRequest struct {
	Text string `json:"text"`
}

// handleAgentReply delivers a human agent's reply through the conversation's platform.
func (s *Server) handleAgentReply(c echo.Context) error {
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing claims")
	}

	var req agentReplyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	ctx := c.Request().Context()
	conversationID := c.Param("id")
	conv, err := s.deps.Conversations.GetConversation(ctx, conversationID)
	if errors.Is(err, conversation.ErrNotFound) || (err == nil && conv.OrganizationID != claims.OrgID) {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if err != nil {
		return err
	}

	if err := s.deps.Replies.SendAgentReply(ctx, conv.ID, text); err != nil {
		s.logger.Warn().
			Err(err).
			Str("failure", "dispatch").
			Str("conversation_id", conv.ID).
			Int64("user_id", claims.UserID).
			Msg("agent reply not delivered")
		if dispatch.Permanent(err) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, "provider rejected the reply")
	}

	s.logger.Info().
		Str("conversation_id", conv.ID).
		Int64("user_id", claims.UserID).
		Msg("agent reply delivered")
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/omnirouter/internal/capture"
	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/core_processor"
	"github.com/omnirouter/internal/providers"
)

// webhookTarget resolves the :platform and :org_id path segments.
func (s *Server) webhookTarget(c echo.Context) (providers.Adapter, int64, error) {
	platform, err := conversation.ParsePlatform(c.Param("platform"))
	if err != nil {
		return nil, 0, echo.NewHTTPError(http.StatusNotFound, "unknown platform")
	}
	adapter, err := s.deps.Adapters.Get(platform)
	if err != nil {
		return nil, 0, echo.NewHTTPError(http.StatusNotFound, "unknown platform")
	}
	orgID, err := strconv.ParseInt(c.Param("org_id"), 10, 64)
	if err != nil || orgID <= 0 {
		return nil, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid organization id")
	}
	return adapter, orgID, nil
}

func (s *Server) credentials(c echo.Context, orgID int64, platform conversation.Platform) *conversation.Integration {
	creds, err := s.deps.Integrations.GetIntegration(c.Request().Context(), orgID, platform)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("failure", "config_missing").
			Int64("org_id", orgID).
			Str("platform", string(platform)).
			Msg("integration lookup failed")
		return nil
	}
	return creds
}

// handleHandshake answers the provider's subscription challenge.
func (s *Server) handleHandshake(c echo.Context) error {
	adapter, orgID, err := s.webhookTarget(c)
	if err != nil {
		return err
	}
	creds := s.credentials(c, orgID, adapter.Platform())

	challenge, ok := adapter.VerifyHandshake(c.QueryParams(), creds)
	if !ok {
		s.logger.Warn().
			Str("failure", "verification").
			Int64("org_id", orgID).
			Str("platform", string(adapter.Platform())).
			Msg("webhook handshake rejected")
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, challenge)
}

// handleDelivery verifies a delivery and hands it to the router without waiting for it to
// be processed.
func (s *Server) handleDelivery(c echo.Context) error {
	adapter, orgID, err := s.webhookTarget(c)
	if err != nil {
		return err
	}
	platform := adapter.Platform()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	creds := s.credentials(c, orgID, platform)

	if err := adapter.VerifySignature(c.Request().Header, body, creds); err != nil {
		s.logger.Warn().
			Err(err).
			Str("failure", "verification").
			Int64("org_id", orgID).
			Str("platform", string(platform)).
			Msg("webhook signature rejected")
		return echo.NewHTTPError(http.StatusForbidden, "invalid signature")
	}

	receivedAt := s.deps.Now()
	s.deps.Recorder.RecordDelivery(capture.Delivery{
		Platform:       string(platform),
		OrganizationID: orgID,
		Headers:        c.Request().Header.Clone(),
		ReceivedAt:     receivedAt,
	}, body)

	err = s.deps.Deliveries.Submit(core_processor.Delivery{
		OrganizationID: orgID,
		Platform:       platform,
		Body:           body,
		ReceivedAt:     receivedAt,
	})
	if errors.Is(err, core_processor.ErrQueueFull) || errors.Is(err, core_processor.ErrPoolStopped) {
		s.logger.Warn().
			Err(err).
			Int64("org_id", orgID).
			Str("platform", string(platform)).
			Msg("delivery refused, router saturated")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "try again later")
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "received"})
}

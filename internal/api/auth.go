package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/atlathelper/internal/token"
)

// authLogin sends the user to the auth proxy's login endpoint, asking it
// to come back to our callback with the tokens.
func (s *Server) authLogin(c echo.Context) error {
	if s.loginURL == "" {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "auth proxy is not configured")
	}
	callback := fmt.Sprintf("%s://%s/auth/atlassian/callback", c.Scheme(), c.Request().Host)

	u, err := url.Parse(s.loginURL)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "invalid auth proxy URL")
	}
	q := u.Query()
	q.Set("redirect_to", callback)
	u.RawQuery = q.Encode()

	return c.Redirect(http.StatusFound, u.String())
}

// authCallback receives the tokens from the auth proxy and persists them.
// Saving replaces whatever credential was stored before.
func (s *Server) authCallback(c echo.Context) error {
	access := c.QueryParam("access_token")
	if access == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing access_token")
	}
	refresh := c.QueryParam("refresh_token")
	expiresIn, _ := strconv.ParseInt(c.QueryParam("expires_in"), 10, 64)

	cred := token.FromOAuthResponse(access, refresh, expiresIn, time.Now())
	if err := s.tokens.Save(c.Request().Context(), cred); err != nil {
		log.Error().Err(err).Msg("failed to persist Atlassian credential")
		return echo.NewHTTPError(http.StatusInternalServerError, "could not store credential")
	}

	log.Info().Bool("has_refresh_token", refresh != "").Msg("Atlassian account connected")
	return c.JSON(http.StatusOK, map[string]string{
		"status": "connected",
	})
}

// authStatus reports whether an Atlassian credential is stored.
func (s *Server) authStatus(c echo.Context) error {
	cred, err := s.tokens.Get(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not read credential")
	}
	status := map[string]any{"connected": cred != nil}
	if cred != nil && cred.ExpiresAt != nil {
		status["expires_at"] = cred.ExpiresAt
	}
	return c.JSON(http.StatusOK, status)
}

package authproxy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

// Scopes requested on login. offline_access is required to get refresh
// tokens back from the authorization server.
var loginScopes = []string{
	"read:jira-work",
	"write:jira-work",
	"read:confluence-content.all",
	"write:confluence-content",
	"offline_access",
}

// ServerConfig configures the exchange proxy process.
type ServerConfig struct {
	Port         int
	PublicURL    string // public base URL of this proxy (its /callback must be reachable)
	ClientID     string
	ClientSecret string
	AuthorizeURL string // authorization endpoint, e.g. https://auth.atlassian.com/authorize
	TokenURL     string // token endpoint, e.g. https://auth.atlassian.com/oauth/token
}

// Server is the OAuth three-legged exchange proxy. It is the only process
// that sees the client secret; agent instances bounce users here for login
// and call /refresh for token renewal.
type Server struct {
	echo       *echo.Echo
	cfg        ServerConfig
	httpClient *http.Client
}

func NewServer(cfg ServerConfig) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:       e,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	e.GET("/", s.root)
	e.GET("/login", s.login)
	e.GET("/callback", s.callback)
	e.POST("/refresh", s.refresh)

	return s
}

// proxyState is round-tripped through the authorization server's state
// parameter so the callback knows where to send the user back.
type proxyState struct {
	RedirectTo  string `json:"redirect_to"`
	ClientState string `json:"client_state"`
}

func encodeState(st proxyState) (string, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

func decodeState(encoded string) (proxyState, error) {
	var st proxyState
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, err
	}
	return st, nil
}

func (s *Server) root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "atlathelper-auth-proxy",
	})
}

func (s *Server) login(c echo.Context) error {
	redirectTo := c.QueryParam("redirect_to")
	if redirectTo == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "redirect_to is required")
	}

	state, err := encodeState(proxyState{
		RedirectTo:  redirectTo,
		ClientState: c.QueryParam("state"),
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to encode state")
	}

	params := url.Values{}
	params.Set("audience", "api.atlassian.com")
	params.Set("client_id", s.cfg.ClientID)
	params.Set("scope", strings.Join(loginScopes, " "))
	params.Set("redirect_uri", s.callbackURL())
	params.Set("state", state)
	params.Set("response_type", "code")
	params.Set("prompt", "consent")

	return c.Redirect(http.StatusFound, s.cfg.AuthorizeURL+"?"+params.Encode())
}

func (s *Server) callback(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}

	st, err := decodeState(c.QueryParam("state"))
	if err != nil || st.RedirectTo == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid state parameter")
	}

	tr, status, err := s.exchange(c.Request().Context(), map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     s.cfg.ClientID,
		"client_secret": s.cfg.ClientSecret,
		"code":          code,
		"redirect_uri":  s.callbackURL(),
	})
	if err != nil {
		log.Error().Err(err).Msg("authorization code exchange failed")
		return echo.NewHTTPError(http.StatusBadGateway, "token exchange failed")
	}
	if status < 200 || status > 299 {
		return c.Redirect(http.StatusFound, st.RedirectTo+"?"+url.Values{
			"error": {fmt.Sprintf("token exchange rejected (%d)", status)},
		}.Encode())
	}

	// Tokens go back to the caller as query parameters; the caller is a
	// localhost agent instance, which is the standard shape for this flow.
	params := url.Values{}
	params.Set("access_token", tr.AccessToken)
	if tr.RefreshToken != "" {
		params.Set("refresh_token", tr.RefreshToken)
	}
	if tr.ExpiresIn > 0 {
		params.Set("expires_in", fmt.Sprintf("%d", tr.ExpiresIn))
	}
	if st.ClientState != "" {
		params.Set("state", st.ClientState)
	}

	return c.Redirect(http.StatusFound, st.RedirectTo+"?"+params.Encode())
}

func (s *Server) refresh(c echo.Context) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.Bind(&body); err != nil || body.RefreshToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing refresh_token")
	}

	tr, status, err := s.exchange(c.Request().Context(), map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     s.cfg.ClientID,
		"client_secret": s.cfg.ClientSecret,
		"refresh_token": body.RefreshToken,
	})
	if err != nil {
		log.Error().Err(err).Msg("refresh exchange failed")
		return echo.NewHTTPError(http.StatusBadGateway, "token refresh failed")
	}

	// Pass the authorization server's verdict through unchanged.
	if status < 200 || status > 299 {
		return c.JSON(status, map[string]string{"error": "refresh rejected"})
	}
	return c.JSON(status, tr)
}

func (s *Server) exchange(ctx context.Context, payload map[string]string) (*TokenResponse, int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL, strings.NewReader(string(raw)))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	var tr TokenResponse
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if err := json.Unmarshal(data, &tr); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("failed to decode token response: %w", err)
		}
	}
	return &tr, resp.StatusCode, nil
}

func (s *Server) callbackURL() string {
	return strings.TrimSuffix(s.cfg.PublicURL, "/") + "/callback"
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start runs the proxy until interrupted.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.cfg.Port)); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("auth proxy stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

package httpserver

import (
	"errors"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nasertech9/OIChatBot-AI-2025/internal/audio"
	"github.com/nasertech9/OIChatBot-AI-2025/internal/auth"
	"github.com/nasertech9/OIChatBot-AI-2025/internal/chat"
	"github.com/nasertech9/OIChatBot-AI-2025/internal/store"
	"github.com/nasertech9/OIChatBot-AI-2025/internal/stt"
)

// Deps are the wired application components the server exposes over HTTP.
// RecognizerFactory may be nil, in which case speech input reports as
// unavailable rather than failing requests.
type Deps struct {
	Auth              *auth.Service
	Session           *chat.Session
	Records           *store.Store
	Playback          *audio.Switch
	RecognizerFactory func() stt.Recognizer
}

// Server bundles the router and the speech-input bridge.
type Server struct {
	Router *echo.Echo

	auth     *auth.Service
	session  *chat.Session
	records  *store.Store
	playback *audio.Switch
	bridge   *stt.Bridge

	micMu sync.Mutex
	mic   micConn
}

// New constructs the HTTP server with routes.
func New(deps Deps) *Server {
	s := &Server{
		auth:     deps.Auth,
		session:  deps.Session,
		records:  deps.Records,
		playback: deps.Playback,
	}
	if b, ok := stt.Detect(deps.RecognizerFactory, s.onTranscript, s.onListening); ok {
		s.bridge = b
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	api := e.Group("/api")
	api.POST("/register", s.handleRegister)
	api.POST("/login", s.handleLogin)
	api.POST("/logout", s.handleLogout)
	api.GET("/session", s.handleSession)

	api.GET("/messages", s.handleMessages)
	api.POST("/messages", s.handleSend)
	api.POST("/chat/new", s.handleNewChat)

	api.GET("/prefs/theme", s.handleGetTheme)
	api.POST("/prefs/theme", s.handleSetTheme)
	api.POST("/prefs/tts", s.handleToggleTTS)

	api.GET("/stt", s.handleSTTStatus)
	api.POST("/stt/start", s.handleSTTStart)
	api.POST("/stt/stop", s.handleSTTStop)

	e.GET("/ws/mic", s.handleMicSocket)
	e.GET("/ws/audio", s.handleAudioSocket)

	s.Router = e
	return s
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	Username string `json:"username"`
}

func authStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrUsernameTaken):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleRegister(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	user, err := s.auth.Register(req.Username, req.Password)
	if err != nil {
		return echo.NewHTTPError(authStatus(err), err.Error())
	}
	s.session.Initialize(user.Username)
	return c.JSON(http.StatusCreated, userResponse{Username: user.Username})
}

func (s *Server) handleLogin(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	user, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		return echo.NewHTTPError(authStatus(err), err.Error())
	}
	s.session.Initialize(user.Username)
	return c.JSON(http.StatusOK, userResponse{Username: user.Username})
}

func (s *Server) handleLogout(c echo.Context) error {
	s.auth.Logout()
	s.session.Initialize("")
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSession(c echo.Context) error {
	user, ok := s.auth.CurrentUser()
	if !ok {
		return c.JSON(http.StatusOK, map[string]any{"authenticated": false})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"authenticated": true,
		"username":      user.Username,
		"theme":         s.records.Theme(),
		"ttsEnabled":    s.session.SpeechOutputEnabled(),
	})
}

type logResponse struct {
	Messages []chat.Message `json:"messages"`
	Sending  bool           `json:"sending"`
}

func (s *Server) handleMessages(c echo.Context) error {
	return c.JSON(http.StatusOK, logResponse{
		Messages: s.session.CurrentLog(),
		Sending:  s.session.IsSending(),
	})
}

func (s *Server) handleNewChat(c echo.Context) error {
	s.session.NewChat()
	return c.JSON(http.StatusOK, logResponse{Messages: s.session.CurrentLog()})
}

type themeRequest struct {
	Theme string `json:"theme"`
}

func (s *Server) handleGetTheme(c echo.Context) error {
	return c.JSON(http.StatusOK, themeRequest{Theme: s.records.Theme()})
}

func (s *Server) handleSetTheme(c echo.Context) error {
	var req themeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Theme != store.ThemeLight && req.Theme != store.ThemeDark {
		return echo.NewHTTPError(http.StatusBadRequest, "theme must be light or dark")
	}
	s.records.SetTheme(req.Theme)
	return c.JSON(http.StatusOK, themeRequest{Theme: s.records.Theme()})
}

func (s *Server) handleToggleTTS(c echo.Context) error {
	enabled := s.session.ToggleSpeechOutput()
	return c.JSON(http.StatusOK, map[string]bool{"enabled": enabled})
}

func (s *Server) handleSTTStatus(c echo.Context) error {
	available := s.bridge != nil
	listening := false
	if available {
		listening = s.bridge.IsListening()
	}
	return c.JSON(http.StatusOK, map[string]bool{
		"available": available,
		"listening": listening,
	})
}

func (s *Server) handleSTTStart(c echo.Context) error {
	if s.bridge == nil {
		return echo.NewHTTPError(http.StatusConflict, "speech recognition is not available")
	}
	s.bridge.Start()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSTTStop(c echo.Context) error {
	if s.bridge == nil {
		return echo.NewHTTPError(http.StatusConflict, "speech recognition is not available")
	}
	s.bridge.Stop()
	return c.NoContent(http.StatusNoContent)
}

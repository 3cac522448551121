package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"panelchat-gateway/internal/config"
	"panelchat-gateway/internal/models"
	"panelchat-gateway/internal/normalize"
	"panelchat-gateway/internal/provider"
)

const (
	// Screenshots travel inline as base64 data URLs, so the body cap is
	// far above a typical JSON API's.
	maxBodyBytes        = 20 << 20 // 20 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 120 * time.Second
	idleTimeout         = 120 * time.Second
)

// ProviderFactory builds a credential-validated adapter per request.
type ProviderFactory interface {
	Create(ctx context.Context, name, credential string) (provider.Provider, error)
}

// ModelLister is the raw REST fallback consulted when an adapter cannot
// list models itself.
type ModelLister interface {
	Supports(name string) bool
	Fetch(ctx context.Context, name, credential string) ([]models.ModelDescriptor, error)
}

type Server struct {
	cfg     config.Config
	factory ProviderFactory
	lister  ModelLister
	app     *echo.Echo
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, factory ProviderFactory, lister ModelLister) (*Server, error) {
	if factory == nil {
		return nil, errors.New("provider factory must not be nil")
	}
	if lister == nil {
		return nil, errors.New("model lister must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = gatewayErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
				"error", v.Error,
			)
			return nil
		},
	}))
	// The dashboard panel is served from a different origin than the
	// gateway.
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
	}))

	srv := &Server{
		cfg:     cfg,
		factory: factory,
		lister:  lister,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	slog.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/models", s.handleModels)
	s.app.POST("/chat", s.handleChat)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type modelsRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey"`
}

func (s *Server) handleModels(c echo.Context) error {
	var req modelsRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if err := validateCredentialFields("provider", req.Provider, req.APIKey); err != nil {
		return err
	}

	ctx := c.Request().Context()

	p, err := s.factory.Create(ctx, req.Provider, req.APIKey)
	if err != nil {
		return toHTTPError(err)
	}

	descriptors, err := p.ListModels(ctx)
	if err != nil && s.lister.Supports(req.Provider) {
		slog.Warn("adapter model listing failed, using REST fallback",
			"provider", req.Provider, "err", err)
		descriptors, err = s.lister.Fetch(ctx, req.Provider, req.APIKey)
	}
	if err != nil {
		return toHTTPError(err)
	}

	// The panel binds the response straight into its model picker, so the
	// body is the bare array.
	if descriptors == nil {
		descriptors = []models.ModelDescriptor{}
	}
	return c.JSON(http.StatusOK, descriptors)
}

type chatRequest struct {
	Provider   string           `json:"llmProvider"`
	APIKey     string           `json:"apiKey"`
	Messages   []models.Message `json:"messages"`
	Screenshot string           `json:"screenshot,omitempty"`
	PanelData  json.RawMessage  `json:"panelData,omitempty"`
	Model      string           `json:"model,omitempty"`
	Options    models.Options   `json:"options,omitempty"`
}

type structuredReply struct {
	Thought  string `json:"thought"`
	Response string `json:"response"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if err := validateCredentialFields("llmProvider", req.Provider, req.APIKey); err != nil {
		return err
	}
	if len(req.Messages) == 0 {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "messages array is required",
		}
	}

	// Normalization runs before any adapter is constructed so a malformed
	// conversation never costs a credential-validation round-trip.
	prompt, err := normalize.BuildPrompt(req.Provider, req.Messages, req.Screenshot, panelDataText(req.PanelData))
	if err != nil {
		return toHTTPError(err)
	}

	opts := make(models.Options, len(req.Options)+1)
	for key, value := range req.Options {
		opts[key] = value
	}
	if req.Model != "" {
		opts["model"] = req.Model
	}

	// Glama has no default model; reject before the factory spends a
	// credential-validation round trip.
	if req.Provider == "glama" {
		if _, ok := opts.Model(); !ok {
			return toHTTPError(&provider.ConfigError{
				Reason: "missing required option 'model' for provider glama",
			})
		}
	}

	ctx := c.Request().Context()

	p, err := s.factory.Create(ctx, req.Provider, req.APIKey)
	if err != nil {
		return toHTTPError(err)
	}

	reply, err := p.GenerateResponse(ctx, prompt, opts)
	if err != nil {
		return toHTTPError(err)
	}

	if reply.Thought != "" {
		return c.JSON(http.StatusOK, map[string]any{
			"response": structuredReply{Thought: reply.Thought, Response: reply.Response},
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"response": reply.Response})
}

// panelDataText renders the optional panel data attachment as text for
// the context appendix. Raw strings lose their quotes; everything else
// stays compact JSON.
func panelDataText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// validateCredentialFields checks the identity pair shared by both
// endpoints. The provider field is named differently on each route, so
// the caller passes the name the error should carry.
func validateCredentialFields(fieldName, providerName, apiKey string) error {
	if strings.TrimSpace(providerName) == "" {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fieldName + " is required",
		}
	}
	// Local servers resolve their address from the environment when the
	// field is blank.
	if strings.TrimSpace(apiKey) == "" && providerName != "ollama" {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "apiKey is required",
		}
	}
	return nil
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error string `json:"error"`
}

func gatewayErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = c.JSON(reqErr.Status, errorBody{Error: reqErr.Message})
		return
	}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		_ = c.JSON(echoErr.Code, errorBody{Error: fmt.Sprintf("%v", echoErr.Message)})
		return
	}

	slog.Error("unhandled error", "err", err)
	_ = c.JSON(http.StatusInternalServerError, errorBody{Error: "internal server error"})
}

// toHTTPError maps the gateway error taxonomy onto HTTP responses. Every
// classified failure is the caller's to act on (fix the key, pick another
// model, start the local server), so they all answer 400 with the reason
// in the body. Anything unclassified is a server fault.
func toHTTPError(err error) error {
	var (
		cfgErr     *provider.ConfigError
		authErr    *provider.AuthError
		valErr     *provider.ValidationError
		upErr      *provider.UpstreamError
		timeoutErr *provider.TimeoutError
	)

	switch {
	case errors.As(err, &cfgErr),
		errors.As(err, &authErr),
		errors.As(err, &valErr),
		errors.As(err, &timeoutErr),
		errors.As(err, &upErr):
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
		}
	}

	slog.Error("unclassified provider failure", "err", err)
	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
	}
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("panelchat-gateway ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  POST /models")
	fmt.Println("  POST /chat")
	fmt.Printf("Example:\n  curl http://%s:%d/chat -H 'Content-Type: application/json' -d '{\"llmProvider\":\"chatgpt\",\"apiKey\":\"sk-...\",\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", host, port)
}

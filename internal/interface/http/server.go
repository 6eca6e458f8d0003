// Package http exposes the poller's read surface: account snapshots, the
// agenda as an iCalendar feed, stored attachments, the notification
// journal, manual poll triggers, health probes and metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/classeviva-hub/classeviva-poller/internal/application/poll"
	"github.com/classeviva-hub/classeviva-poller/internal/domain/school"
	"github.com/classeviva-hub/classeviva-poller/internal/infrastructure/metrics"
	"github.com/classeviva-hub/classeviva-poller/internal/infrastructure/persistence/postgres"
	"github.com/classeviva-hub/classeviva-poller/internal/interface/http/handlers"
	"github.com/classeviva-hub/classeviva-poller/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// TriggerTimeout bounds a manually triggered poll cycle. The cycle
	// survives a client disconnect.
	TriggerTimeout time.Duration

	// EnableMetrics exposes /metrics.
	EnableMetrics bool

	// RateLimitPerMinute - requests per minute per IP (0 = disabled).
	RateLimitPerMinute int

	// APIKeyHeader - header name for API key authentication.
	APIKeyHeader string

	// APIKeys - valid API keys; an empty list disables authentication.
	APIKeys []string

	// EnableCalendar exposes /accounts/:account/agenda.ics.
	EnableCalendar bool

	// CalendarProductID is the PRODID of exported calendars.
	CalendarProductID string

	// Location decides the day of full-day calendar events.
	Location *time.Location

	// Version is reported by / and /health.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       2 * time.Minute,
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20, // 1 MB
		TriggerTimeout:     90 * time.Second,
		EnableMetrics:      true,
		RateLimitPerMinute: 120,
		APIKeyHeader:       "X-API-Key",
		EnableCalendar:     true,
		CalendarProductID:  "-//classeviva-poller//agenda//IT",
		Version:            "v1",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Poller is the per-account surface the server reads and triggers.
type Poller interface {
	handlers.SnapshotReader
	RunCycle(ctx context.Context) (*school.Snapshot, error)
}

// Accounts resolves account names to pollers.
type Accounts interface {
	Lookup(account string) (Poller, error)
	List() []Poller
}

// JournalReader lists the recent notifications of an account.
type JournalReader interface {
	Recent(ctx context.Context, account string, limit int) ([]postgres.JournalEntry, error)
}

// FileOpener opens a stored attachment of one account.
type FileOpener interface {
	Open(itemID, name string) (*os.File, error)
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	Accounts Accounts

	// Journal is optional; /notifications is not routed without it.
	Journal JournalReader

	// Files maps account names to their attachment stores. Optional.
	Files map[string]FileOpener

	// Metrics is optional; /metrics is not routed without it.
	Metrics *metrics.PollMetrics

	HealthChecker handlers.HealthChecker

	Logger *zap.Logger
}

// FilesURLPrefix is the route under which the stored files of account are
// served, as /<prefix>/<item id>/<file name>.
func FilesURLPrefix(account string) string {
	return "/accounts/" + account + "/files"
}

// RegistryAccounts adapts a poll.Registry to Accounts.
func RegistryAccounts(r *poll.Registry) Accounts {
	return registryAccounts{registry: r}
}

type registryAccounts struct {
	registry *poll.Registry
}

func (a registryAccounts) Lookup(account string) (Poller, error) {
	c, err := a.registry.Get(account)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (a registryAccounts) List() []Poller {
	all := a.registry.All()
	out := make([]Poller, len(all))
	for i, c := range all {
		out[i] = c
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	router     *gin.Engine
	httpServer *http.Server
	calendar   *handlers.CalendarHandler
	logger     *zap.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.HealthChecker == nil {
		deps.HealthChecker = handlers.NewNoopHealthChecker()
	}

	s := &Server{
		config:   config,
		deps:     deps,
		calendar: handlers.NewCalendarHandler(config.CalendarProductID, config.Location),
		logger:   logger.OrNop(deps.Logger).With(logger.Component("http")),
	}

	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(handlers.Recovery(s.logger))
	r.Use(handlers.RequestID(s.logger))
	r.Use(logger.GinMiddleware(s.logger))
	if s.deps.Metrics != nil {
		r.Use(s.deps.Metrics.GinMiddleware())
	}
	r.Use(handlers.SecurityHeaders())
	if s.config.RateLimitPerMinute > 0 {
		r.Use(handlers.NewRateLimiter(s.config.RateLimitPerMinute, time.Minute).Middleware())
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.GET("/healthz", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET("/live", s.handleLive)

	if s.config.EnableMetrics && s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Accounts
	// ─────────────────────────────────────────────────────────────────────────
	auth := handlers.NewAPIKeyAuth(s.config.APIKeyHeader, s.config.APIKeys)
	accounts := r.Group("/accounts", auth.Middleware(), handlers.NoCache())
	accounts.GET("", s.handleListAccounts)
	accounts.GET("/:account/snapshot", s.handleGetSnapshot)
	if s.config.EnableCalendar {
		accounts.GET("/:account/agenda.ics", s.handleGetAgendaCalendar)
	}
	accounts.POST("/:account/poll", s.handleTriggerPoll)
	if s.deps.Journal != nil {
		accounts.GET("/:account/notifications", s.handleListNotifications)
	}
	if len(s.deps.Files) > 0 {
		accounts.GET("/:account/files/:item/:name", s.handleGetFile)
	}

	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "not_found", "Route not found")
	})

	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", zap.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Address()
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
}

func writeJSON(c *gin.Context, status int, data interface{}) {
	writeJSONWithMeta(c, status, data, nil)
}

func writeJSONWithMeta(c *gin.Context, status int, data interface{}, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = "v1"

	c.JSON(status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: handlers.GetRequestID(c),
	})
}

func writeError(c *gin.Context, status int, code, message string) {
	writeErrorWithDetails(c, status, code, message, "")
}

func writeErrorWithDetails(c *gin.Context, status int, code, message, details string) {
	c.AbortWithStatusJSON(status, JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message, Details: details},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: handlers.GetRequestID(c),
	})
}

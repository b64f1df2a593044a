// Package server exposes the HTTP surface of the trader: alert ingestion,
// health and status endpoints, operator logout and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"alert-trader/internal/health"
	"alert-trader/internal/logging"
	"alert-trader/internal/metrics"
	"alert-trader/internal/models"
	"alert-trader/internal/notify"
	"alert-trader/internal/trading"
	"alert-trader/pkg/utils"
)

const maxBody = 64 << 10

// Supervisor is the part of the trading supervisor the server drives.
type Supervisor interface {
	ProcessAlert(ctx context.Context, alert models.Alert) trading.Result
	LoggedIn() bool
	Logout(ctx context.Context) error
	Book() *trading.PositionBook
}

// RecentCounter counts queued alerts newer than a cutoff.
type RecentCounter interface {
	CountDeferredSince(ctx context.Context, since time.Time) (int, error)
}

// Config configures the HTTP server.
type Config struct {
	Addr         string
	RecentWindow time.Duration
	// Health backs /healthz when set.
	Health *health.Monitor
}

// Server serves webhook and status endpoints.
type Server struct {
	addr     string
	router   *gin.Engine
	sup      Supervisor
	recent   RecentCounter
	window   time.Duration
	parser   *AlertParser
	notifier notify.Notifier
	logger   zerolog.Logger
	health   *health.Monitor
	now      func() time.Time
}

// New builds the server and its routes. m may be nil, in which case
// /metrics is not mounted.
func New(cfg Config, sup Supervisor, recent RecentCounter, n notify.Notifier, m *metrics.Metrics, logger zerolog.Logger) (*Server, error) {
	if sup == nil {
		return nil, errors.New("server requires a supervisor")
	}
	parser, err := NewAlertParser()
	if err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 10 * time.Minute
	}
	if n == nil {
		n = notify.NewNoOpNotifier()
	}

	s := &Server{
		addr:     cfg.Addr,
		sup:      sup,
		recent:   recent,
		window:   cfg.RecentWindow,
		health:   cfg.Health,
		parser:   parser,
		notifier: n,
		logger:   logging.WithComponent(logger, "server"),
		now:      utils.NowIST,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.POST("/webhook", s.handleWebhook)
	router.GET("/ping", s.handlePing)
	router.GET("/status", s.handleStatus)
	router.GET("/logout", s.handleLogout)
	router.POST("/logout", s.handleLogout)
	router.GET("/positions", s.handlePositions)
	if s.health != nil {
		router.GET("/healthz", s.handleHealth)
	}
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	s.router = router
	return s, nil
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP server shutdown")
		}
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve http: %w", err)
		}
		return nil
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Str("ip", c.ClientIP()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

func (s *Server) handleWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "unreadable body"})
		return
	}
	s.notifier.Notify(ctx, "Webhook received:\n"+utils.Truncate(string(raw), 500))

	alert, err := s.parser.Parse(raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Invalid alert payload")
		s.notifier.Alert(ctx, fmt.Sprintf("Invalid alert format: %v", err))
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	res := s.sup.ProcessAlert(ctx, alert)
	c.JSON(statusCode(res.Status), res)
}

func statusCode(status trading.ResultStatus) int {
	switch status {
	case trading.ResultPlaced:
		return http.StatusOK
	case trading.ResultQueued:
		return http.StatusAccepted
	case trading.ResultRejected:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handlePing(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

func (s *Server) handleHealth(c *gin.Context) {
	report := s.health.Run(c.Request.Context())
	code := http.StatusOK
	if !report.Healthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

func (s *Server) handleStatus(c *gin.Context) {
	now := s.now()
	recent := 0
	if s.recent != nil {
		n, err := s.recent.CountDeferredSince(c.Request.Context(), now.Add(-s.window))
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to count recent alerts")
		} else {
			recent = n
		}
	}
	pending, active := s.sup.Book().Counts()
	c.JSON(http.StatusOK, gin.H{
		"logged_in":     s.sup.LoggedIn(),
		"active_alerts": recent,
		"pending":       pending,
		"positions":     active,
		"now":           now.Format(time.RFC3339),
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.sup.Logout(c.Request.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Operator logout failed")
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func (s *Server) handlePositions(c *gin.Context) {
	book := s.sup.Book()
	c.JSON(http.StatusOK, gin.H{
		"pending":   book.PendingEntries(),
		"positions": book.Positions(),
	})
}

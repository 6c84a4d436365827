// Package api exposes the small HTTP surface of the bot process: health,
// metrics and the website hook that opens support conversations.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petalia/florabot/internal/models"
	"github.com/petalia/florabot/internal/support"
)

// conversationStarter is the slice of the lifecycle manager the API drives.
type conversationStarter interface {
	StartSupport(ctx context.Context, client support.Party) (*models.SupportTicket, error)
}

// pendingGate dedupes website support requests within the marker TTL.
type pendingGate interface {
	SetPendingRequest(ctx context.Context, telegramID int64) (bool, error)
	ClearPendingRequest(ctx context.Context, telegramID int64) error
}

// Pinger reports dependency liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a plain function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Server hosts the HTTP endpoints next to the bot's long-polling loop.
type Server struct {
	manager conversationStarter
	pending pendingGate
	deps    map[string]Pinger
	logger  *log.Logger
	http    *http.Server
}

// New builds the server. deps maps a dependency name to its health probe.
func New(addr string, manager conversationStarter, pending pendingGate, deps map[string]Pinger, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{manager: manager, pending: pending, deps: deps, logger: logger}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/api/v1/support/request", s.handleSupportRequest)
	return r
}

// Start runs the listener until Shutdown.
func (s *Server) Start() error {
	s.logger.Printf("api: listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
}

type supportRequest struct {
	TelegramID int64  `json:"telegram_id" binding:"required"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

// handleSupportRequest lets the shop website open a conversation on the
// client's behalf. Repeat submissions inside the pending-marker TTL are
// rejected so one impatient click storm cannot hammer the Bot API.
func (s *Server) handleSupportRequest(c *gin.Context) {
	var req supportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx := c.Request.Context()
	fresh, err := s.pending.SetPendingRequest(ctx, req.TelegramID)
	if err != nil {
		s.logger.Printf("api: pending marker for %d: %v", req.TelegramID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Temporary failure"})
		return
	}
	if !fresh {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Support request already pending"})
		return
	}

	ticket, err := s.manager.StartSupport(ctx, support.Party{
		ID:        req.TelegramID,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		// The marker stays only while a conversation is actually being
		// opened; a failed attempt must not lock the client out.
		if cerr := s.pending.ClearPendingRequest(ctx, req.TelegramID); cerr != nil {
			s.logger.Printf("api: clear pending marker for %d: %v", req.TelegramID, cerr)
		}
		if support.IsConfigurationError(err) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Support is not configured"})
			return
		}
		s.logger.Printf("api: start support for %d: %v", req.TelegramID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not open conversation"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"ticket_id": ticket.ID,
		"status":    ticket.Status,
	})
}

// Package httpapi exposes the coordinators over HTTP with gin. Handlers are
// thin: they bind input, call one operation and map its error kind to a
// status code.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bnema/venue-concierge/internal/domain"
)

type SessionService interface {
	Create(ctx context.Context, sourceRef string) (domain.Session, error)
	Start(ctx context.Context, id domain.SessionID, answer string) (domain.Session, error)
	SubmitCandidate(ctx context.Context, id domain.SessionID, candidate string) error
	HandleMessage(ctx context.Context, id domain.SessionID, text, requesterID string) (domain.Reply, error)
	Close(ctx context.Context, id domain.SessionID) error
	Get(id domain.SessionID) (domain.Session, error)
	List() []domain.Session
}

type GrantService interface {
	Request(ctx context.Context, session domain.SessionID, item domain.ItemID, requesterName string) (domain.GrantRequest, error)
	Resolve(ctx context.Context, id domain.GrantID, approved bool, note string) (domain.GrantRequest, error)
	IsAuthorized(ctx context.Context, session domain.SessionID, item domain.ItemID) (bool, error)
	Revoke(ctx context.Context, session domain.SessionID, item domain.ItemID, note string) (domain.GrantRequest, error)
	ListPending(ctx context.Context) ([]domain.GrantRequest, error)
}

type NotificationFeed interface {
	Subscribe(callback func(domain.Notification)) (unsubscribe func())
	List(limit int, unreadOnly bool) []domain.Notification
	MarkRead(id domain.NotificationID) error
	MarkAllRead() int
	UnreadCount() int
}

type CatalogService interface {
	Get(ctx context.Context, key domain.SegmentKey) ([]domain.CatalogItem, error)
	Invalidate(key domain.SegmentKey)
}

type Dependencies struct {
	Sessions      SessionService
	Grants        GrantService
	Notifications NotificationFeed
	Catalog       CatalogService
	Logger        *slog.Logger
}

type Handler struct {
	sessions      SessionService
	grants        GrantService
	notifications NotificationFeed
	catalog       CatalogService
	logger        *slog.Logger
}

func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions:      deps.Sessions,
		grants:        deps.Grants,
		notifications: deps.Notifications,
		catalog:       deps.Catalog,
		logger:        logger,
	}
}

// Router builds the gin engine with recovery and request logging.
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger())
	h.RegisterRoutes(router)
	return router
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	sessions := r.Group("/sessions")
	sessions.POST("", h.createSession)
	sessions.GET("", h.listSessions)
	sessions.GET("/:id", h.getSession)
	sessions.POST("/:id/start", h.startSession)
	sessions.POST("/:id/candidates", h.submitCandidate)
	sessions.POST("/:id/messages", h.handleMessage)
	sessions.DELETE("/:id", h.closeSession)

	grants := r.Group("/grants")
	grants.POST("", h.requestGrant)
	grants.POST("/:id/resolve", h.resolveGrant)
	grants.GET("/pending", h.listPendingGrants)
	grants.GET("/check", h.checkGrant)
	grants.POST("/revoke", h.revokeGrant)

	notifications := r.Group("/notifications")
	notifications.GET("", h.listNotifications)
	notifications.GET("/unread", h.unreadCount)
	notifications.POST("/:id/read", h.markRead)
	notifications.POST("/read-all", h.markAllRead)
	notifications.GET("/stream", h.streamNotifications)

	catalog := r.Group("/catalog")
	catalog.GET("/:segment", h.getSegment)
	catalog.POST("/:segment/invalidate", h.invalidateSegment)
}

// Serve runs an http.Server on addr until ctx is cancelled, then shuts it
// down within shutdownTimeout.
func Serve(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		h.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(started))
	}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, domain.ErrAlreadyResolved),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotRestricted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed", "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bnema/venue-concierge/internal/domain"
)

// streamBuffer bounds notifications waiting for a slow SSE client before
// the hub's own per-subscriber mailbox takes over.
const streamBuffer = 16

type createSessionRequest struct {
	SourceRef string `json:"source_ref"`
}

type startSessionRequest struct {
	Answer string `json:"answer" binding:"required"`
}

type candidateRequest struct {
	Candidate string `json:"candidate" binding:"required"`
}

type messageRequest struct {
	Text        string `json:"text" binding:"required"`
	RequesterID string `json:"requester_id"`
}

type grantRequest struct {
	SessionID     string `json:"session_id" binding:"required"`
	ItemID        string `json:"item_id" binding:"required"`
	RequesterName string `json:"requester_name"`
}

type resolveRequest struct {
	Approved *bool  `json:"approved" binding:"required"`
	Note     string `json:"note"`
}

type revokeRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	ItemID    string `json:"item_id" binding:"required"`
	Note      string `json:"note"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request")
		return
	}

	session, err := h.sessions.Create(c.Request.Context(), req.SourceRef)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSessionView(session))
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions := h.sessions.List()
	views := make([]sessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, toSessionView(session))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

func (h *Handler) getSession(c *gin.Context) {
	session, err := h.sessions.Get(domain.SessionID(c.Param("id")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionView(session))
}

func (h *Handler) startSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "answer is required")
		return
	}

	session, err := h.sessions.Start(c.Request.Context(), domain.SessionID(c.Param("id")), req.Answer)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionView(session))
}

func (h *Handler) submitCandidate(c *gin.Context) {
	var req candidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "candidate is required")
		return
	}

	if err := h.sessions.SubmitCandidate(c.Request.Context(), domain.SessionID(c.Param("id")), req.Candidate); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) handleMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "text is required")
		return
	}

	reply, err := h.sessions.HandleMessage(c.Request.Context(), domain.SessionID(c.Param("id")), req.Text, req.RequesterID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toReplyView(reply))
}

func (h *Handler) closeSession(c *gin.Context) {
	if err := h.sessions.Close(c.Request.Context(), domain.SessionID(c.Param("id"))); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// requestGrant answers 409 with the blocking record when the pair already
// has an outstanding request.
func (h *Handler) requestGrant(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "session_id and item_id are required")
		return
	}

	request, err := h.grants.Request(c.Request.Context(), domain.SessionID(req.SessionID), domain.ItemID(req.ItemID), req.RequesterName)
	if err != nil {
		var duplicate *domain.DuplicateError
		if errors.As(err, &duplicate) {
			c.JSON(http.StatusConflict, gin.H{
				"error":    err.Error(),
				"approved": duplicate.Approved(),
				"existing": toGrantView(duplicate.Existing),
			})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toGrantView(request))
}

func (h *Handler) resolveGrant(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "approved is required")
		return
	}

	request, err := h.grants.Resolve(c.Request.Context(), domain.GrantID(c.Param("id")), *req.Approved, req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toGrantView(request))
}

func (h *Handler) listPendingGrants(c *gin.Context) {
	requests, err := h.grants.ListPending(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": toGrantViews(requests)})
}

func (h *Handler) checkGrant(c *gin.Context) {
	session := c.Query("session_id")
	item := c.Query("item_id")
	if session == "" || item == "" {
		badRequest(c, "session_id and item_id are required")
		return
	}

	authorized, err := h.grants.IsAuthorized(c.Request.Context(), domain.SessionID(session), domain.ItemID(item))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorized": authorized})
}

func (h *Handler) revokeGrant(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "session_id and item_id are required")
		return
	}

	request, err := h.grants.Revoke(c.Request.Context(), domain.SessionID(req.SessionID), domain.ItemID(req.ItemID), req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toGrantView(request))
}

func (h *Handler) listNotifications(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	unreadOnly := c.Query("unread") == "true"

	notifications := h.notifications.List(limit, unreadOnly)
	views := make([]notificationView, 0, len(notifications))
	for _, notification := range notifications {
		views = append(views, toNotificationView(notification))
	}
	c.JSON(http.StatusOK, gin.H{"notifications": views})
}

func (h *Handler) unreadCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"unread": h.notifications.UnreadCount()})
}

func (h *Handler) markRead(c *gin.Context) {
	if err := h.notifications.MarkRead(domain.NotificationID(c.Param("id"))); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) markAllRead(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"marked": h.notifications.MarkAllRead()})
}

// streamNotifications registers one hub subscriber for the lifetime of the
// connection and relays events as server-sent events named by kind.
func (h *Handler) streamNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	events := make(chan domain.Notification, streamBuffer)
	unsubscribe := h.notifications.Subscribe(func(event domain.Notification) {
		select {
		case events <- event:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event := <-events:
			c.SSEvent(string(event.Kind), toNotificationView(event))
			return true
		}
	})
}

func (h *Handler) getSegment(c *gin.Context) {
	key := domain.SegmentKey(c.Param("segment"))
	items, err := h.catalog.Get(c.Request.Context(), key)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"segment": key, "items": toItemViews(items)})
}

func (h *Handler) invalidateSegment(c *gin.Context) {
	h.catalog.Invalidate(domain.SegmentKey(c.Param("segment")))
	c.Status(http.StatusNoContent)
}

// Package http exposes the local control surface. The daemons are driven
// over a loopback REST API the way a UI shell would drive the session core.
package http

import (
	"errors"
	"net/http"
	"strings"

	"livecast/internal/core/domain"
	"livecast/internal/core/session"
	apperrors "livecast/pkg/errors"

	"github.com/gin-gonic/gin"
)

// HostHandler maps the control API onto a host session.
type HostHandler struct {
	host *session.Host
}

func NewHostHandler(host *session.Host) *HostHandler {
	return &HostHandler{host: host}
}

func (h *HostHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/session")
	{
		api.GET("", h.GetSession)
		api.POST("/live", h.GoLive)
		api.POST("/end", h.EndStream)
		api.POST("/comments", h.SendComment)
		api.POST("/hearts", h.SendHeart)
		api.GET("/cohost/requests", h.ListCoHostRequests)
		api.POST("/cohost/requests/:identity/approve", h.ApproveCoHost)
		api.POST("/cohost/requests/:identity/reject", h.RejectCoHost)
	}
}

type GoLiveRequest struct {
	Title       string `json:"title" binding:"required,max=140"`
	Description string `json:"description" binding:"max=2000"`
	Privacy     string `json:"privacy" binding:"omitempty,oneof=public unlisted private"`
}

type CommentRequest struct {
	Text string `json:"text" binding:"required,max=500"`
}

func (h *HostHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.host.Snapshot())
}

func (h *HostHandler) GoLive(c *gin.Context) {
	var req GoLiveRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Privacy == "" {
		req.Privacy = "public"
	}

	if err := h.host.GoLive(c.Request.Context(), strings.TrimSpace(req.Title), req.Description, req.Privacy); err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.host.Snapshot())
}

func (h *HostHandler) EndStream(c *gin.Context) {
	if err := h.host.End(c.Request.Context()); err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.host.Snapshot())
}

func (h *HostHandler) SendComment(c *gin.Context) {
	var req CommentRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.host.SendComment(c.Request.Context(), req.Text); err != nil {
		writeSessionError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *HostHandler) SendHeart(c *gin.Context) {
	if err := h.host.SendHeart(c.Request.Context()); err != nil {
		writeSessionError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *HostHandler) ListCoHostRequests(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"requests": h.host.PendingCoHostRequests()})
}

func (h *HostHandler) ApproveCoHost(c *gin.Context) {
	identity := domain.Identity(c.Param("identity"))
	if err := h.host.ApproveCoHost(c.Request.Context(), identity); err != nil {
		writeSessionError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *HostHandler) RejectCoHost(c *gin.Context) {
	identity := domain.Identity(c.Param("identity"))
	if err := h.host.RejectCoHost(c.Request.Context(), identity); err != nil {
		writeSessionError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// writeSessionError maps domain and layered failures onto HTTP statuses.
func writeSessionError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrStreamNotFound),
		errors.Is(err, domain.ErrCoHostUnknown):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyTitle),
		errors.Is(err, domain.ErrInvalidToken):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrCoHostOutstanding),
		errors.Is(err, domain.ErrStreamEnded),
		errors.Is(err, domain.ErrSessionClosed):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotConnected):
		status = http.StatusServiceUnavailable
	case apperrors.KindOf(err) == apperrors.KindPermission:
		status = http.StatusForbidden
	case apperrors.KindOf(err) == apperrors.KindTransport:
		status = http.StatusBadGateway
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

package http

import (
	"net/http"

	"livecast/internal/core/domain"
	"livecast/internal/core/session"

	"github.com/gin-gonic/gin"
)

// ViewerHandler maps the control API onto a viewer session.
type ViewerHandler struct {
	viewer *session.Viewer
}

func NewViewerHandler(viewer *session.Viewer) *ViewerHandler {
	return &ViewerHandler{viewer: viewer}
}

func (h *ViewerHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/session")
	{
		api.GET("", h.GetSession)
		api.POST("/join", h.Join)
		api.POST("/leave", h.Leave)
		api.POST("/comments", h.SendComment)
		api.POST("/hearts", h.SendHeart)
		api.POST("/cohost/request", h.RequestCoHost)
		api.GET("/cohost", h.GetCoHost)
	}
}

type JoinRequest struct {
	StreamID string `json:"streamId" binding:"required,max=128"`
}

func (h *ViewerHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.viewer.Snapshot())
}

func (h *ViewerHandler) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.viewer.Join(c.Request.Context(), domain.StreamID(req.StreamID)); err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.viewer.Snapshot())
}

func (h *ViewerHandler) Leave(c *gin.Context) {
	if err := h.viewer.Leave(c.Request.Context()); err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.viewer.Snapshot())
}

func (h *ViewerHandler) SendComment(c *gin.Context) {
	var req CommentRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.viewer.SendComment(c.Request.Context(), req.Text); err != nil {
		writeSessionError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *ViewerHandler) SendHeart(c *gin.Context) {
	if err := h.viewer.SendHeart(c.Request.Context()); err != nil {
		writeSessionError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *ViewerHandler) RequestCoHost(c *gin.Context) {
	if err := h.viewer.RequestCoHost(c.Request.Context()); err != nil {
		writeSessionError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// GetCoHost reports the state of this viewer's co-host negotiation, with
// the grant once one was issued.
func (h *ViewerHandler) GetCoHost(c *gin.Context) {
	request := h.viewer.CoHostRequest()
	if request == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no co-host request"})
		return
	}

	resp := gin.H{"request": request}
	if grant := h.viewer.CoHostGrant(); grant != nil {
		resp["grant"] = grant
	}
	c.JSON(http.StatusOK, resp)
}

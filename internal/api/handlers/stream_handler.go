package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/CoderXiaopang/npm-meta/backend/internal/api/middleware"
	"github.com/CoderXiaopang/npm-meta/backend/internal/npm"
	"github.com/CoderXiaopang/npm-meta/backend/internal/services"
)

// StreamHandler handles the merged stream view and all stream writes.
type StreamHandler struct {
	service *services.StreamService
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(service *services.StreamService) *StreamHandler {
	return &StreamHandler{service: service}
}

// RegisterRoutes registers stream routes on an authenticated group.
func (h *StreamHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/streams", h.List)
	router.POST("/streams", h.Create)
	router.PUT("/streams/:id", h.Update)
	router.DELETE("/streams/:id", h.Delete)
	router.POST("/streams/:id/enable", h.Enable)
	router.POST("/streams/:id/disable", h.Disable)
}

type streamRequest struct {
	IncomingPort   int    `json:"incoming_port" binding:"required"`
	ForwardingHost string `json:"forwarding_host" binding:"required"`
	ForwardingPort int    `json:"forwarding_port" binding:"required"`
	Memo           string `json:"memo"`
	DocURL         string `json:"doc_url"`
	TestURL        string `json:"test_url"`
	RepoURL        string `json:"repo_url"`
}

func (r streamRequest) input() services.StreamInput {
	return services.StreamInput{
		IncomingPort:   r.IncomingPort,
		ForwardingHost: r.ForwardingHost,
		ForwardingPort: r.ForwardingPort,
		Memo:           r.Memo,
		DocURL:         r.DocURL,
		TestURL:        r.TestURL,
		RepoURL:        r.RepoURL,
	}
}

// List returns all streams merged with annotations and health status.
func (h *StreamHandler) List(c *gin.Context) {
	streams, err := h.service.ListMerged(c.Request.Context(), middleware.NPMToken(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, streams)
}

// Create creates a stream in NPM and stores its annotation.
func (h *StreamHandler) Create(c *gin.Context) {
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stream, err := h.service.Create(c.Request.Context(), middleware.NPMToken(c), req.input())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, stream)
}

// Update updates a stream in NPM and overwrites its annotation.
func (h *StreamHandler) Update(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}

	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stream, err := h.service.Update(c.Request.Context(), middleware.NPMToken(c), id, req.input())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stream)
}

// Delete removes a stream in NPM and clears its annotation.
func (h *StreamHandler) Delete(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), middleware.NPMToken(c), id); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Stream deleted"})
}

// Enable switches a stream on.
func (h *StreamHandler) Enable(c *gin.Context) {
	h.setEnabled(c, true)
}

// Disable switches a stream off.
func (h *StreamHandler) Disable(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *StreamHandler) setEnabled(c *gin.Context, enabled bool) {
	id, ok := streamID(c)
	if !ok {
		return
	}

	if err := h.service.SetEnabled(c.Request.Context(), middleware.NPMToken(c), id, enabled); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Stream updated"})
}

func streamID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return 0, false
	}
	return uint(id), true
}

// respondServiceError maps service and NPM errors to HTTP statuses. Unmapped
// errors are treated as upstream failures.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, npm.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, npm.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, npm.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

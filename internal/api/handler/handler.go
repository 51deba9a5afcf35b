package handler

import (
	"errors"
	"net/http"
	"strings"

	"go-relay/internal/api/dto"
	"go-relay/internal/core/ports"
	"go-relay/internal/domain"
	"go-relay/internal/service"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	service service.SessionService
}

func NewSessionHandler(svc service.SessionService) *SessionHandler {
	return &SessionHandler{service: svc}
}

// Register mounts the session routes on an /api/v1 group.
func (h *SessionHandler) Register(api *gin.RouterGroup) {
	api.POST("/sessions", h.TriggerSession)
	api.GET("/sessions/:id", h.GetSession)
	api.GET("/sessions/:id/events", h.ListEvents)
	api.GET("/sessions/:id/events/latest", h.LatestEvent)
	api.POST("/sessions/:id/events", h.ReportEvent)
	api.POST("/sessions/:id/cancel", h.CancelSession)
	api.PUT("/sessions/:id/data/:key", h.WriteData)
	api.GET("/sessions/:id/data/:key", h.ReadData)
}

func (h *SessionHandler) TriggerSession(c *gin.Context) {
	var req dto.TriggerSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	sessionID, err := h.service.Trigger(c.Request.Context(), service.TriggerRequest{
		SessionID: req.SessionID,
		Payload:   req.Payload,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.TriggerSessionResponse{SessionID: sessionID})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	view, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *SessionHandler) ListEvents(c *gin.Context) {
	sessionID := c.Param("id")
	events, err := h.service.Events(c.Request.Context(), sessionID, c.Query("after"))
	if err != nil {
		respondError(c, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	c.JSON(http.StatusOK, dto.EventsResponse{SessionID: sessionID, Events: events})
}

func (h *SessionHandler) LatestEvent(c *gin.Context) {
	var statuses []string
	for _, v := range c.QueryArray("status") {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, s)
			}
		}
	}

	event, err := h.service.Latest(c.Request.Context(), c.Param("id"), statuses)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *SessionHandler) ReportEvent(c *gin.Context) {
	var req dto.ReportEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	event, res, err := h.service.Report(c.Request.Context(), c.Param("id"), service.Report{
		EventID:      req.EventID,
		Timestamp:    req.Timestamp,
		Status:       req.Status,
		ErrorMessage: req.ErrorMessage,
		HealthStatus: req.HealthStatus,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	code := http.StatusCreated
	if res == ports.DuplicateIgnored {
		code = http.StatusOK
	}
	c.JSON(code, dto.ReportEventResponse{Result: res.String(), Event: event})
}

func (h *SessionHandler) CancelSession(c *gin.Context) {
	var req dto.CancelSessionRequest
	// the body is optional
	_ = c.ShouldBindJSON(&req)

	event, err := h.service.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *SessionHandler) WriteData(c *gin.Context) {
	var req dto.WriteDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if err := h.service.WriteData(c.Request.Context(), c.Param("id"), c.Param("key"), req.Content); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) ReadData(c *gin.Context) {
	data, err := h.service.ReadData(c.Request.Context(), c.Param("id"), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func respondError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case service.IsClientError(err):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSessionUnknown):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrSessionEnded):
		code = http.StatusConflict
	case domain.IsRetryable(err):
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, dto.ErrorResponse{Error: err.Error()})
}

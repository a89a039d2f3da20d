package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/app"
	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/notification"
	idb "github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/infra/database"
)

// Pinger is what the health check needs from the database handle.
type Pinger interface {
	Ping() error
}

// Handlers exposes the notification subsystem to the rest of the
// application. Responses are success/failure envelopes; no endpoint ever
// echoes credentials.
type Handlers struct {
	sessions    *app.ChannelManager
	broadcaster *app.StatusBroadcaster
	dispatcher  *app.Dispatcher
	reminders   *app.ReminderService
	db          Pinger
	log         *logrus.Entry
}

func NewHandlers(
	sessions *app.ChannelManager,
	broadcaster *app.StatusBroadcaster,
	dispatcher *app.Dispatcher,
	reminders *app.ReminderService,
	db Pinger,
	log *logrus.Entry,
) *Handlers {
	return &Handlers{
		sessions:    sessions,
		broadcaster: broadcaster,
		dispatcher:  dispatcher,
		reminders:   reminders,
		db:          db,
		log:         log,
	}
}

func (h *Handlers) HealthCheck(c *gin.Context) {
	if err := h.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handlers) ChannelStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.sessions.Snapshot()})
}

// ChannelStatusStream feeds session transitions to the client as
// server-sent events, starting with the current snapshot.
func (h *Handlers) ChannelStatusStream(c *gin.Context) {
	updates, cancel := h.broadcaster.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case update, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("status", update)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *Handlers) StartPairing(c *gin.Context) {
	if err := h.sessions.StartPairing(c.Request.Context()); err != nil {
		h.log.WithError(err).Error("Pairing attempt could not be started")
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}
	// Pairing completes asynchronously; observe it via the status stream.
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "pairing started"})
}

func (h *Handlers) Disconnect(c *gin.Context) {
	if err := h.sessions.Disconnect(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "disconnected"})
}

type sendTestRequest struct {
	Contact string `json:"contact" binding:"required"`
	Message string `json:"message" binding:"required"`
	Channel string `json:"channel"`
}

func (h *Handlers) SendTest(c *gin.Context) {
	var req sendTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid JSON payload"})
		return
	}

	ch := notification.ChannelWhatsApp
	if req.Channel != "" {
		ch = notification.Channel(req.Channel)
	}

	result := h.dispatcher.Send(c.Request.Context(), app.SendRequest{
		Contact: req.Contact,
		Text:    req.Message,
		Channel: ch,
	})
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"success": result.Success, "data": result})
}

type sendBatchRequest struct {
	AppointmentIDs []int64 `json:"appointmentIds" binding:"required"`
	CustomMessage  string  `json:"customMessage"`
	Channel        string  `json:"channel" binding:"required"`
	Force          bool    `json:"force"`
}

func (h *Handlers) SendBatch(c *gin.Context) {
	var req sendBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid JSON payload"})
		return
	}

	result, err := h.reminders.SendBatch(c.Request.Context(), req.AppointmentIDs, req.CustomMessage, notification.Channel(req.Channel), req.Force)
	if err != nil {
		h.log.WithError(err).Error("Batch run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

func (h *Handlers) MarkSent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("appointmentId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "appointmentId must be a number"})
		return
	}
	force := c.Query("force") == "true"

	if err := h.reminders.MarkSent(c.Request.Context(), id, force); err != nil {
		if errors.Is(err, idb.ErrAppointmentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "appointment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type manualBatchRequest struct {
	AppointmentIDs []int64 `json:"appointmentIds" binding:"required"`
	CustomMessage  string  `json:"customMessage"`
	Force          bool    `json:"force"`
}

func (h *Handlers) PrepareManualBatch(c *gin.Context) {
	var req manualBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid JSON payload"})
		return
	}

	progress, err := h.reminders.PrepareManualBatch(c.Request.Context(), req.AppointmentIDs, req.CustomMessage, req.Force)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": progress})
}

func (h *Handlers) ManualBatchCurrent(c *gin.Context) {
	progress, err := h.reminders.ManualCurrent()
	if err != nil {
		if errors.Is(err, app.ErrNoManualBatch) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": progress})
}

func (h *Handlers) ManualBatchAdvance(c *gin.Context) {
	progress, err := h.reminders.AdvanceManual(c.Request.Context())
	if err != nil {
		if errors.Is(err, app.ErrNoManualBatch) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": progress})
}

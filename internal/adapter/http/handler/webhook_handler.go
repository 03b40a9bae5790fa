package handler

import (
	"time"

	"txrelay/internal/core/ports"
	"txrelay/pkg/apperror"
	"txrelay/pkg/clock"
	"txrelay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const ackReplayTTL = 24 * time.Hour

// WebhookHandler serves the one inbound contract a subscriber can call:
// the delivery-acknowledge callback described in spec's external
// interfaces section.
type WebhookHandler struct {
	deliveries ports.DeliveryRepository
	ackGuard   ports.AckReplayGuard
	clock      clock.Clock
	log        zerolog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(deliveries ports.DeliveryRepository, ackGuard ports.AckReplayGuard, c clock.Clock, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{deliveries: deliveries, ackGuard: ackGuard, clock: c, log: log}
}

// Acknowledge handles POST /api/webhooks/acknowledge?eventId=<uuid>&status=<string>.
// eventId is the delivery's own id (CreateIfAbsent keys deliveries by the
// producing event's id). Replaying the same (eventId, status) pair within
// ackReplayTTL is accepted idempotently without a second write.
func (h *WebhookHandler) Acknowledge(c *gin.Context) {
	ctx := c.Request.Context()
	eventID, err := uuid.Parse(c.Query("eventId"))
	if err != nil {
		response.Error(c, apperror.Validation("eventId must be a valid uuid"))
		return
	}
	status := c.Query("status")
	if status == "" {
		response.Error(c, apperror.Validation("status is required"))
		return
	}

	fresh, err := h.ackGuard.CheckAndSet(ctx, eventID.String(), status, ackReplayTTL)
	if err != nil {
		h.log.Warn().Err(err).Msg("ack replay guard error, processing anyway")
	} else if !fresh {
		response.OK(c, gin.H{"acknowledged": true})
		return
	}

	delivery, err := h.deliveries.GetByID(ctx, eventID)
	if err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}
	if delivery == nil {
		response.Error(c, apperror.ErrNotFound("delivery"))
		return
	}
	if delivery.IsAcknowledged {
		response.OK(c, gin.H{"acknowledged": true})
		return
	}

	now := h.clock.Now()
	delivery.IsAcknowledged = true
	delivery.AcknowledgedAt = &now
	if err := h.deliveries.Update(ctx, delivery); err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}

	response.OK(c, gin.H{"acknowledged": true})
}

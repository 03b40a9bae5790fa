package handler

import (
	"net/http"
	"strconv"

	"txrelay/internal/adapter/http/dto"
	"txrelay/internal/core/domain"
	"txrelay/internal/service"
	"txrelay/pkg/apperror"
	"txrelay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AdminHandler exposes the admin surface described in spec's external
// interfaces section over the AdminFacade: create/retrieve/update-status/
// history on Transaction, subscription CRUD, delivery listing and manual
// retry, on-demand reconciliation, manual resolution, and metrics.
type AdminHandler struct {
	facade *service.AdminFacade
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(facade *service.AdminFacade) *AdminHandler {
	return &AdminHandler{facade: facade}
}

func (h *AdminHandler) SubmitTransaction(c *gin.Context) {
	var req dto.SubmitTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)
	id, err := uuid.Parse(req.ID)
	if err != nil {
		response.Error(c, apperror.Validation("id must be a valid uuid"))
		return
	}
	txn, err := h.facade.SubmitTransaction(c.Request.Context(), id, req.OriginSystem, req.Payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, transactionToResponse(txn))
}

func (h *AdminHandler) GetTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a valid uuid"))
		return
	}
	txn, err := h.facade.GetTransaction(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, transactionToResponse(txn))
}

func (h *AdminHandler) ListTransactions(c *gin.Context) {
	params := service.TransactionListParams{}
	if status := c.Query("status"); status != "" {
		s := domain.TransactionStatus(status)
		params.Status = &s
	}
	txns, err := h.facade.ListTransactions(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		out = append(out, transactionToResponse(&txns[i]))
	}
	response.OK(c, out)
}

func (h *AdminHandler) GetTransactionHistory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a valid uuid"))
		return
	}
	history, err := h.facade.GetTransactionHistory(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]dto.TransactionHistoryEntryResponse, 0, len(history))
	for _, entry := range history {
		e := dto.TransactionHistoryEntryResponse{
			NewStatus:     string(entry.NewStatus),
			ChangedAt:     entry.ChangedAt,
			Reason:        entry.Reason,
			ChangedBy:     entry.ChangedBy,
			AttemptNumber: entry.AttemptNumber,
			IsAutomatic:   entry.IsAutomatic,
		}
		if entry.PreviousStatus != nil {
			e.PreviousStatus = string(*entry.PreviousStatus)
		}
		out = append(out, e)
	}
	response.OK(c, out)
}

func (h *AdminHandler) UpdateTransactionStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a valid uuid"))
		return
	}
	var req dto.UpdateTransactionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)
	txn, err := h.facade.UpdateTransactionStatus(c.Request.Context(), id, domain.TransactionStatus(req.Status), req.Reason, req.Actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, transactionToResponse(txn))
}

func (h *AdminHandler) RetryTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a valid uuid"))
		return
	}
	txn, err := h.facade.RetryTransaction(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, transactionToResponse(txn))
}

func (h *AdminHandler) ResolveTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a valid uuid"))
		return
	}
	var req dto.ResolveTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)
	txn, err := h.facade.ResolveTransaction(c.Request.Context(), id, domain.TransactionStatus(req.TargetStatus), req.Notes, req.AdminUser)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, transactionToResponse(txn))
}

func (h *AdminHandler) RegisterSubscription(c *gin.Context) {
	var req dto.RegisterSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)
	sub, err := h.facade.RegisterSubscription(c.Request.Context(), service.SubscriptionRegistration{
		OriginSystem: req.OriginSystem,
		CallbackURL:  req.CallbackURL,
		Events:       req.Events,
		Description:  req.Description,
		ContactEmail: req.ContactEmail,
		MaxRetries:   req.MaxRetries,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, subscriptionToResponse(sub, true))
}

func (h *AdminHandler) GetSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a valid uuid"))
		return
	}
	sub, err := h.facade.GetSubscription(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, subscriptionToResponse(sub, false))
}

func (h *AdminHandler) ListSubscriptions(c *gin.Context) {
	limit, offset := paginationParams(c)
	subs, err := h.facade.ListSubscriptions(c.Request.Context(), limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]dto.SubscriptionResponse, 0, len(subs))
	for i := range subs {
		out = append(out, subscriptionToResponse(&subs[i], false))
	}
	response.OK(c, out)
}

func (h *AdminHandler) UpdateSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a valid uuid"))
		return
	}
	var req dto.UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)
	sub, err := h.facade.UpdateSubscription(c.Request.Context(), id, service.SubscriptionUpdate{
		CallbackURL:  req.CallbackURL,
		Events:       req.Events,
		IsActive:     req.IsActive,
		Description:  req.Description,
		ContactEmail: req.ContactEmail,
		MaxRetries:   req.MaxRetries,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, subscriptionToResponse(sub, false))
}

func (h *AdminHandler) DeleteSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a valid uuid"))
		return
	}
	if err := h.facade.DeleteSubscription(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) ListDeliveries(c *gin.Context) {
	subID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a valid uuid"))
		return
	}
	limit, offset := paginationParams(c)
	deliveries, err := h.facade.ListDeliveries(c.Request.Context(), subID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]dto.DeliveryResponse, 0, len(deliveries))
	for i := range deliveries {
		out = append(out, deliveryToResponse(&deliveries[i]))
	}
	response.OK(c, out)
}

func (h *AdminHandler) SendTestDelivery(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a valid uuid"))
		return
	}
	d, err := h.facade.SendTestDelivery(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusAccepted, deliveryToResponse(d))
}

func (h *AdminHandler) RetryDelivery(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a valid uuid"))
		return
	}
	if err := h.facade.RetryDelivery(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *AdminHandler) TriggerReconciliation(c *gin.Context) {
	summary, err := h.facade.TriggerReconciliation(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ReconciliationSummaryResponse{
		Processed:                  summary.Processed,
		Reconciled:                 summary.Reconciled,
		ManualInterventionRequired: summary.ManualInterventionRequired,
	})
}

func (h *AdminHandler) GetMetrics(c *gin.Context) {
	metrics, err := h.facade.GetMetrics(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.MetricsResponse{
		NonTerminalCount:  metrics.NonTerminalCount,
		UnreconciledCount: metrics.UnreconciledCount,
	})
}

func transactionToResponse(t *domain.Transaction) dto.TransactionResponse {
	return dto.TransactionResponse{
		ID:            t.ID.String(),
		OriginSystem:  t.OriginSystem,
		Status:        string(t.Status),
		Payload:       t.Payload,
		Response:      t.Response,
		ErrorDetails:  t.ErrorDetails,
		AttemptCount:  t.AttemptCount,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		LastAttemptAt: t.LastAttemptAt,
		CompletionAt:  t.CompletionAt,
		IsReconciled:  t.IsReconciled,
		Notes:         t.Notes,
	}
}

func subscriptionToResponse(s *domain.WebhookSubscription, includeSecret bool) dto.SubscriptionResponse {
	events := make([]string, 0, len(s.Events))
	for evt := range s.Events {
		events = append(events, string(evt))
	}
	out := dto.SubscriptionResponse{
		ID:           s.ID.String(),
		OriginSystem: s.OriginSystem,
		CallbackURL:  s.CallbackURL,
		Events:       events,
		IsActive:     s.IsActive,
		Description:  s.Description,
		ContactEmail: s.ContactEmail,
		SuccessCount: s.SuccessCount,
		FailureCount: s.FailureCount,
	}
	if includeSecret {
		out.Secret = s.Secret
	}
	return out
}

func deliveryToResponse(d *domain.WebhookDelivery) dto.DeliveryResponse {
	return dto.DeliveryResponse{
		ID:             d.ID.String(),
		SubscriptionID: d.SubscriptionID.String(),
		EventType:      string(d.EventType),
		Status:         string(d.Status),
		AttemptCount:   d.AttemptCount,
		ResponseCode:   d.ResponseCode,
		ResponseBody:   d.ResponseBody,
		ErrorDetails:   d.ErrorDetails,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		IsAcknowledged: d.IsAcknowledged,
	}
}

func paginationParams(c *gin.Context) (limit, offset int) {
	limit = 50
	offset = 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"txrelay/internal/core/domain"
	"txrelay/internal/core/ports"
	"txrelay/pkg/clock"

	"github.com/rs/zerolog"
)

// DeliveryService fans transaction events out to subscriber webhooks and
// drives each delivery through its retry lifecycle. Grounded on the
// teacher's webhook_service.go (EnqueueWebhook + deliverWithRetries),
// generalized from a single fixed-interval retry table to jittered
// exponential backoff, from one merchant lookup to a subscription-filtered
// fan-out, and from a bare *http.Client to the pooled webhookclient.
type DeliveryService struct {
	subs        ports.SubscriptionRepository
	deliveries  ports.DeliveryRepository
	secretCache ports.SigningSecretCache
	sigSvc      ports.SignatureService
	ids         ports.IDGenerator
	bus         ports.EventBus
	dedup       ports.DeliveryDedupCache
	dedupTTL    time.Duration
	httpClient  *http.Client
	clock       clock.Clock
	baseDelay   time.Duration
	maxRetries  int
	dispatch    func(func())
	log         zerolog.Logger
}

// NewDeliveryService creates a DeliveryService.
func NewDeliveryService(
	subs ports.SubscriptionRepository,
	deliveries ports.DeliveryRepository,
	secretCache ports.SigningSecretCache,
	sigSvc ports.SignatureService,
	ids ports.IDGenerator,
	bus ports.EventBus,
	dedup ports.DeliveryDedupCache,
	dedupTTL time.Duration,
	httpClient *http.Client,
	c clock.Clock,
	baseDelay time.Duration,
	maxRetries int,
	log zerolog.Logger,
) *DeliveryService {
	return &DeliveryService{
		subs:        subs,
		deliveries:  deliveries,
		secretCache: secretCache,
		sigSvc:      sigSvc,
		ids:         ids,
		bus:         bus,
		dedup:       dedup,
		dedupTTL:    dedupTTL,
		httpClient:  httpClient,
		clock:       c,
		baseDelay:   baseDelay,
		maxRetries:  maxRetries,
		log:         log,
	}
}

// WithDispatcher routes each delivery attempt's actual HTTP work through
// submit instead of running it inline on HandleDelivery's calling
// goroutine (normally the event bus's per-partition consumer). Submission
// order still follows the delivery topic's partition order; submit is
// free to run attempts for the same subscription concurrently once
// submitted, so this only makes sense alongside dedup (s.dedup) and the
// retry scheduler's stale-processing sweep, both of which already treat a
// delivery's persisted row, not the bus message, as the source of truth.
// Unset, HandleDelivery runs attempt synchronously as before.
func (s *DeliveryService) WithDispatcher(submit func(func())) *DeliveryService {
	s.dispatch = submit
	return s
}

// FanOut resolves every active subscription matching msg's origin system
// and event type, creates a Pending WebhookDelivery row per match, and
// enqueues a webhook-events message carrying the delivery's own id so the
// consumer side (HandleDelivery) can idempotently pick it up. A message
// with no transaction (system-level alerts) is not fanned out here; those
// go through the alert dispatcher instead.
func (s *DeliveryService) FanOut(ctx context.Context, msg *domain.EventMessage) error {
	if msg.TransactionID == nil {
		return nil
	}
	matches, err := s.subs.ListActiveByEventType(ctx, msg.OriginSystem, msg.EventType)
	if err != nil {
		return fmt.Errorf("list matching subscriptions: %w", err)
	}
	for i := range matches {
		sub := &matches[i]
		if err := s.enqueue(ctx, sub, msg); err != nil {
			s.log.Error().Err(err).
				Str("subscription_id", sub.ID.String()).
				Str("transaction_id", msg.TransactionID.String()).
				Msg("delivery: enqueue failed")
		}
	}
	return nil
}

func (s *DeliveryService) enqueue(ctx context.Context, sub *domain.WebhookSubscription, msg *domain.EventMessage) error {
	deliveryID := s.ids.NewUUID()
	now := s.clock.Now()
	delivery := &domain.WebhookDelivery{
		ID:             deliveryID,
		SubscriptionID: sub.ID,
		TransactionID:  msg.TransactionID,
		EventType:      msg.EventType,
		Status:         domain.DeliveryPending,
		Payload:        buildDeliveryPayload(msg),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	created, err := s.deliveries.CreateIfAbsent(ctx, delivery)
	if err != nil {
		return fmt.Errorf("create delivery row: %w", err)
	}
	if !created {
		return nil
	}

	return s.bus.Publish(ctx, ports.TopicWebhookEvents, &domain.EventMessage{
		EventID:       deliveryID,
		EventType:     msg.EventType,
		TransactionID: msg.TransactionID,
		OriginSystem:  msg.OriginSystem,
		Timestamp:     now,
		Payload:       delivery.Payload,
		WebhookID:     &sub.ID,
	})
}

func buildDeliveryPayload(msg *domain.EventMessage) map[string]any {
	payload := map[string]any{
		"event_type": string(msg.EventType),
		"timestamp":  msg.Timestamp.UTC().Format(time.RFC3339),
	}
	if msg.TransactionID != nil {
		payload["transaction_id"] = msg.TransactionID.String()
	}
	if msg.CurrentStatus != nil {
		payload["status"] = string(*msg.CurrentStatus)
	}
	if msg.PreviousStatus != nil {
		payload["previous_status"] = string(*msg.PreviousStatus)
	}
	for k, v := range msg.Payload {
		payload[k] = v
	}
	return payload
}

// HandleDelivery is the EventHandler registered on the webhook-events
// topic. It is the per-delivery worker: load the subscription, abort if
// it is gone or inactive, sign and POST the payload, and branch into
// success, scheduled retry, or permanent failure.
func (s *DeliveryService) HandleDelivery(ctx context.Context, msg *domain.EventMessage) error {
	if msg.WebhookID == nil {
		return nil
	}
	deliveryID := msg.EventID

	if s.dedup != nil {
		fresh, err := s.dedup.MarkIfAbsent(ctx, fmt.Sprintf("%s:%d", deliveryID, msg.AttemptCount), s.dedupTTL)
		if err != nil {
			s.log.Warn().Err(err).Str("delivery_id", deliveryID.String()).Msg("delivery: dedup check failed, proceeding")
		} else if !fresh {
			return nil
		}
	}

	sub, err := s.subs.GetByID(ctx, *msg.WebhookID)
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil || !sub.IsActive {
		s.log.Info().Str("delivery_id", deliveryID.String()).Msg("delivery: subscription gone or inactive, dropping")
		return nil
	}

	delivery, err := s.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return fmt.Errorf("load delivery: %w", err)
	}
	if delivery == nil {
		return fmt.Errorf("delivery %s: row missing", deliveryID)
	}
	if delivery.Status.IsTerminal() {
		return nil
	}

	if s.dispatch == nil {
		return s.attempt(ctx, sub, delivery)
	}

	s.dispatch(func() {
		attemptCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.attempt(attemptCtx, sub, delivery); err != nil {
			s.log.Error().Err(err).Str("delivery_id", deliveryID.String()).Msg("delivery: dispatched attempt failed, awaiting hang recovery sweep")
		}
	})
	return nil
}

func (s *DeliveryService) attempt(ctx context.Context, sub *domain.WebhookSubscription, delivery *domain.WebhookDelivery) error {
	now := s.clock.Now()
	delivery.Status = domain.DeliveryProcessing
	delivery.AttemptCount++
	delivery.LastAttemptAt = &now
	delivery.UpdatedAt = now
	if err := s.deliveries.Update(ctx, delivery); err != nil {
		return fmt.Errorf("mark delivery processing: %w", err)
	}

	body, err := json.Marshal(delivery.Payload)
	if err != nil {
		return s.failPermanently(ctx, delivery, map[string]any{"error": "payload marshal failed: " + err.Error()})
	}

	secret, ok, err := s.lookupSecret(ctx, sub.ID.String())
	if err != nil || !ok {
		return s.failPermanently(ctx, delivery, map[string]any{"error": "signing secret unavailable"})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return s.failPermanently(ctx, delivery, map[string]any{"error": "building request failed: " + err.Error()})
	}
	nonce := s.ids.NewNonce()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", s.sigSvc.Sign(secret, string(body)))
	req.Header.Set("X-Webhook-ID", sub.ID.String())
	req.Header.Set("X-Delivery-ID", delivery.ID.String())
	req.Header.Set("X-Event-Type", string(delivery.EventType))
	req.Header.Set("X-Webhook-Timestamp", s.sigSvc.BuildTimestampHeader(now, nonce))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return s.scheduleOrFail(ctx, sub, delivery, nil, map[string]any{"error": err.Error()})
	}
	defer resp.Body.Close()

	respBody := readLimitedBody(resp.Body)
	code := resp.StatusCode
	delivery.ResponseCode = &code
	delivery.ResponseBody = domain.TruncateResponseBody(respBody)

	if code >= 200 && code < 300 {
		return s.succeed(ctx, sub, delivery)
	}
	return s.scheduleOrFail(ctx, sub, delivery, &code, map[string]any{"status_code": code, "body": delivery.ResponseBody})
}

func (s *DeliveryService) lookupSecret(ctx context.Context, subscriptionID string) (string, bool, error) {
	if s.secretCache == nil {
		return "", false, nil
	}
	return s.secretCache.Get(ctx, subscriptionID)
}

func (s *DeliveryService) succeed(ctx context.Context, sub *domain.WebhookSubscription, delivery *domain.WebhookDelivery) error {
	now := s.clock.Now()
	delivery.Status = domain.DeliveryDelivered
	delivery.UpdatedAt = now
	delivery.ErrorDetails = nil
	if err := s.deliveries.Update(ctx, delivery); err != nil {
		return fmt.Errorf("mark delivery delivered: %w", err)
	}
	sub.SuccessCount++
	sub.LastSuccessAt = &now
	if err := s.subs.Update(ctx, sub); err != nil {
		s.log.Warn().Err(err).Str("subscription_id", sub.ID.String()).Msg("delivery: updating subscription success counter failed")
	}
	return nil
}

func (s *DeliveryService) scheduleOrFail(ctx context.Context, sub *domain.WebhookSubscription, delivery *domain.WebhookDelivery, code *int, errDetails map[string]any) error {
	maxRetries := s.maxRetries
	if sub.MaxRetries != nil {
		maxRetries = *sub.MaxRetries
	}

	now := s.clock.Now()
	sub.FailureCount++
	sub.LastFailureAt = &now
	if err := s.subs.Update(ctx, sub); err != nil {
		s.log.Warn().Err(err).Str("subscription_id", sub.ID.String()).Msg("delivery: updating subscription failure counter failed")
	}

	if delivery.AttemptCount >= maxRetries {
		return s.failPermanently(ctx, delivery, errDetails)
	}

	delay := retryDelay(delivery.AttemptCount, s.baseDelay)
	nextAt := now.Add(delay)
	delivery.Status = domain.DeliveryRetryScheduled
	delivery.ErrorDetails = errDetails
	delivery.NextRetryAt = &nextAt
	delivery.UpdatedAt = now
	if err := s.deliveries.Update(ctx, delivery); err != nil {
		return fmt.Errorf("mark delivery retry scheduled: %w", err)
	}
	s.log.Warn().
		Str("delivery_id", delivery.ID.String()).
		Int("attempt", delivery.AttemptCount).
		Dur("delay", delay).
		Msg("delivery: scheduling retry")
	return nil
}

func (s *DeliveryService) failPermanently(ctx context.Context, delivery *domain.WebhookDelivery, errDetails map[string]any) error {
	delivery.Status = domain.DeliveryPermanentlyFailed
	delivery.ErrorDetails = errDetails
	delivery.UpdatedAt = s.clock.Now()
	if err := s.deliveries.Update(ctx, delivery); err != nil {
		return fmt.Errorf("mark delivery permanently failed: %w", err)
	}
	s.log.Error().Str("delivery_id", delivery.ID.String()).Msg("delivery: permanently failed")
	return nil
}

// retryDelay computes the jittered exponential backoff delay before
// attempt+1: min(3600, 2^(attempt-1) * base) seconds, inflated by a
// uniform random factor in [0, 0.25] to avoid synchronized retry storms.
func retryDelay(attempt int, base time.Duration) time.Duration {
	factor := math.Pow(2, float64(attempt-1))
	seconds := math.Min(3600, factor*base.Seconds())
	jitter := 1 + rand.Float64()*0.25
	return time.Duration(math.Round(seconds*jitter)) * time.Second
}

func readLimitedBody(r io.Reader) string {
	limited := io.LimitReader(r, int64(domain.ResponseBodyMaxLen))
	body, _ := io.ReadAll(limited)
	return string(body)
}

// HandleHang recovers a delivery stuck in Processing (a worker crashed
// mid-attempt) by routing it through the same retry-or-fail decision as a
// live HTTP failure, since from the delivery's point of view a hang is
// indistinguishable from a lost response.
func (s *DeliveryService) HandleHang(ctx context.Context, d *domain.WebhookDelivery) error {
	sub, err := s.subs.GetByID(ctx, d.SubscriptionID)
	if err != nil {
		return fmt.Errorf("load subscription for hung delivery: %w", err)
	}
	if sub == nil {
		return s.failPermanently(ctx, d, map[string]any{"error": "subscription gone while delivery hung"})
	}
	return s.scheduleOrFail(ctx, sub, d, nil, map[string]any{"error": "delivery timed out in Processing"})
}

// SendTestDelivery builds and enqueues a Test-typed delivery targeting
// sub directly, bypassing the event-type subscription match FanOut does
// for real events, so an operator can verify a subscription's signing and
// callback before relying on it. Runs through the same persist-then-
// publish path as a real delivery, exercising the full delivery engine
// rather than a one-off HTTP POST.
func (s *DeliveryService) SendTestDelivery(ctx context.Context, sub *domain.WebhookSubscription) (*domain.WebhookDelivery, error) {
	deliveryID := s.ids.NewUUID()
	now := s.clock.Now()
	delivery := &domain.WebhookDelivery{
		ID:             deliveryID,
		SubscriptionID: sub.ID,
		EventType:      domain.EventTest,
		Status:         domain.DeliveryPending,
		Payload: map[string]any{
			"event_type": string(domain.EventTest),
			"timestamp":  now.UTC().Format(time.RFC3339),
			"message":    "test delivery triggered by an administrator",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.deliveries.CreateIfAbsent(ctx, delivery)
	if err != nil {
		return nil, fmt.Errorf("create test delivery row: %w", err)
	}
	if !created {
		return delivery, nil
	}

	if err := s.bus.Publish(ctx, ports.TopicWebhookEvents, &domain.EventMessage{
		EventID:      deliveryID,
		EventType:    domain.EventTest,
		OriginSystem: sub.OriginSystem,
		Timestamp:    now,
		Payload:      delivery.Payload,
		WebhookID:    &sub.ID,
	}); err != nil {
		return nil, fmt.Errorf("publish test delivery: %w", err)
	}
	return delivery, nil
}

// RequeueDelivery republishes a delivery already persisted as
// RetryScheduled once its NextRetryAt has elapsed, used by the retry
// scheduler's due-retry sweep.
func (s *DeliveryService) RequeueDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	return s.bus.Publish(ctx, ports.TopicWebhookEvents, &domain.EventMessage{
		EventID:       d.ID,
		EventType:     d.EventType,
		TransactionID: d.TransactionID,
		Timestamp:     s.clock.Now(),
		Payload:       d.Payload,
		WebhookID:     &d.SubscriptionID,
		AttemptCount:  d.AttemptCount,
	})
}

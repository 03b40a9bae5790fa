package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"txrelay/internal/core/domain"
	"txrelay/internal/core/ports"
	"txrelay/pkg/apperror"
	"txrelay/pkg/clock"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// webhookURLRe matches the callback-URL grammar: https only, optional
// port, optional path restricted to a safe character set.
var webhookURLRe = regexp.MustCompile(`^https://[\w.-]+(:\d+)?(/[\w\-./?%&=]*)?$`)

var blockedWebhookHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
	"[::1]":     true,
}

// ValidWebhookURL reports whether raw is an acceptable subscription
// callback URL: matches the https grammar and does not target a loopback
// host.
func ValidWebhookURL(raw string) bool {
	if !webhookURLRe.MatchString(raw) {
		return false
	}
	return !blockedWebhookHosts[strings.ToLower(webhookHost(raw))]
}

// webhookHost extracts the host (and bracketed IPv6 literal, without the
// port) from a URL already known to match webhookURLRe.
func webhookHost(raw string) string {
	rest := strings.TrimPrefix(raw, "https://")
	if idx := strings.IndexAny(rest, "/"); idx >= 0 {
		rest = rest[:idx]
	}
	if strings.HasPrefix(rest, "[") {
		if idx := strings.Index(rest, "]"); idx >= 0 {
			return rest[:idx+1]
		}
	}
	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

// SubscriptionRegistration carries the fields needed to register a new
// webhook subscription, decoupled from any particular transport encoding.
type SubscriptionRegistration struct {
	OriginSystem string
	CallbackURL  string
	Events       []string
	Description  string
	ContactEmail string
	MaxRetries   *int
}

// SubscriptionUpdate carries a partial update; nil fields leave the
// stored value unchanged.
type SubscriptionUpdate struct {
	CallbackURL  *string
	Events       []string
	IsActive     *bool
	Description  *string
	ContactEmail *string
	MaxRetries   *int
}

// SubscriptionService implements registration, update, and lookup of
// webhook subscriptions. Grounded on the teacher's merchant_service.go
// CRUD+validation shape, generalized from merchant profile fields to the
// webhook subscription's callback/event-filter fields.
type SubscriptionService struct {
	repo              ports.SubscriptionRepository
	hasher            ports.SecretHasher
	ids               ports.IDGenerator
	secretCache       ports.SigningSecretCache
	secretCacheTTL    time.Duration
	clock             clock.Clock
	defaultMaxRetries int
	log               zerolog.Logger
}

// NewSubscriptionService creates a SubscriptionService. secretCache may be
// nil, in which case the plaintext secret is only ever returned once (at
// registration/rotation) and the delivery engine cannot sign deliveries for
// this subscription until a cache is wired in.
func NewSubscriptionService(repo ports.SubscriptionRepository, hasher ports.SecretHasher, ids ports.IDGenerator, secretCache ports.SigningSecretCache, secretCacheTTL time.Duration, c clock.Clock, defaultMaxRetries int, log zerolog.Logger) *SubscriptionService {
	return &SubscriptionService{
		repo:              repo,
		hasher:            hasher,
		ids:               ids,
		secretCache:       secretCache,
		secretCacheTTL:    secretCacheTTL,
		clock:             c,
		defaultMaxRetries: defaultMaxRetries,
		log:               log,
	}
}

// cacheSecret best-effort refreshes the plaintext secret side channel the
// delivery engine reads at signing time. A cache failure never fails the
// registration/update call; it is logged, and a delivery attempt that then
// finds no cached secret fails permanently.
func (s *SubscriptionService) cacheSecret(ctx context.Context, subscriptionID, secret string) {
	if s.secretCache == nil {
		return
	}
	if err := s.secretCache.Put(ctx, subscriptionID, secret, s.secretCacheTTL); err != nil {
		s.log.Error().Err(err).Str("subscription_id", subscriptionID).Msg("caching signing secret failed")
	}
}

// Register validates and persists a new subscription. The returned
// domain object's Secret field carries the plaintext secret exactly once.
func (s *SubscriptionService) Register(ctx context.Context, req SubscriptionRegistration) (*domain.WebhookSubscription, error) {
	if !ValidWebhookURL(req.CallbackURL) {
		return nil, apperror.ErrInvalidCallbackURL()
	}
	events, err := parseEventTypes(req.Events)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, apperror.ErrEmptyEventSet()
	}

	existing, err := s.repo.GetByOriginAndURL(ctx, req.OriginSystem, req.CallbackURL)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if existing != nil {
		return nil, apperror.ErrDuplicateSubscription()
	}

	secret := s.ids.NewNonce() + s.ids.NewNonce()
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("hash subscription secret: %w", err))
	}

	now := s.clock.Now()
	sub := &domain.WebhookSubscription{
		ID:           s.ids.NewUUID(),
		OriginSystem: req.OriginSystem,
		CallbackURL:  req.CallbackURL,
		Events:       events,
		SecretHash:   hash,
		Secret:       secret,
		IsActive:     true,
		MaxRetries:   req.MaxRetries,
		Description:  req.Description,
		ContactEmail: req.ContactEmail,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	s.cacheSecret(ctx, sub.ID.String(), secret)
	s.log.Info().Str("subscription_id", sub.ID.String()).Str("origin_system", sub.OriginSystem).Msg("subscription registered")
	return sub, nil
}

// Update applies a partial update, re-validating any changed field.
func (s *SubscriptionService) Update(ctx context.Context, id uuid.UUID, req SubscriptionUpdate) (*domain.WebhookSubscription, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if sub == nil {
		return nil, apperror.ErrNotFound("subscription")
	}

	if req.CallbackURL != nil {
		if !ValidWebhookURL(*req.CallbackURL) {
			return nil, apperror.ErrInvalidCallbackURL()
		}
		if *req.CallbackURL != sub.CallbackURL {
			existing, err := s.repo.GetByOriginAndURL(ctx, sub.OriginSystem, *req.CallbackURL)
			if err != nil {
				return nil, apperror.ErrDatabaseError(err)
			}
			if existing != nil {
				return nil, apperror.ErrDuplicateSubscription()
			}
		}
		sub.CallbackURL = *req.CallbackURL
	}
	if req.Events != nil {
		events, err := parseEventTypes(req.Events)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			return nil, apperror.ErrEmptyEventSet()
		}
		sub.Events = events
	}
	if req.IsActive != nil {
		sub.IsActive = *req.IsActive
	}
	if req.Description != nil {
		sub.Description = *req.Description
	}
	if req.ContactEmail != nil {
		sub.ContactEmail = *req.ContactEmail
	}
	if req.MaxRetries != nil {
		sub.MaxRetries = req.MaxRetries
	}
	sub.UpdatedAt = s.clock.Now()

	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	s.refreshCachedSecret(ctx, sub.ID.String())
	return sub, nil
}

// refreshCachedSecret extends the signing secret's TTL after an unrelated
// field update, since Update never has the plaintext secret in hand.
func (s *SubscriptionService) refreshCachedSecret(ctx context.Context, subscriptionID string) {
	if s.secretCache == nil {
		return
	}
	secret, ok, err := s.secretCache.Get(ctx, subscriptionID)
	if err != nil || !ok {
		return
	}
	s.cacheSecret(ctx, subscriptionID, secret)
}

// Delete removes a subscription and its cached signing secret.
func (s *SubscriptionService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if s.secretCache != nil {
		if err := s.secretCache.Delete(ctx, id.String()); err != nil {
			s.log.Error().Err(err).Str("subscription_id", id.String()).Msg("deleting cached signing secret failed")
		}
	}
	return nil
}

// Get retrieves a subscription by id.
func (s *SubscriptionService) Get(ctx context.Context, id uuid.UUID) (*domain.WebhookSubscription, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if sub == nil {
		return nil, apperror.ErrNotFound("subscription")
	}
	return sub, nil
}

// List returns a page of subscriptions.
func (s *SubscriptionService) List(ctx context.Context, limit, offset int) ([]domain.WebhookSubscription, error) {
	subs, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return subs, nil
}

// MatchingSubscriptions returns every active subscription for originSystem
// whose event filter contains eventType, per the lookup contract.
func (s *SubscriptionService) MatchingSubscriptions(ctx context.Context, originSystem string, eventType domain.EventType) ([]domain.WebhookSubscription, error) {
	subs, err := s.repo.ListActiveByEventType(ctx, originSystem, eventType)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return subs, nil
}

// VerifySecret checks a presented secret against a subscription's stored
// hash using the hasher's constant-time comparison.
func (s *SubscriptionService) VerifySecret(sub *domain.WebhookSubscription, secret string) (bool, error) {
	return s.hasher.Verify(secret, sub.SecretHash)
}

// MaxRetriesFor returns the subscription's configured max-retries, falling
// back to the service default when unset.
func (s *SubscriptionService) MaxRetriesFor(sub *domain.WebhookSubscription) int {
	if sub.MaxRetries != nil {
		return *sub.MaxRetries
	}
	return s.defaultMaxRetries
}

func parseEventTypes(raw []string) (map[domain.EventType]bool, error) {
	events := make(map[domain.EventType]bool, len(raw))
	for _, r := range raw {
		et := domain.EventType(r)
		if !domain.ValidEventTypes[et] {
			return nil, apperror.ErrUnknownEventType(r)
		}
		events[et] = true
	}
	return events, nil
}

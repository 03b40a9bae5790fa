package service

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"txrelay/internal/core/domain"
	"txrelay/internal/core/ports/mocks"
	"txrelay/pkg/clock"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fakeDistributedLock struct {
	mu      sync.Mutex
	held    map[string]bool
	denyAll bool
}

func newFakeDistributedLock() *fakeDistributedLock {
	return &fakeDistributedLock{held: map[string]bool{}}
}

func (f *fakeDistributedLock) TryAcquire(_ context.Context, name string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyAll || f.held[name] {
		return false, nil
	}
	f.held[name] = true
	return true, nil
}

func (f *fakeDistributedLock) Release(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, name)
	return nil
}

func setupRetryScheduler(t *testing.T, now time.Time, lock *fakeDistributedLock) (*RetryScheduler, *mocks.MockDeliveryRepository) {
	ctrl := gomock.NewController(t)
	deliveries := mocks.NewMockDeliveryRepository(ctrl)
	subs := mocks.NewMockSubscriptionRepository(ctrl)
	bus := mocks.NewMockEventBus(ctrl)

	httpClient := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		t.Fatal("no HTTP call expected from the retry scheduler directly")
		return nil, nil
	})}
	delivery := NewDeliveryService(
		subs, deliveries, newFakeSigningSecretCache(), NewHMACSignatureService(), &UUIDGenerator{},
		bus, newFakeDedupCache(), time.Hour, httpClient, clock.Fixed{T: now}, time.Minute, 5, zerolog.Nop(),
	)

	sched, err := NewRetryScheduler(
		deliveries, delivery, lock, clock.Fixed{T: now},
		time.Minute, time.Minute, 30*time.Minute, 24*time.Hour, 50,
		"0 3 * * *", "0 4 * * 1", nil, zerolog.Nop(),
	)
	require.NoError(t, err)
	return sched, deliveries
}

func TestRetryScheduler_SweepDueRetries_RequeuesDueDeliveries(t *testing.T) {
	now := time.Now().UTC()
	lock := newFakeDistributedLock()
	sched, deliveries := setupRetryScheduler(t, now, lock)

	due := domain.WebhookDelivery{ID: uuid.New(), SubscriptionID: uuid.New(), Status: domain.DeliveryRetryScheduled}
	deliveries.EXPECT().ListDueForRetry(gomock.Any(), now, 50).Return([]domain.WebhookDelivery{due}, nil)

	var published *domain.EventMessage
	bus := sched.delivery.bus.(*mocks.MockEventBus)
	bus.EXPECT().Publish(gomock.Any(), "webhook-events", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, msg *domain.EventMessage) error {
			published = msg
			return nil
		})

	err := sched.sweepDueRetries(context.Background())
	require.NoError(t, err)
	require.NotNil(t, published)
	assert.Equal(t, due.ID, published.EventID)
}

func TestRetryScheduler_SweepHung_RecoversAndFails(t *testing.T) {
	now := time.Now().UTC()
	lock := newFakeDistributedLock()
	sched, deliveries := setupRetryScheduler(t, now, lock)

	subID := uuid.New()
	hung := domain.WebhookDelivery{ID: uuid.New(), SubscriptionID: subID, Status: domain.DeliveryProcessing, AttemptCount: 5}
	deliveries.EXPECT().ListStaleProcessing(gomock.Any(), now.Add(-30*time.Minute), 50).Return([]domain.WebhookDelivery{hung}, nil)

	subs := sched.delivery.subs.(*mocks.MockSubscriptionRepository)
	subs.EXPECT().GetByID(gomock.Any(), subID).Return(&domain.WebhookSubscription{ID: subID, IsActive: true}, nil)
	subs.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil)
	deliveries.EXPECT().Update(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, d *domain.WebhookDelivery) error {
			assert.Equal(t, domain.DeliveryPermanentlyFailed, d.Status)
			return nil
		})

	err := sched.sweepHung(context.Background())
	require.NoError(t, err)
}

func TestRetryScheduler_RunCleanup_PurgesTerminalDeliveries(t *testing.T) {
	now := time.Now().UTC()
	lock := newFakeDistributedLock()
	sched, deliveries := setupRetryScheduler(t, now, lock)

	deliveries.EXPECT().PurgeTerminalOlderThan(gomock.Any(), now.Add(-24*time.Hour), 50).Return(int64(3), nil)

	sched.runCleanup(context.Background())
}

func TestRetryScheduler_WithLock_SkipsWhenAnotherInstanceHoldsIt(t *testing.T) {
	now := time.Now().UTC()
	lock := newFakeDistributedLock()
	lock.denyAll = true
	sched, _ := setupRetryScheduler(t, now, lock)

	called := false
	err := sched.withLock(context.Background(), "x", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

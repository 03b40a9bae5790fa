package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"txrelay/internal/core/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForSubjects(t *testing.T, ch *fakeAlertChannel, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ch.mu.Lock()
		n := len(ch.subjects)
		ch.mu.Unlock()
		if n >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d dispatched alerts", want)
}

func TestAlertDispatcher_SendAlert_ReachesChannel(t *testing.T) {
	ch := &fakeAlertChannel{}
	d := NewAlertDispatcher(ch, zerolog.Nop())

	d.SendAlert(context.Background(), "subject-a", "message-a")
	waitForSubjects(t, ch, 1)
	assert.Equal(t, "subject-a", ch.subjects[0])
}

func TestAlertDispatcher_SendTransactionAlert_IncludesTransactionID(t *testing.T) {
	ch := &fakeAlertChannel{}
	d := NewAlertDispatcher(ch, zerolog.Nop())

	txn := &domain.Transaction{ID: uuid.New(), OriginSystem: "origin-a", Status: domain.StatusTimeout}
	d.SendTransactionAlert(context.Background(), txn, "stale pending")
	waitForSubjects(t, ch, 1)
	assert.Contains(t, ch.subjects[0], txn.ID.String())
}

func TestAlertDispatcher_SendSystemHealthAlert_Dispatches(t *testing.T) {
	ch := &fakeAlertChannel{}
	d := NewAlertDispatcher(ch, zerolog.Nop())

	d.SendSystemHealthAlert(context.Background(), ReconciliationSummary{Processed: 10, Reconciled: 2}, 3)
	waitForSubjects(t, ch, 1)
	assert.Contains(t, ch.subjects[0], "system health")
}

func TestAlertDispatcher_SendCriticalErrorAlert_Dispatches(t *testing.T) {
	ch := &fakeAlertChannel{}
	d := NewAlertDispatcher(ch, zerolog.Nop())

	d.SendCriticalErrorAlert(context.Background(), errors.New("boom"), map[string]any{"worker": "monitor"})
	waitForSubjects(t, ch, 1)
	assert.Contains(t, ch.subjects[0], "critical error")
}

func TestSMTPAlertChannel_Send_NoRecipientsIsNoop(t *testing.T) {
	ch := NewSMTPAlertChannel("localhost", 25, "", "", "alerts@txrelay.local", nil)
	err := ch.Send(context.Background(), "subject", "message")
	require.NoError(t, err)
}

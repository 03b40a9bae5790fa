package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// BaseWorker is a generic ticker-based worker, generalized from a
// Kafka-outbox dispatcher's polling loop into a reusable sweep runner for
// the monitor and retry scheduler. A tick is skipped rather than queued
// when the previous run is still in flight.
type BaseWorker struct {
	name     string
	interval time.Duration
	log      zerolog.Logger
	workFunc func(ctx context.Context) error

	running  atomic.Bool
	started  atomic.Bool
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewBaseWorker creates a worker that calls workFunc once per interval.
func NewBaseWorker(name string, interval time.Duration, log zerolog.Logger, workFunc func(ctx context.Context) error) *BaseWorker {
	return &BaseWorker{
		name:     name,
		interval: interval,
		log:      log,
		workFunc: workFunc,
		stopChan: make(chan struct{}),
	}
}

// Start runs the ticker loop until ctx is canceled or Stop is called.
func (w *BaseWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.log.Warn().Str("worker", w.name).Msg("worker already started")
		return
	}

	w.log.Info().Str("worker", w.name).Dur("interval", w.interval).Msg("worker starting")
	defer w.log.Info().Str("worker", w.name).Msg("worker stopped")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *BaseWorker) tick(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		w.log.Debug().Str("worker", w.name).Msg("previous run still in flight, skipping tick")
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.running.Store(false)
		if err := w.workFunc(ctx); err != nil {
			w.log.Error().Err(err).Str("worker", w.name).Msg("worker run failed")
		}
	}()
}

// Stop signals the loop to exit and waits for any in-flight run to finish.
func (w *BaseWorker) Stop() {
	w.stopOnce.Do(func() {
		if !w.started.Load() {
			return
		}
		close(w.stopChan)
		w.wg.Wait()
	})
}

func (w *BaseWorker) Name() string {
	return w.name
}

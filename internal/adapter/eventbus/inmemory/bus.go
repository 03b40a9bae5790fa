// Package inmemory implements ports.EventBus with in-process channels,
// preserving the partition-by-key and redeliver-on-error contract the
// production Kafka adapter exposes so unit tests and the no-broker dev
// profile exercise the same behavior.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"txrelay/internal/core/domain"
	"txrelay/internal/core/ports"

	"github.com/rs/zerolog"
)

const partitionCount = 8

// Bus is a channel-keyed, at-least-once event bus. Each topic is split
// into a fixed number of partitions keyed by EventMessage.PartitionKey,
// preserving per-key ordering the way a Kafka partition would.
type Bus struct {
	log zerolog.Logger

	mu         sync.RWMutex
	partitions map[string][]chan *domain.EventMessage
	closed     bool
	wg         sync.WaitGroup
}

func New(log zerolog.Logger) *Bus {
	return &Bus{
		log:        log,
		partitions: make(map[string][]chan *domain.EventMessage),
	}
}

func (b *Bus) topicPartitions(topic string) []chan *domain.EventMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.partitions[topic]; !ok {
		chs := make([]chan *domain.EventMessage, partitionCount)
		for i := range chs {
			chs[i] = make(chan *domain.EventMessage, 128)
		}
		b.partitions[topic] = chs
	}
	return b.partitions[topic]
}

func partitionFor(key string, n int) int {
	h := fnv32(key)
	return int(h % uint32(n))
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// Publish routes msg to the partition its key hashes to.
func (b *Bus) Publish(ctx context.Context, topic string, msg *domain.EventMessage) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return fmt.Errorf("inmemory eventbus: publish on closed bus")
	}

	chs := b.topicPartitions(topic)
	idx := partitionFor(msg.PartitionKey(), len(chs))
	select {
	case chs[idx] <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe consumes every partition of topic, redelivering a message to
// the same partition (blocking that partition, not the whole topic) when
// handler returns an error.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	chs := b.topicPartitions(topic)

	for _, ch := range chs {
		b.wg.Add(1)
		go func(ch chan *domain.EventMessage) {
			defer b.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					b.deliver(ctx, ch, msg, handler)
				}
			}
		}(ch)
	}

	<-ctx.Done()
	return ctx.Err()
}

func (b *Bus) deliver(ctx context.Context, ch chan *domain.EventMessage, msg *domain.EventMessage, handler ports.EventHandler) {
	if err := handler(ctx, msg); err != nil {
		b.log.Warn().Err(err).Str("event_id", msg.EventID.String()).Msg("handler failed, redelivering")
		msg.AttemptCount++
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
		return
	}
}

// Close marks the bus closed and waits for subscriber goroutines to exit.
// It does not stop them itself: each returns when its Subscribe context is
// cancelled. Publish after Close returns an error; already-buffered
// messages are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

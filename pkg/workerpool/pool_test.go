package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPool_RunsTasksWithinCore(t *testing.T) {
	p := New(2, 2, 4, nil)
	defer p.Close()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			ran.Add(1)
		})
	}
	wg.Wait()
	assert.Equal(t, int32(4), ran.Load())
}

func TestPool_SpawnsExtraWorkerWhenQueueFull(t *testing.T) {
	p := New(1, 2, 1, nil)
	defer p.Close()

	release := make(chan struct{})
	p.Submit(func() { <-release }) // occupies the sole core worker

	p.Submit(func() {}) // fills the one-slot queue

	done := make(chan struct{})
	p.Submit(func() { close(done) }) // core busy, queue full: must spawn an extra worker

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("extra worker never ran the task")
	}
	assert.Equal(t, 1, p.activeExtra())
	close(release)
}

func TestPool_RejectionPolicyRunsOnCallerWhenSaturated(t *testing.T) {
	p := New(1, 1, 0, nil)
	defer p.Close()

	release := make(chan struct{})
	p.Submit(func() { <-release })

	var ranInline atomic.Bool
	p.Submit(func() { ranInline.Store(true) })
	close(release)

	assert.True(t, ranInline.Load())
}

func TestPersistThenCallerRuns_RunsTaskInline(t *testing.T) {
	var ran bool
	PersistThenCallerRuns(func() { ran = true })
	assert.True(t, ran)
}

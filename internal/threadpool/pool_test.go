package threadpool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunBatchRunsEveryTaskToCompletion(t *testing.T) {
	p := New(4)
	defer p.Close()

	var sum int64
	tasks := make([]func(), 100)
	for i := 0; i < len(tasks); i++ {
		tasks[i] = func() { atomic.AddInt64(&sum, 1) }
	}

	p.RunBatch(tasks)
	assert.Equal(t, int64(100), sum)
}

func TestRunBatchEmptySliceReturnsImmediately(t *testing.T) {
	p := New(2)
	defer p.Close()

	done := make(chan struct{})
	go func() {
		p.RunBatch(nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunBatch(nil) did not return")
	}
}

func TestNewClampsWorkersToAtLeastOne(t *testing.T) {
	p := New(0)
	defer p.Close()

	var ran int32
	p.RunBatch([]func(){func() { atomic.StoreInt32(&ran, 1) }})
	assert.Equal(t, int32(1), ran)
}

func TestCloseStopsWorkersWithoutPanicking(t *testing.T) {
	p := New(3)
	p.RunBatch([]func(){func() {}, func() {}})
	p.Close()
}

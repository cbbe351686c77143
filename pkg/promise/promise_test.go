package promise

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCell_ResolveOnce(t *testing.T) {
	cell := New[string]()

	assert.True(t, cell.Resolve("U1"))
	assert.False(t, cell.Resolve("U2"))
	assert.False(t, cell.Reject(errors.New("late")))

	got, err := cell.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "U1", got)
}

func TestCell_Reject(t *testing.T) {
	cell := New[int]()
	cause := errors.New("connection_rejected")
	cell.Reject(cause)

	_, err := cell.Wait(context.Background())
	assert.ErrorIs(t, err, cause)
}

func TestCell_WaitTimeout(t *testing.T) {
	cell := New[int]()

	start := time.Now()
	_, err := cell.WaitTimeout(context.Background(), 30*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestCell_ResolvedFromOtherGoroutine(t *testing.T) {
	cell := New[int]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		cell.Resolve(42)
	}()

	got, err := cell.WaitTimeout(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	select {
	case <-cell.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestCell_ConcurrentCompletion(t *testing.T) {
	cell := New[int]()
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			if cell.Resolve(v) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

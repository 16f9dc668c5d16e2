package workerpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolImportsAllHeights(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[uint64]bool)

	pool := New(2, func(ctx context.Context, height uint64) error {
		mu.Lock()
		seen[height] = true
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	var acks []<-chan error
	for h := uint64(1); h <= 5; h++ {
		acks = append(acks, pool.ImportBlock(h))
	}
	for _, ack := range acks {
		select {
		case err := <-ack:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for ack")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for h := uint64(1); h <= 5; h++ {
		assert.True(t, seen[h], "height %d was never imported", h)
	}
}

func TestPoolPropagatesImportError(t *testing.T) {
	wantErr := errors.New("fetch failed")
	pool := New(1, func(ctx context.Context, height uint64) error {
		return wantErr
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	ack := pool.ImportBlock(10)
	select {
	case err := <-ack:
		assert.Equal(t, wantErr, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ack")
	}
}

func TestTxsInFlightReturnsToZeroAfterCompletion(t *testing.T) {
	pool := New(1, func(ctx context.Context, height uint64) error {
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	err := <-pool.ImportBlock(1)
	require.NoError(t, err)

	// Give the post-job progress emission a moment to land.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && pool.TxsInFlight() != 0 {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 0, pool.TxsInFlight())
}

func TestNewClampsWorkerCountToOne(t *testing.T) {
	pool := New(0, func(ctx context.Context, height uint64) error { return nil })
	assert.Equal(t, 1, pool.n)
}

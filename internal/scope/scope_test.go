package scope

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseCancelsAndWaits(t *testing.T) {
	s := New(context.Background())
	var exited atomic.Int32
	for i := 0; i < 3; i++ {
		s.Go(func(ctx context.Context) {
			<-ctx.Done()
			time.Sleep(5 * time.Millisecond)
			exited.Add(1)
		})
	}

	s.Close()
	assert.Equal(t, int32(3), exited.Load())
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)
}

func TestCleanupsRunInReverse(t *testing.T) {
	s := New(context.Background())
	var order []int
	for i := 1; i <= 3; i++ {
		s.Defer(func() { order = append(order, i) })
	}
	s.Close()
	s.Close()
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestCleanupsRunAfterCancel(t *testing.T) {
	s := New(context.Background())
	var sawCancelled bool
	s.Defer(func() { sawCancelled = s.Context().Err() != nil })
	s.Close()
	assert.True(t, sawCancelled)
}

func TestUseAfterClose(t *testing.T) {
	s := New(context.Background())
	s.Close()
	require.True(t, s.Closed())

	ran := false
	s.Defer(func() { ran = true })
	assert.True(t, ran, "defer on a closed scope runs immediately")

	started := false
	s.Go(func(context.Context) { started = true })
	s.Close()
	assert.False(t, started)
}

func TestParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := New(parent)
	done := make(chan struct{})
	s.Go(func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scope did not observe parent cancellation")
	}
	s.Close()
}

package broadcaster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndGet(t *testing.T) {
	b := New()
	s := b.Open("exec-1")
	require.NotNil(t, s)

	got, ok := b.Get("exec-1")
	assert.True(t, ok)
	assert.Same(t, s, got)
}

func TestOpenReplacesExisting(t *testing.T) {
	b := New()
	first := b.Open("exec-1")
	second := b.Open("exec-1")

	assert.NotSame(t, first, second)
	_, ok := <-first.Events()
	assert.False(t, ok, "replacing a session closes the prior one")
}

func TestSendAndDrain(t *testing.T) {
	b := New()
	s := b.Open("exec-1")

	ok := s.Send(context.Background(), Event{Step: "start", Message: "beginning"})
	assert.True(t, ok)

	ev := <-s.Events()
	assert.Equal(t, "start", ev.Step)
	assert.Equal(t, "beginning", ev.Message)
}

func TestCloseIdempotentAndTerminatesRange(t *testing.T) {
	b := New()
	s := b.Open("exec-1")

	s.Close()
	assert.NotPanics(t, func() { s.Close() })

	_, ok := <-s.Events()
	assert.False(t, ok)

	select {
	case <-s.Done():
	default:
		t.Fatal("Done() should be closed after Close()")
	}
}

func TestSendAfterCloseReturnsFalse(t *testing.T) {
	b := New()
	s := b.Open("exec-1")
	s.Close()

	ok := s.Send(context.Background(), Event{Step: "late"})
	assert.False(t, ok)
}

func TestSendRespectsContextCancellation(t *testing.T) {
	b := New()
	s := b.Open("exec-1")

	// Fill the buffer so the next Send would otherwise block.
	for i := 0; i < defaultBufferSize; i++ {
		require.True(t, s.Send(context.Background(), Event{Step: "fill"}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	ok := s.Send(ctx, Event{Step: "blocked"})
	assert.False(t, ok)
}

func TestBroadcasterClose(t *testing.T) {
	b := New()
	s := b.Open("exec-1")
	b.Close("exec-1")

	_, ok := b.Get("exec-1")
	assert.False(t, ok)

	_, ok = <-s.Events()
	assert.False(t, ok)
}

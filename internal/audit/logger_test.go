package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-passport/go-core/pkg/types"
)

// memorySink collects batches for assertions
type memorySink struct {
	mu     sync.Mutex
	events []*types.AuditEvent
	closed bool
}

func (s *memorySink) WriteBatch(ctx context.Context, events []*types.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) all() []*types.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

func TestAsyncLoggerFlushesOnClose(t *testing.T) {
	sink := &memorySink{}
	logger := NewAsyncLogger(sink, Config{FlushInterval: time.Hour})

	for i := 0; i < 5; i++ {
		logger.Emit(context.Background(), &types.AuditEvent{
			EventType: EventTokenIssued,
			ActorType: types.ActorTypeAgent,
			ActorID:   "agent-1",
		})
	}

	require.NoError(t, logger.Close())
	events := sink.all()
	require.Len(t, events, 5)
	assert.True(t, sink.closed)

	for _, ev := range events {
		assert.NotZero(t, ev.ID)
		assert.False(t, ev.CreatedAt.IsZero())
	}
}

func TestAsyncLoggerFlushesOnInterval(t *testing.T) {
	sink := &memorySink{}
	logger := NewAsyncLogger(sink, Config{FlushInterval: 10 * time.Millisecond})
	defer logger.Close()

	logger.Emit(context.Background(), &types.AuditEvent{
		EventType: EventAgentRegistered,
		ActorType: types.ActorTypeAgent,
		ActorID:   "agent-2",
	})

	assert.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestAsyncLoggerDropsOnOverflow(t *testing.T) {
	sink := &memorySink{}
	logger := NewAsyncLogger(sink, Config{BufferSize: 1, FlushInterval: time.Hour})

	// second emit must not block even though nothing is draining yet
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			logger.Emit(context.Background(), &types.AuditEvent{EventType: EventTokenIssued})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on full buffer")
	}
	require.NoError(t, logger.Close())
}

func TestNopLogger(t *testing.T) {
	var l NopLogger
	l.Emit(context.Background(), &types.AuditEvent{EventType: EventTokenIssued})
	assert.NoError(t, l.Close())
}

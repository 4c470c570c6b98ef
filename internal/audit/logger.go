package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agent-passport/go-core/pkg/types"
)

// Logger accepts audit events for asynchronous, best-effort persistence
type Logger interface {
	// Emit queues an event. Never blocks; drops on overflow.
	Emit(ctx context.Context, event *types.AuditEvent)

	// Close flushes pending events and stops the logger
	Close() error
}

// Sink receives batched events from the async logger
type Sink interface {
	WriteBatch(ctx context.Context, events []*types.AuditEvent) error
	Close() error
}

// Config tunes the async logger
type Config struct {
	BufferSize    int           // ring buffer size (default 1000)
	FlushInterval time.Duration // batch interval (default 100ms)
	BatchSize     int           // max events per sink write (default 100)
	Logger        *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// asyncLogger buffers events on a channel and flushes batches to the sink
type asyncLogger struct {
	sink   Sink
	events chan *types.AuditEvent
	done   chan struct{}
	cfg    Config
	logger *zap.Logger
}

// NewAsyncLogger creates a buffered best-effort logger over a sink
func NewAsyncLogger(sink Sink, cfg Config) Logger {
	cfg.applyDefaults()

	l := &asyncLogger{
		sink:   sink,
		events: make(chan *types.AuditEvent, cfg.BufferSize),
		done:   make(chan struct{}),
		cfg:    cfg,
		logger: cfg.Logger,
	}
	go l.run()
	return l
}

func (l *asyncLogger) Emit(ctx context.Context, event *types.AuditEvent) {
	if event == nil {
		return
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	select {
	case l.events <- event:
	default:
		l.logger.Warn("audit buffer full, dropping event",
			zap.String("event_type", event.EventType),
			zap.String("actor_id", event.ActorID))
	}
}

func (l *asyncLogger) run() {
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*types.AuditEvent, 0, l.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := l.sink.WriteBatch(ctx, batch); err != nil {
			l.logger.Warn("audit batch write failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-l.events:
			if !ok {
				flush()
				close(l.done)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= l.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (l *asyncLogger) Close() error {
	close(l.events)
	<-l.done
	return l.sink.Close()
}

// NopLogger discards all events; used when auditing is disabled and in tests
type NopLogger struct{}

func (NopLogger) Emit(ctx context.Context, event *types.AuditEvent) {}
func (NopLogger) Close() error                                      { return nil }

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/agent-passport/go-core/pkg/types"
)

// writerSink emits one JSON line per event to an io.Writer
type writerSink struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// NewStdoutSink writes events as JSON lines to stdout
func NewStdoutSink() Sink {
	return &writerSink{w: os.Stdout}
}

// NewFileSink writes events as JSON lines to a rotating log file
func NewFileSink(path string, maxSizeMB, maxAgeDays, maxBackups int) Sink {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxAge:     maxAgeDays,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	return &writerSink{w: lj, c: lj}
}

func (s *writerSink) WriteBatch(ctx context.Context, events []*types.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc := json.NewEncoder(s.w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("encode audit event: %w", err)
		}
	}
	return nil
}

func (s *writerSink) Close() error {
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/Ocean-Moist/rholive/internal/segment"
)

// Sink receives emitted turns. Deliver is called from the runner goroutine
// and should not block for long.
type Sink interface {
	Deliver(ctx context.Context, turn *segment.Turn) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, turn *segment.Turn) error

// Deliver calls f
func (f SinkFunc) Deliver(ctx context.Context, turn *segment.Turn) error {
	return f(ctx, turn)
}

// LogSink logs a summary line per turn
type LogSink struct {
	Logger *slog.Logger
}

// Deliver logs turn at info level
func (s LogSink) Deliver(_ context.Context, turn *segment.Turn) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("Turn emitted",
		slog.String("turn_id", turn.ID),
		slog.Uint64("generation", turn.Generation),
		slog.String("reason", turn.CloseReason.String()),
		slog.Duration("duration", turn.Duration()),
		slog.String("partial_text", turn.PartialText),
	)
	return nil
}

// JSONSink writes one JSON object per turn to an io.Writer. Audio is omitted.
type JSONSink struct {
	enc *json.Encoder
	mu  sync.Mutex
}

// NewJSONSink creates a sink writing newline-delimited JSON to w
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

// Deliver encodes turn
func (s *JSONSink) Deliver(_ context.Context, turn *segment.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Encode(turn); err != nil {
		return fmt.Errorf("failed to encode turn: %w", err)
	}
	return nil
}

package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Ocean-Moist/rholive/internal/audio"
	"github.com/Ocean-Moist/rholive/internal/metrics"
	"github.com/Ocean-Moist/rholive/internal/segment"
)

const (
	sessionDirLayout = "20060102_150405"
	turnDirLayout    = "150405.000"
	audioFileName    = "audio.wav"
	metaFileName     = "turn.json"
)

// Recorder writes every delivered turn under <root>/<session timestamp>/
type Recorder struct {
	base    string
	logger  *slog.Logger
	metrics *metrics.Metrics

	count int
	mu    sync.Mutex
}

// turnMetadata is the content of turn.json
type turnMetadata struct {
	ID          string    `json:"id"`
	Index       int       `json:"index"`
	Generation  uint64    `json:"generation"`
	CloseReason string    `json:"close_reason"`
	PartialText string    `json:"partial_text,omitempty"`
	OpenedAt    time.Time `json:"opened_at"`
	ClosedAt    time.Time `json:"closed_at"`
	Samples     int       `json:"samples"`
	DurationMs  int64     `json:"duration_ms"`
	SampleRate  int       `json:"sample_rate"`
}

// New creates the session directory under root
func New(root string, logger *slog.Logger, m *metrics.Metrics) (*Recorder, error) {
	if root == "" {
		return nil, fmt.Errorf("recording directory cannot be empty")
	}

	if logger == nil {
		logger = slog.Default()
	}

	base := filepath.Join(root, time.Now().Format(sessionDirLayout))
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	logger.Info("Recording enabled", slog.String("dir", base))

	return &Recorder{
		base:    base,
		logger:  logger,
		metrics: m,
	}, nil
}

// Deliver writes turn to its own directory
func (r *Recorder) Deliver(ctx context.Context, turn *segment.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := r.save(turn)
	r.metrics.RecordTurnSaved(err)
	if err != nil {
		r.logger.Error("Failed to record turn",
			slog.String("turn_id", turn.ID),
			slog.String("error", err.Error()),
		)
	}
	return err
}

func (r *Recorder) save(turn *segment.Turn) error {
	r.mu.Lock()
	r.count++
	index := r.count
	r.mu.Unlock()

	dir := filepath.Join(r.base, fmt.Sprintf("turn_%03d_%s", index, turn.ClosedAt.Format(turnDirLayout)))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create turn directory: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, audioFileName))
	if err != nil {
		return fmt.Errorf("failed to create audio file: %w", err)
	}

	if err := audio.WriteWAV(f, turn.Audio, audio.SampleRate); err != nil {
		f.Close()
		return fmt.Errorf("failed to write audio: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close audio file: %w", err)
	}

	meta := turnMetadata{
		ID:          turn.ID,
		Index:       index,
		Generation:  turn.Generation,
		CloseReason: turn.CloseReason.String(),
		PartialText: turn.PartialText,
		OpenedAt:    turn.OpenedAt,
		ClosedAt:    turn.ClosedAt,
		Samples:     len(turn.Audio),
		DurationMs:  turn.Duration().Milliseconds(),
		SampleRate:  audio.SampleRate,
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, metaFileName), data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	r.logger.Debug("Turn recorded",
		slog.String("turn_id", turn.ID),
		slog.String("dir", dir),
	)

	return nil
}

// Dir returns the session recording directory
func (r *Recorder) Dir() string {
	return r.base
}

// Count returns the number of turns recorded so far
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

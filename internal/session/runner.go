package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Ocean-Moist/rholive/internal/audio"
	"github.com/Ocean-Moist/rholive/internal/segment"
)

// Runner feeds one audio source through a segmenter and hands every
// emitted turn to its sinks. A runner owns its segmenter for the duration
// of Run; the segmenter must not be pushed to from elsewhere.
type Runner struct {
	seg          *segment.Segmenter
	sinks        []Sink
	logger       *slog.Logger
	realtime     bool
	clock        *segment.ManualClock
	chunkSamples int

	// Statistics
	startTime      time.Time
	samplesRead    uint64
	turnsDelivered uint64
	turnsByReason  map[string]uint64
	sinkErrors     uint64
	running        bool

	mu sync.RWMutex
}

// Stats represents session runner statistics
type Stats struct {
	Running        bool              `json:"running"`
	StartTime      time.Time         `json:"start_time"`
	SamplesRead    uint64            `json:"samples_read"`
	AudioDuration  time.Duration     `json:"audio_duration"`
	TurnsDelivered uint64            `json:"turns_delivered"`
	TurnsByReason  map[string]uint64 `json:"turns_by_reason"`
	SinkErrors     uint64            `json:"sink_errors"`
}

// Option configures a Runner
type Option func(*Runner)

// WithSinks adds turn sinks, called in order for every turn
func WithSinks(sinks ...Sink) Option {
	return func(r *Runner) {
		for _, s := range sinks {
			if s != nil {
				r.sinks = append(r.sinks, s)
			}
		}
	}
}

// WithLogger sets the runner logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRealtime paces reads to the audio rate, one chunk per tick
func WithRealtime(realtime bool) Option {
	return func(r *Runner) {
		r.realtime = realtime
	}
}

// WithManualClock advances c by the duration of every piece of audio before
// it is pushed. Use the same clock the segmenter was built with to replay
// files faster than real time with correct timing.
func WithManualClock(c *segment.ManualClock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithChunkSamples sets how many samples are read per iteration
func WithChunkSamples(n int) Option {
	return func(r *Runner) {
		r.chunkSamples = n
	}
}

// NewRunner creates a runner around seg
func NewRunner(seg *segment.Segmenter, opts ...Option) (*Runner, error) {
	if seg == nil {
		return nil, fmt.Errorf("segmenter cannot be nil")
	}

	r := &Runner{
		seg:           seg,
		logger:        slog.Default(),
		chunkSamples:  audio.FrameSamples,
		turnsByReason: make(map[string]uint64),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.chunkSamples <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", r.chunkSamples)
	}

	return r, nil
}

// Run reads src until EOF or ctx is cancelled. An open capture is flushed
// and delivered in both cases. Cancellation is reported as ctx.Err().
func (r *Runner) Run(ctx context.Context, src Source) error {
	if src == nil {
		return fmt.Errorf("audio source cannot be nil")
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("runner is already running")
	}
	r.running = true
	r.startTime = time.Now()
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	r.logger.Info("Session started",
		slog.Bool("realtime", r.realtime),
		slog.Int("chunk_samples", r.chunkSamples),
		slog.Int("sinks", len(r.sinks)),
	)

	var tick <-chan time.Time
	if r.realtime {
		ticker := time.NewTicker(audio.SamplesDuration(r.chunkSamples))
		defer ticker.Stop()
		tick = ticker.C
	}

	buf := make([]int16, r.chunkSamples)
	runErr := r.loop(ctx, src, buf, tick)

	// The final turn is delivered even when the session was cancelled
	r.flush(context.WithoutCancel(ctx))

	stats := r.GetStats()
	r.logger.Info("Session finished",
		slog.Uint64("samples_read", stats.SamplesRead),
		slog.Duration("audio_duration", stats.AudioDuration),
		slog.Uint64("turns_delivered", stats.TurnsDelivered),
		slog.Uint64("sink_errors", stats.SinkErrors),
	)

	return runErr
}

func (r *Runner) loop(ctx context.Context, src Source, buf []int16, tick <-chan time.Time) error {
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		n, err := src.ReadSamples(buf)
		if n > 0 {
			r.mu.Lock()
			r.samplesRead += uint64(n)
			r.mu.Unlock()

			r.push(ctx, buf[:n])
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read audio: %w", err)
		}
	}
}

// push hands samples to the segmenter at most one frame at a time so a
// manual clock moves in step with the audio
func (r *Runner) push(ctx context.Context, samples []int16) {
	for len(samples) > 0 {
		n := min(len(samples), audio.FrameSamples)
		piece := samples[:n]
		samples = samples[n:]

		if r.clock != nil {
			r.clock.Advance(audio.SamplesDuration(n))
		}

		for turn := r.seg.PushChunk(piece); turn != nil; turn = r.seg.PushChunk(nil) {
			r.deliver(ctx, turn)
		}
	}
}

func (r *Runner) flush(ctx context.Context) {
	if turn := r.seg.Flush(); turn != nil {
		r.deliver(ctx, turn)
	}
}

func (r *Runner) deliver(ctx context.Context, turn *segment.Turn) {
	r.mu.Lock()
	r.turnsDelivered++
	r.turnsByReason[turn.CloseReason.String()]++
	r.mu.Unlock()

	for _, sink := range r.sinks {
		if err := sink.Deliver(ctx, turn); err != nil {
			r.mu.Lock()
			r.sinkErrors++
			r.mu.Unlock()

			r.logger.Warn("Sink failed to accept turn",
				slog.String("turn_id", turn.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// GetStats returns current runner statistics
func (r *Runner) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byReason := make(map[string]uint64, len(r.turnsByReason))
	for k, v := range r.turnsByReason {
		byReason[k] = v
	}

	return Stats{
		Running:        r.running,
		StartTime:      r.startTime,
		SamplesRead:    r.samplesRead,
		AudioDuration:  audio.SamplesDuration(int(r.samplesRead)),
		TurnsDelivered: r.turnsDelivered,
		TurnsByReason:  byReason,
		SinkErrors:     r.sinkErrors,
	}
}

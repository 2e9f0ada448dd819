package segment

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ocean-Moist/rholive/internal/audio"
	"github.com/Ocean-Moist/rholive/internal/clause"
	"github.com/Ocean-Moist/rholive/internal/metrics"
	"github.com/Ocean-Moist/rholive/internal/transcription"
	"github.com/Ocean-Moist/rholive/internal/vad"
	"github.com/Ocean-Moist/rholive/internal/worker"
)

// State is the segmenter's FSM state
type State int

const (
	StateIdle State = iota
	StateCapturing
	// StateFlushing is transient: it resolves to StateIdle within the same call
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateFlushing:
		return "flushing"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Dispatcher hands snapshots to background transcription and returns results.
// Submit and Poll must never block. *worker.Pool implements it.
type Dispatcher interface {
	Submit(job worker.Job) bool
	Poll() (worker.Result, bool)
	Close(timeout time.Duration) error
}

// Turn is a closed segment ready for downstream delivery
type Turn struct {
	ID          string      `json:"id"`
	Generation  uint64      `json:"generation"`
	Audio       []int16     `json:"-"`
	CloseReason CloseReason `json:"close_reason"`
	PartialText string      `json:"partial_text,omitempty"` // Empty when no transcription round completed
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    time.Time   `json:"closed_at"`
}

// Duration returns the length of the captured audio
func (t *Turn) Duration() time.Duration {
	return audio.SamplesDuration(len(t.Audio))
}

// Stats represents segmenter statistics
type Stats struct {
	State           string            `json:"state"`
	Generation      uint64            `json:"generation"`
	FramesProcessed uint64            `json:"frames_processed"`
	VoicedFrames    uint64            `json:"voiced_frames"`
	SegmentsOpened  uint64            `json:"segments_opened"`
	TurnsEmitted    uint64            `json:"turns_emitted"`
	TurnsByReason   map[string]uint64 `json:"turns_by_reason"`
	JobsSubmitted   uint64            `json:"jobs_submitted"`
	JobsRejected    uint64            `json:"jobs_rejected"`
	ResultsAccepted uint64            `json:"results_accepted"`
	StaleResults    uint64            `json:"stale_results"`
	ClauseHits      uint64            `json:"clause_hits"`
}

// capture is the Capturing state's data. It exists only while a segment is open.
type capture struct {
	openedAt    time.Time
	voicedRun   int
	silenceRun  int
	buffer      []int16
	lastPollAt  time.Time
	inFlight    bool
	partialText string
	clauseHit   bool
}

// Option configures a Segmenter
type Option func(*Segmenter)

// WithClock sets the time source
func WithClock(c Clock) Option {
	return func(s *Segmenter) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithClassifier replaces the default energy classifier
func WithClassifier(c vad.Classifier) Option {
	return func(s *Segmenter) {
		s.classifier = c
	}
}

// WithDispatcher attaches a transcription dispatcher. Without one the
// segmenter runs VAD-only and never closes on a clause boundary.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Segmenter) {
		s.dispatcher = d
	}
}

// WithLogger sets the segmenter logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Segmenter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records segmenter activity in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Segmenter) {
		s.metrics = m
	}
}

// Segmenter turns a stream of PCM audio into speech turns
type Segmenter struct {
	cfg        Config
	clock      Clock
	classifier vad.Classifier
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics

	chunker *audio.Chunkizer
	vad     *vad.Processor

	state      State
	generation uint64
	openRun    int // Consecutive voiced sub-frame votes while idle
	cur        *capture
	closed     bool

	// Statistics, readable from other goroutines
	stats Stats
	mu    sync.RWMutex
}

// New creates a segmenter. Without WithDispatcher it runs VAD-only.
func New(cfg Config, opts ...Option) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid segmenter config: %w", err)
	}

	if len(cfg.Precedence) == 0 {
		cfg.Precedence = DefaultPrecedence()
	} else {
		cfg.Precedence = append([]CloseReason(nil), cfg.Precedence...)
	}

	s := &Segmenter{
		cfg:     cfg,
		clock:   SystemClock{},
		logger:  slog.Default(),
		chunker: audio.NewChunkizer(audio.FrameSamples),
		stats:   Stats{TurnsByReason: make(map[string]uint64)},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.classifier == nil {
		energy, err := vad.NewEnergyClassifier(vad.DefaultEnergyThreshold, audio.SubFrameSamples)
		if err != nil {
			return nil, fmt.Errorf("failed to create energy classifier: %w", err)
		}
		s.classifier = energy
	}

	processor, err := vad.NewProcessor(s.classifier, audio.SubFrameSamples, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create VAD processor: %w", err)
	}
	s.vad = processor

	s.logger.Info("Segmenter created",
		slog.Int("open_voiced_frames", cfg.OpenVoicedFrames),
		slog.Duration("close_silence", cfg.CloseSilence),
		slog.Duration("max_turn", cfg.MaxTurn),
		slog.Int("min_clause_tokens", cfg.MinClauseTokens),
		slog.Duration("poll_interval", cfg.PollInterval),
		slog.Bool("transcription", s.dispatcher != nil),
	)

	return s, nil
}

// NewWithFactory creates a segmenter backed by a pool of workers
// built with factory. Construction fails if any transcriber cannot be built.
func NewWithFactory(cfg Config, factory transcription.Factory, workers int, opts ...Option) (*Segmenter, error) {
	s, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	pool, err := worker.NewPool(workers, factory,
		worker.WithLogger(s.logger),
		worker.WithMetrics(s.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start transcription workers: %w", err)
	}
	s.dispatcher = pool

	return s, nil
}

// NewWithModel creates a segmenter with one whisper.cpp model per worker.
// An empty modelPath yields a VAD-only segmenter.
func NewWithModel(cfg Config, modelPath string, workers int, opts ...Option) (*Segmenter, error) {
	if modelPath == "" {
		return New(cfg, opts...)
	}

	return NewWithFactory(cfg, transcription.WhisperFactory(transcription.WhisperConfig{
		ModelPath: modelPath,
	}), workers, opts...)
}

// PushChunk accepts samples of any length and processes every complete frame
// until one closes a turn. Frames still buffered after a close are processed
// by the next call; PushChunk(nil) continues without new input.
func (s *Segmenter) PushChunk(samples []int16) *Turn {
	if len(samples) > 0 {
		s.chunker.Write(samples)
	}

	for {
		frame, ok := s.chunker.Next()
		if !ok {
			return nil
		}

		if turn := s.processFrame(frame.Samples); turn != nil {
			return turn
		}
	}
}

// PushFrame processes exactly one 100ms frame. Frames of any other length
// are dropped with a warning.
func (s *Segmenter) PushFrame(frame []int16) *Turn {
	if len(frame) != audio.FrameSamples {
		s.logger.Warn("Dropping frame with unexpected length",
			slog.Int("expected", audio.FrameSamples),
			slog.Int("got", len(frame)),
		)
		return nil
	}

	return s.processFrame(frame)
}

// Flush closes an open segment with CloseEndOfStream and discards any
// partial frame left in the chunkizer. It returns nil when idle.
func (s *Segmenter) Flush() *Turn {
	s.chunker.Reset()
	s.drainResults()

	if s.cur == nil {
		return nil
	}

	return s.emit(CloseEndOfStream)
}

// Close releases the transcription dispatcher, waiting at most the
// configured drain timeout for outstanding jobs. Late results are discarded.
func (s *Segmenter) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.dispatcher == nil {
		return nil
	}

	err := s.dispatcher.Close(s.cfg.DrainTimeout)
	for {
		if _, ok := s.dispatcher.Poll(); !ok {
			break
		}
	}

	if err != nil {
		return fmt.Errorf("failed to drain transcription workers: %w", err)
	}
	return nil
}

// State returns the current FSM state
func (s *Segmenter) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Generation returns the generation of the current or most recent segment
func (s *Segmenter) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Config returns a copy of the segmenter configuration
func (s *Segmenter) Config() Config {
	cfg := s.cfg
	cfg.Precedence = append([]CloseReason(nil), s.cfg.Precedence...)
	return cfg
}

// GetStats returns current segmenter statistics
func (s *Segmenter) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	stats.State = s.state.String()
	stats.Generation = s.generation
	stats.TurnsByReason = make(map[string]uint64, len(s.stats.TurnsByReason))
	for k, v := range s.stats.TurnsByReason {
		stats.TurnsByReason[k] = v
	}
	return stats
}

// VADStats returns the VAD processor statistics
func (s *Segmenter) VADStats() vad.ProcessorStats {
	return s.vad.GetStats()
}

// processFrame runs one step of the state machine
func (s *Segmenter) processFrame(frame []int16) *Turn {
	s.drainResults()

	decision := s.vad.Process(frame)
	s.metrics.RecordFrame(decision.HasVoice, decision.Failed, decision.ProcessingTime)

	s.mu.Lock()
	s.stats.FramesProcessed++
	if decision.HasVoice {
		s.stats.VoicedFrames++
	}
	s.mu.Unlock()

	if s.cur == nil {
		if !s.shouldOpen(decision.Votes) {
			return nil
		}
		s.open()
	}

	return s.step(frame, decision.HasVoice)
}

// shouldOpen extends the idle voiced run with this frame's sub-frame votes
func (s *Segmenter) shouldOpen(votes []bool) bool {
	reached := false
	for _, voiced := range votes {
		if !voiced {
			s.openRun = 0
			continue
		}
		s.openRun++
		if s.openRun >= s.cfg.OpenVoicedFrames {
			reached = true
		}
	}
	return reached
}

// open performs the Idle to Capturing transition
func (s *Segmenter) open() {
	now := s.clock.Now()
	maxSamples := int(s.cfg.MaxTurn.Milliseconds()) * audio.SampleRate / 1000

	s.cur = &capture{
		openedAt:   now,
		lastPollAt: now,
		buffer:     make([]int16, 0, maxSamples),
	}
	s.openRun = 0

	s.mu.Lock()
	s.generation++
	s.state = StateCapturing
	s.stats.SegmentsOpened++
	generation := s.generation
	s.mu.Unlock()

	s.metrics.RecordSegmentOpened()
	s.logger.Debug("Segment opened",
		slog.Uint64("generation", generation),
	)
}

// step appends a frame to the open segment and evaluates close and poll conditions
func (s *Segmenter) step(frame []int16, voiced bool) *Turn {
	c := s.cur
	c.buffer = append(c.buffer, frame...)

	if voiced {
		c.voicedRun++
		c.silenceRun = 0
	} else {
		c.silenceRun++
		c.voicedRun = 0
	}

	now := s.clock.Now()
	captured := audio.SamplesDuration(len(c.buffer))

	hits := map[CloseReason]bool{
		// Close before the next frame could push the buffer past the ceiling
		CloseMaxDuration:    now.Sub(c.openedAt) >= s.cfg.MaxTurn || captured+audio.FrameDuration > s.cfg.MaxTurn,
		CloseClauseBoundary: c.clauseHit,
		CloseSilence:        time.Duration(c.silenceRun)*audio.FrameDuration >= s.cfg.CloseSilence,
	}

	for _, reason := range s.cfg.Precedence {
		if hits[reason] {
			return s.emit(reason)
		}
	}

	s.maybePoll(now)
	return nil
}

// maybePoll submits a snapshot when the poll interval has elapsed and no job
// is outstanding for this segment
func (s *Segmenter) maybePoll(now time.Time) {
	c := s.cur
	if s.dispatcher == nil || c.inFlight || now.Sub(c.lastPollAt) < s.cfg.PollInterval {
		return
	}
	c.lastPollAt = now

	snapshot := make([]int16, len(c.buffer))
	copy(snapshot, c.buffer)
	generation := s.generation

	if s.dispatcher.Submit(worker.Job{Generation: generation, Audio: snapshot}) {
		c.inFlight = true
		s.mu.Lock()
		s.stats.JobsSubmitted++
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.stats.JobsRejected++
	s.mu.Unlock()
	s.logger.Debug("Transcription pool busy, skipping poll",
		slog.Uint64("generation", generation),
	)
}

// drainResults applies every available worker result. Results for any
// generation other than the open segment's are dropped.
func (s *Segmenter) drainResults() {
	if s.dispatcher == nil {
		return
	}

	for {
		r, ok := s.dispatcher.Poll()
		if !ok {
			return
		}

		if s.cur == nil || r.Generation != s.generation {
			s.mu.Lock()
			s.stats.StaleResults++
			s.mu.Unlock()
			s.metrics.RecordStaleResult()
			continue
		}

		s.cur.inFlight = false

		// Failures were logged by the worker; treat as no result
		if r.Err != nil {
			continue
		}

		s.cur.partialText = r.Text

		s.mu.Lock()
		s.stats.ResultsAccepted++
		s.mu.Unlock()

		if r.ClauseReady && clause.IsValidClause(r.Text, s.cfg.MinClauseTokens) {
			s.cur.clauseHit = true
			s.mu.Lock()
			s.stats.ClauseHits++
			s.mu.Unlock()
		}
	}
}

// emit performs Capturing to Flushing to Idle, moving the buffer into a Turn
func (s *Segmenter) emit(reason CloseReason) *Turn {
	c := s.cur
	s.cur = nil

	s.mu.Lock()
	s.state = StateFlushing
	generation := s.generation
	s.mu.Unlock()

	turn := &Turn{
		ID:          uuid.NewString(),
		Generation:  generation,
		Audio:       c.buffer,
		CloseReason: reason,
		PartialText: c.partialText,
		OpenedAt:    c.openedAt,
		ClosedAt:    s.clock.Now(),
	}

	s.mu.Lock()
	s.state = StateIdle
	s.stats.TurnsEmitted++
	s.stats.TurnsByReason[reason.String()]++
	s.mu.Unlock()

	s.metrics.RecordTurn(reason.String(), turn.Duration())
	s.logger.Info("Turn closed",
		slog.String("turn_id", turn.ID),
		slog.Uint64("generation", generation),
		slog.String("reason", reason.String()),
		slog.Duration("audio", turn.Duration()),
		slog.Int("partial_text_len", len(turn.PartialText)),
	)

	return turn
}

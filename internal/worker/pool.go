package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Ocean-Moist/rholive/internal/metrics"
	"github.com/Ocean-Moist/rholive/internal/transcription"
)

var (
	// ErrPoolClosed is returned when the pool no longer accepts work
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrDrainTimeout is returned by Close when workers did not finish in time
	ErrDrainTimeout = errors.New("worker pool drain timed out")
)

const (
	defaultQueueSize  = 1
	defaultJobTimeout = 30 * time.Second
)

// Job is an immutable audio snapshot tagged with the segment generation
type Job struct {
	Generation uint64
	Audio      []int16
}

// Result is the outcome of one Job. Err is set when transcription failed.
type Result struct {
	Generation  uint64
	Text        string
	ClauseReady bool
	Err         error
	Latency     time.Duration
}

// Stats represents pool statistics
type Stats struct {
	Workers   int    `json:"workers"`
	Submitted uint64 `json:"submitted"`
	Rejected  uint64 `json:"rejected"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Queued    int    `json:"queued"`
	Pending   int    `json:"pending_results"`
}

// Option configures a Pool
type Option func(*Pool)

// WithLogger sets the pool logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records job outcomes in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// WithQueueSize sets how many jobs may wait for a free worker
func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithJobTimeout bounds a single Transcribe call
func WithJobTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.jobTimeout = d
		}
	}
}

// Pool is a fixed-size set of transcription workers
type Pool struct {
	size       int
	queueSize  int
	jobTimeout time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics

	jobs    chan Job
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.RWMutex // Guards closed against sends on jobs
	closed bool

	resultsMu sync.Mutex
	results   []Result // Finished results in completion order, never dropped

	submitted atomic.Uint64
	rejected  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// NewPool builds size transcribers with factory and starts one worker per
// transcriber. Any construction failure closes the instances already built.
func NewPool(size int, factory transcription.Factory, opts ...Option) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", size)
	}

	if factory == nil {
		return nil, fmt.Errorf("transcriber factory cannot be nil")
	}

	p := &Pool{
		size:       size,
		queueSize:  defaultQueueSize,
		jobTimeout: defaultJobTimeout,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	transcribers := make([]transcription.Transcriber, 0, size)
	for i := 0; i < size; i++ {
		t, err := factory()
		if err != nil {
			for _, built := range transcribers {
				built.Close()
			}
			return nil, fmt.Errorf("failed to create transcriber %d: %w", i, err)
		}
		transcribers = append(transcribers, t)
	}

	p.jobs = make(chan Job, p.queueSize)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.group = &errgroup.Group{}

	for i, t := range transcribers {
		i, t := i, t
		p.group.Go(func() error {
			return p.run(i, t)
		})
	}

	p.logger.Info("Worker pool started",
		slog.Int("workers", size),
		slog.Int("queue_size", p.queueSize),
	)

	return p, nil
}

// run processes jobs until the queue is closed, then releases the transcriber
func (p *Pool) run(id int, t transcription.Transcriber) error {
	for job := range p.jobs {
		p.deliver(p.process(id, t, job))
	}

	if err := t.Close(); err != nil {
		return fmt.Errorf("worker %d: failed to close transcriber: %w", id, err)
	}
	return nil
}

// process runs a single job, converting errors and panics into a Result
func (p *Pool) process(id int, t transcription.Transcriber, job Job) (result Result) {
	startTime := time.Now()
	result.Generation = job.Generation

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("transcriber panic: %v", r)
		}

		result.Latency = time.Since(startTime)

		if result.Err != nil {
			p.failed.Add(1)
			p.metrics.RecordTranscription(false, result.Latency)
			p.logger.Warn("Transcription job failed",
				slog.Int("worker", id),
				slog.Uint64("generation", job.Generation),
				slog.String("error", result.Err.Error()),
			)
			return
		}

		p.completed.Add(1)
		p.metrics.RecordTranscription(true, result.Latency)
		p.logger.Debug("Transcription job completed",
			slog.Int("worker", id),
			slog.Uint64("generation", job.Generation),
			slog.Int("samples", len(job.Audio)),
			slog.Bool("clause_ready", result.ClauseReady),
			slog.Duration("latency", result.Latency),
		)
	}()

	ctx, cancel := context.WithTimeout(p.ctx, p.jobTimeout)
	defer cancel()

	out, err := t.Transcribe(ctx, job.Audio)
	if err != nil {
		result.Err = err
		return result
	}

	result.Text = out.Text
	result.ClauseReady = out.ClauseReady
	return result
}

// deliver queues a finished result for Poll. It never blocks the worker.
func (p *Pool) deliver(result Result) {
	p.resultsMu.Lock()
	p.results = append(p.results, result)
	p.resultsMu.Unlock()
}

// Submit enqueues job without blocking. It returns false when the queue is
// full or the pool is closed.
func (p *Pool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.rejected.Add(1)
		p.metrics.RecordJobRejected()
		return false
	}

	select {
	case p.jobs <- job:
		p.submitted.Add(1)
		p.metrics.RecordJobSubmitted()
		return true
	default:
		p.rejected.Add(1)
		p.metrics.RecordJobRejected()
		return false
	}
}

// Poll returns the next available result without blocking
func (p *Pool) Poll() (Result, bool) {
	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()

	if len(p.results) == 0 {
		return Result{}, false
	}

	r := p.results[0]
	p.results[0] = Result{}
	p.results = p.results[1:]
	if len(p.results) == 0 {
		p.results = nil
	}
	return r, true
}

// Close stops accepting jobs and waits up to timeout for workers to finish
// queued and in-flight jobs. Results produced during the drain remain
// available through Poll. On timeout the shared job context is cancelled and
// ErrDrainTimeout is returned.
func (p *Pool) Close(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- p.group.Wait()
	}()

	select {
	case err := <-done:
		p.cancel()
		p.logger.Info("Worker pool stopped")
		return err
	case <-time.After(timeout):
		p.cancel()
		p.logger.Warn("Worker pool drain timed out",
			slog.Duration("timeout", timeout),
		)
		return fmt.Errorf("%w after %v", ErrDrainTimeout, timeout)
	}
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.size
}

// GetStats returns current pool statistics
func (p *Pool) GetStats() Stats {
	p.resultsMu.Lock()
	pending := len(p.results)
	p.resultsMu.Unlock()

	return Stats{
		Workers:   p.size,
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Queued:    len(p.jobs),
		Pending:   pending,
	}
}

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ocean-Moist/rholive/internal/audio"
	"github.com/Ocean-Moist/rholive/internal/segment"
	"github.com/Ocean-Moist/rholive/internal/vad"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var markerClassifier = vad.ClassifierFunc(func(samples []int16) (bool, error) {
	return samples[0] != 0, nil
})

// script builds audio from alternating runs: positive counts are voiced
// frames, negative counts are silent frames
func script(runs ...int) []int16 {
	var out []int16
	for _, r := range runs {
		value, n := int16(1000), r
		if r < 0 {
			value, n = 0, -r
		}
		for i := 0; i < n*audio.FrameSamples; i++ {
			out = append(out, value)
		}
	}
	return out
}

type collector struct {
	turns []*segment.Turn
	mu    sync.Mutex
}

func (c *collector) Deliver(ctx context.Context, turn *segment.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.turns = append(c.turns, turn)
	c.mu.Unlock()
	return nil
}

func (c *collector) get() []*segment.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*segment.Turn(nil), c.turns...)
}

func newOfflineRunner(t *testing.T, opts ...Option) (*Runner, *collector) {
	t.Helper()

	clock := segment.NewManualClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	seg, err := segment.New(segment.DefaultConfig(),
		segment.WithClock(clock),
		segment.WithClassifier(markerClassifier),
		segment.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("Failed to create segmenter: %v", err)
	}

	sink := &collector{}
	opts = append([]Option{
		WithLogger(testLogger()),
		WithManualClock(clock),
		WithSinks(sink),
	}, opts...)

	r, err := NewRunner(seg, opts...)
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}
	return r, sink
}

func TestNewRunnerValidation(t *testing.T) {
	if _, err := NewRunner(nil); err == nil {
		t.Error("Expected error for nil segmenter")
	}

	seg, _ := segment.New(segment.DefaultConfig(), segment.WithLogger(testLogger()))
	if _, err := NewRunner(seg, WithChunkSamples(0)); err == nil {
		t.Error("Expected error for zero chunk size")
	}
}

func TestRunOfflineTurns(t *testing.T) {
	tests := []struct {
		name  string
		chunk int
	}{
		{name: "frame sized reads", chunk: audio.FrameSamples},
		{name: "odd sized reads", chunk: 777},
		{name: "large reads", chunk: 5 * audio.FrameSamples},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, sink := newOfflineRunner(t, WithChunkSamples(tt.chunk))

			pcm := audio.SamplesToBytes(script(10, -5, 10, -2))
			if err := r.Run(context.Background(), NewPCMSource(bytes.NewReader(pcm))); err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			turns := sink.get()
			if len(turns) != 2 {
				t.Fatalf("Expected 2 turns, got %d", len(turns))
			}

			if turns[0].CloseReason != segment.CloseSilence {
				t.Errorf("Expected first turn closed by silence, got %s", turns[0].CloseReason)
			}
			if got := turns[0].Duration(); got != 1300*time.Millisecond {
				t.Errorf("Expected first turn of 1.3s, got %v", got)
			}

			if turns[1].CloseReason != segment.CloseEndOfStream {
				t.Errorf("Expected second turn flushed at end of stream, got %s", turns[1].CloseReason)
			}
			if got := turns[1].Duration(); got != 1200*time.Millisecond {
				t.Errorf("Expected second turn of 1.2s, got %v", got)
			}

			if turns[1].Generation != turns[0].Generation+1 {
				t.Errorf("Expected consecutive generations, got %d and %d", turns[0].Generation, turns[1].Generation)
			}

			stats := r.GetStats()
			if stats.SamplesRead != uint64(27*audio.FrameSamples) {
				t.Errorf("Expected %d samples read, got %d", 27*audio.FrameSamples, stats.SamplesRead)
			}
			if stats.AudioDuration != 2700*time.Millisecond {
				t.Errorf("Expected 2.7s of audio, got %v", stats.AudioDuration)
			}
			if stats.TurnsDelivered != 2 {
				t.Errorf("Expected 2 turns delivered, got %d", stats.TurnsDelivered)
			}
			if stats.TurnsByReason["silence"] != 1 || stats.TurnsByReason["end_of_stream"] != 1 {
				t.Errorf("Unexpected turns by reason: %v", stats.TurnsByReason)
			}
			if stats.Running {
				t.Error("Runner should not report running after Run returns")
			}
		})
	}
}

func TestRunManualClockTracksAudio(t *testing.T) {
	r, sink := newOfflineRunner(t, WithChunkSamples(4*audio.FrameSamples))

	if err := r.Run(context.Background(), NewSliceSource(script(-2, 3, -3))); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	turns := sink.get()
	if len(turns) != 1 {
		t.Fatalf("Expected 1 turn, got %d", len(turns))
	}

	// Opened on frame 3, closed on frame 8
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if want := start.Add(300 * time.Millisecond); !turns[0].OpenedAt.Equal(want) {
		t.Errorf("Expected opened at %v, got %v", want, turns[0].OpenedAt)
	}
	if want := start.Add(800 * time.Millisecond); !turns[0].ClosedAt.Equal(want) {
		t.Errorf("Expected closed at %v, got %v", want, turns[0].ClosedAt)
	}
}

func TestRunMaxDurationOffline(t *testing.T) {
	r, sink := newOfflineRunner(t)

	if err := r.Run(context.Background(), NewSliceSource(script(120))); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	turns := sink.get()
	if len(turns) < 2 {
		t.Fatalf("Expected continuous speech to be split, got %d turns", len(turns))
	}
	for i, turn := range turns[:len(turns)-1] {
		if turn.CloseReason != segment.CloseMaxDuration {
			t.Errorf("Turn %d: expected max_duration, got %s", i, turn.CloseReason)
		}
		if turn.Duration() > 5*time.Second {
			t.Errorf("Turn %d exceeds the maximum turn length: %v", i, turn.Duration())
		}
	}
}

func TestRunSinkErrors(t *testing.T) {
	failing := SinkFunc(func(context.Context, *segment.Turn) error {
		return errors.New("downstream unavailable")
	})

	r, sink := newOfflineRunner(t)
	r.sinks = []Sink{failing, sink, failing}

	if err := r.Run(context.Background(), NewSliceSource(script(5, -4))); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(sink.get()) != 1 {
		t.Errorf("Healthy sink should still receive the turn, got %d", len(sink.get()))
	}

	stats := r.GetStats()
	if stats.SinkErrors != 2 {
		t.Errorf("Expected 2 sink errors, got %d", stats.SinkErrors)
	}
}

type endlessVoice struct{}

func (endlessVoice) ReadSamples(buf []int16) (int, error) {
	for i := range buf {
		buf[i] = 1000
	}
	return len(buf), nil
}

func TestRunRealtimeCancel(t *testing.T) {
	seg, err := segment.New(segment.DefaultConfig(),
		segment.WithClassifier(markerClassifier),
		segment.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("Failed to create segmenter: %v", err)
	}

	sink := &collector{}
	r, _ := NewRunner(seg, WithLogger(testLogger()), WithRealtime(true), WithSinks(sink))

	ctx, cancel := context.WithTimeout(context.Background(), 350*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = r.Run(ctx, endlessVoice{})
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if elapsed < 300*time.Millisecond {
		t.Errorf("Realtime run returned too early: %v", elapsed)
	}

	turns := sink.get()
	if len(turns) != 1 {
		t.Fatalf("Expected the open capture to be flushed, got %d turns", len(turns))
	}
	if turns[0].CloseReason != segment.CloseEndOfStream {
		t.Errorf("Expected end_of_stream, got %s", turns[0].CloseReason)
	}

	// Roughly 100ms of audio per tick
	samples := r.GetStats().SamplesRead
	if samples < 2*audio.FrameSamples || samples > 4*audio.FrameSamples {
		t.Errorf("Expected 2-4 frames read in 350ms, got %d samples", samples)
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	r, _ := newOfflineRunner(t)
	r.running = true

	if err := r.Run(context.Background(), NewSliceSource(script(1))); err == nil {
		t.Error("Expected error for a second concurrent run")
	}
}

type brokenSource struct{}

func (brokenSource) ReadSamples([]int16) (int, error) {
	return 0, errors.New("device unplugged")
}

func TestRunReadError(t *testing.T) {
	r, _ := newOfflineRunner(t)

	err := r.Run(context.Background(), brokenSource{})
	if err == nil || !strings.Contains(err.Error(), "device unplugged") {
		t.Errorf("Expected wrapped read error, got %v", err)
	}

	if err := r.Run(context.Background(), nil); err == nil {
		t.Error("Expected error for nil source")
	}
}

func TestPCMSourceDropsOddByte(t *testing.T) {
	data := append(audio.SamplesToBytes([]int16{1, -2, 3}), 0x7f)
	src := NewPCMSource(bytes.NewReader(data))

	buf := make([]int16, 8)
	n, err := src.ReadSamples(buf)
	if !errors.Is(err, io.EOF) {
		t.Errorf("Expected EOF with the final samples, got %v", err)
	}
	if n != 3 {
		t.Fatalf("Expected 3 samples, got %d", n)
	}
	if buf[0] != 1 || buf[1] != -2 || buf[2] != 3 {
		t.Errorf("Unexpected samples: %v", buf[:3])
	}

	n, err = src.ReadSamples(buf)
	if n != 0 || !errors.Is(err, io.EOF) {
		t.Errorf("Expected (0, EOF) after end, got (%d, %v)", n, err)
	}
}

func TestWAVSource(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, samples []int16, rate int) string {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
		defer f.Close()
		if err := audio.WriteWAV(f, samples, rate); err != nil {
			t.Fatalf("Failed to write WAV: %v", err)
		}
		return path
	}

	t.Run("16kHz is accepted", func(t *testing.T) {
		f, err := os.Open(write("ok.wav", script(2), audio.SampleRate))
		if err != nil {
			t.Fatalf("Failed to open: %v", err)
		}
		defer f.Close()

		src, err := NewWAVSource(f)
		if err != nil {
			t.Fatalf("NewWAVSource failed: %v", err)
		}

		buf := make([]int16, 4*audio.FrameSamples)
		n, _ := src.ReadSamples(buf)
		if n != 2*audio.FrameSamples {
			t.Errorf("Expected %d samples, got %d", 2*audio.FrameSamples, n)
		}
	})

	t.Run("other rates are rejected", func(t *testing.T) {
		f, err := os.Open(write("8k.wav", script(1), 8000))
		if err != nil {
			t.Fatalf("Failed to open: %v", err)
		}
		defer f.Close()

		if _, err := NewWAVSource(f); err == nil {
			t.Error("Expected error for 8kHz input")
		}
	})
}

func TestJSONSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf)

	turn := &segment.Turn{
		ID:          "turn-1",
		Generation:  7,
		Audio:       make([]int16, audio.FrameSamples),
		CloseReason: segment.CloseClauseBoundary,
		PartialText: "hello there.",
	}
	if err := sink.Deliver(context.Background(), turn); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Invalid JSON line %q: %v", buf.String(), err)
	}
	if decoded["close_reason"] != "clause_boundary" {
		t.Errorf("Expected clause_boundary, got %v", decoded["close_reason"])
	}
	if _, ok := decoded["audio"]; ok {
		t.Error("Audio should not be serialized")
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("Expected newline-delimited output")
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	turn := &segment.Turn{ID: "abc", CloseReason: segment.CloseSilence, Audio: make([]int16, 3200)}
	if err := sink.Deliver(context.Background(), turn); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "turn_id=abc") || !strings.Contains(out, "reason=silence") {
		t.Errorf("Unexpected log output: %s", out)
	}
}

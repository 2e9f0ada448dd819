//go:build whisper_cpp

package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	whisperpkg "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/Ocean-Moist/rholive/internal/audio"
)

// maxWhisperSamples caps a snapshot at 30s, the model's receptive window
const maxWhisperSamples = 30 * audio.SampleRate

// Whisper transcribes snapshots with a local whisper.cpp model.
// A new decoding context is created per call; the model itself is reused.
type Whisper struct {
	model    whisperpkg.Model
	language string
	threads  uint
}

// NewWhisper loads the model at cfg.ModelPath
func NewWhisper(cfg WhisperConfig) (*Whisper, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path cannot be empty")
	}

	if cfg.Language == "" {
		cfg.Language = "en"
	}

	if cfg.Threads == 0 {
		cfg.Threads = uint(runtime.NumCPU())
	}

	model, err := whisperpkg.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", cfg.ModelPath, err)
	}

	return &Whisper{
		model:    model,
		language: cfg.Language,
		threads:  cfg.Threads,
	}, nil
}

// Transcribe decodes pcm and joins all non-empty segments.
// ClauseReady is set when at least one segment carried text.
func (w *Whisper) Transcribe(ctx context.Context, pcm []int16) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	startTime := time.Now()

	if len(pcm) > maxWhisperSamples {
		pcm = pcm[len(pcm)-maxWhisperSamples:]
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("create context: %w", err)
	}

	wctx.SetThreads(w.threads)
	if err := wctx.SetLanguage(w.language); err != nil {
		return Result{}, fmt.Errorf("set language %q: %w", w.language, err)
	}
	wctx.SetTranslate(false)
	wctx.SetSplitOnWord(true)
	wctx.SetTokenTimestamps(false)

	if err := wctx.Process(audio.SamplesToFloat32(pcm), nil, nil); err != nil {
		return Result{}, fmt.Errorf("process audio: %w", err)
	}

	var segments []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("read segment: %w", err)
		}

		if text := strings.TrimSpace(seg.Text); text != "" {
			segments = append(segments, text)
		}
	}

	return Result{
		Text:        strings.Join(segments, " "),
		ClauseReady: len(segments) > 0,
		Duration:    time.Since(startTime),
	}, nil
}

// Close releases the model
func (w *Whisper) Close() error {
	if w.model != nil {
		return w.model.Close()
	}
	return nil
}

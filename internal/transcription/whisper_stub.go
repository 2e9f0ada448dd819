//go:build !whisper_cpp

package transcription

import "context"

// Whisper is unavailable without the whisper_cpp build tag
type Whisper struct{}

// NewWhisper always fails with ErrWhisperUnavailable in this build
func NewWhisper(cfg WhisperConfig) (*Whisper, error) {
	return nil, ErrWhisperUnavailable
}

func (w *Whisper) Transcribe(ctx context.Context, pcm []int16) (Result, error) {
	return Result{}, ErrWhisperUnavailable
}

func (w *Whisper) Close() error { return nil }

package transcription

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWhisperUnavailable is returned when the binary was built without whisper.cpp support
var ErrWhisperUnavailable = errors.New("whisper.cpp support not compiled in (build with -tags whisper_cpp)")

// Result is the outcome of transcribing one audio snapshot
type Result struct {
	Text        string        `json:"text"`
	ClauseReady bool          `json:"clause_ready"` // Backend produced usable text for clause analysis
	Duration    time.Duration `json:"duration"`     // Time spent in the backend
}

// Transcriber maps a 16kHz mono PCM snapshot to text.
// Implementations are not required to be safe for concurrent use unless a
// Factory shares one instance between workers, as HTTPFactory does.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []int16) (Result, error)
	Close() error
}

// Factory builds one Transcriber per worker
type Factory func() (Transcriber, error)

// WhisperConfig contains whisper.cpp engine settings
type WhisperConfig struct {
	ModelPath string
	Language  string // "en" when empty
	Threads   uint   // runtime.NumCPU() when zero
}

// WhisperFactory returns a Factory that loads a separate model per worker
func WhisperFactory(cfg WhisperConfig) Factory {
	return func() (Transcriber, error) {
		w, err := NewWhisper(cfg)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

// HTTPFactory returns a Factory handing every worker the same HTTPClient, so
// MaxConcurrent caps requests across the whole pool. The client is closed
// when the last worker releases it; a later call builds a fresh one.
func HTTPFactory(cfg Config) Factory {
	var mu sync.Mutex
	var client *HTTPClient
	refs := 0

	release := func() error {
		mu.Lock()
		defer mu.Unlock()

		refs--
		if refs > 0 {
			return nil
		}
		c := client
		client = nil
		return c.Close()
	}

	return func() (Transcriber, error) {
		mu.Lock()
		defer mu.Unlock()

		if client == nil {
			c, err := NewHTTPClient(cfg)
			if err != nil {
				return nil, err
			}
			client = c
		}
		refs++

		return &sharedClient{HTTPClient: client, release: release}, nil
	}
}

// sharedClient is one worker's handle on a pooled HTTPClient
type sharedClient struct {
	*HTTPClient
	release func() error
	once    sync.Once
}

func (s *sharedClient) Close() error {
	var err error
	s.once.Do(func() {
		err = s.release()
	})
	return err
}

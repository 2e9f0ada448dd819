package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Ocean-Moist/rholive/internal/segment"
	"github.com/Ocean-Moist/rholive/internal/transcription"
)

// Transcription backends
const (
	BackendNone    = "none"
	BackendHTTP    = "http"
	BackendWhisper = "whisper"
)

// Input formats
const (
	FormatPCM = "pcm"
	FormatWAV = "wav"
)

// Config represents the complete service configuration
type Config struct {
	Segmenter     SegmenterConfig     `yaml:"segmenter"`
	VAD           VADConfig           `yaml:"vad"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Workers       WorkersConfig       `yaml:"workers"`
	Input         InputConfig         `yaml:"input"`
	Recorder      RecorderConfig      `yaml:"recorder"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// SegmenterConfig contains turn segmentation parameters
type SegmenterConfig struct {
	OpenVoicedFrames int      `yaml:"open_voiced_frames"` // 20ms sub-frame votes
	CloseSilenceMs   int      `yaml:"close_silence_ms"`
	MaxTurnMs        int      `yaml:"max_turn_ms"`
	MinClauseTokens  int      `yaml:"min_clause_tokens"`
	WhisperPollMs    int      `yaml:"whisper_poll_ms"`
	DrainTimeoutMs   int      `yaml:"drain_timeout_ms"`
	ClosePrecedence  []string `yaml:"close_precedence"`
}

// VADConfig contains Voice Activity Detection configuration
type VADConfig struct {
	EnergyThreshold float64 `yaml:"energy_threshold"`
}

// TranscriptionConfig selects and configures the transcription backend
type TranscriptionConfig struct {
	Backend string `yaml:"backend"` // none, http or whisper

	// whisper.cpp
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	Threads   uint   `yaml:"threads"`

	// Remote API
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// WorkersConfig contains transcription worker pool settings
type WorkersConfig struct {
	Count      int `yaml:"count"`
	QueueSize  int `yaml:"queue_size"`
	JobTimeout int `yaml:"job_timeout"` // seconds
}

// InputConfig describes the audio source
type InputConfig struct {
	Path         string `yaml:"path"`   // "-" reads stdin
	Format       string `yaml:"format"` // pcm or wav; inferred from the extension when empty
	Realtime     bool   `yaml:"realtime"`
	ChunkSamples int    `yaml:"chunk_samples"`
}

// RecorderConfig contains turn recording settings
type RecorderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when a field is absent from the file
func Default() *Config {
	seg := segment.DefaultConfig()

	return &Config{
		Segmenter: SegmenterConfig{
			OpenVoicedFrames: seg.OpenVoicedFrames,
			CloseSilenceMs:   int(seg.CloseSilence.Milliseconds()),
			MaxTurnMs:        int(seg.MaxTurn.Milliseconds()),
			MinClauseTokens:  seg.MinClauseTokens,
			WhisperPollMs:    int(seg.PollInterval.Milliseconds()),
			DrainTimeoutMs:   int(seg.DrainTimeout.Milliseconds()),
		},
		VAD: VADConfig{
			EnergyThreshold: 0.02,
		},
		Transcription: TranscriptionConfig{
			Backend:       BackendNone,
			Language:      "en",
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 4,
		},
		Workers: WorkersConfig{
			Count:      2,
			QueueSize:  1,
			JobTimeout: 30,
		},
		Input: InputConfig{
			Path:         "-",
			ChunkSamples: 1600,
		},
		Recorder: RecorderConfig{
			Dir: "./recordings",
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses the configuration file on top of the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Segmenter.Validate(); err != nil {
		return fmt.Errorf("segmenter config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Workers.Validate(); err != nil {
		return fmt.Errorf("workers config: %w", err)
	}

	if err := c.Input.Validate(); err != nil {
		return fmt.Errorf("input config: %w", err)
	}

	if err := c.Recorder.Validate(); err != nil {
		return fmt.Errorf("recorder config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates segmenter configuration
func (s *SegmenterConfig) Validate() error {
	_, err := s.ToSegmentConfig()
	return err
}

// ToSegmentConfig converts the file representation into a segment.Config
func (s *SegmenterConfig) ToSegmentConfig() (segment.Config, error) {
	precedence := make([]segment.CloseReason, 0, len(s.ClosePrecedence))
	for _, name := range s.ClosePrecedence {
		reason, err := segment.ParseCloseReason(name)
		if err != nil {
			return segment.Config{}, fmt.Errorf("close_precedence: %w", err)
		}
		precedence = append(precedence, reason)
	}

	cfg := segment.Config{
		OpenVoicedFrames: s.OpenVoicedFrames,
		CloseSilence:     s.GetCloseSilenceDuration(),
		MaxTurn:          s.GetMaxTurnDuration(),
		MinClauseTokens:  s.MinClauseTokens,
		PollInterval:     s.GetPollInterval(),
		DrainTimeout:     s.GetDrainTimeout(),
		Precedence:       precedence,
	}

	if err := cfg.Validate(); err != nil {
		return segment.Config{}, err
	}

	return cfg, nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.EnergyThreshold <= 0 || v.EnergyThreshold >= 1 {
		return fmt.Errorf("energy_threshold must be between 0 and 1 (exclusive), got %f", v.EnergyThreshold)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Backend {
	case BackendNone:
		return nil

	case BackendWhisper:
		if t.ModelPath == "" {
			return fmt.Errorf("model_path cannot be empty for the whisper backend")
		}
		return nil

	case BackendHTTP:
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http backend")
		}

		if t.Timeout < 1 {
			return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
		}

		if t.MaxRetries < 0 {
			return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
		}

		if t.MaxConcurrent < 1 {
			return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
		}
		return nil

	default:
		return fmt.Errorf("backend must be one of [none, http, whisper], got '%s'", t.Backend)
	}
}

// Enabled reports whether a transcription backend is configured
func (t *TranscriptionConfig) Enabled() bool {
	return t.Backend != BackendNone
}

// Factory returns the transcriber factory for the configured backend, or
// nil when transcription is disabled
func (t *TranscriptionConfig) Factory() transcription.Factory {
	switch t.Backend {
	case BackendHTTP:
		return transcription.HTTPFactory(transcription.Config{
			Endpoint:      t.Endpoint,
			APIKey:        t.APIKey,
			Model:         t.Model,
			Language:      t.Language,
			Timeout:       t.GetTimeoutDuration(),
			MaxRetries:    t.MaxRetries,
			MaxConcurrent: t.MaxConcurrent,
		})
	case BackendWhisper:
		return transcription.WhisperFactory(transcription.WhisperConfig{
			ModelPath: t.ModelPath,
			Language:  t.Language,
			Threads:   t.Threads,
		})
	default:
		return nil
	}
}

// Validate validates worker pool configuration
func (w *WorkersConfig) Validate() error {
	if w.Count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", w.Count)
	}

	if w.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", w.QueueSize)
	}

	if w.JobTimeout < 1 {
		return fmt.Errorf("job_timeout must be at least 1 second, got %d", w.JobTimeout)
	}

	return nil
}

// Validate validates input configuration
func (i *InputConfig) Validate() error {
	if i.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if i.Format != "" && i.Format != FormatPCM && i.Format != FormatWAV {
		return fmt.Errorf("format must be 'pcm' or 'wav', got '%s'", i.Format)
	}

	if i.ChunkSamples < 1 {
		return fmt.Errorf("chunk_samples must be at least 1, got %d", i.ChunkSamples)
	}

	return nil
}

// ResolvedFormat returns the input format, inferring wav from a .wav suffix
func (i *InputConfig) ResolvedFormat() string {
	if i.Format != "" {
		return i.Format
	}

	if strings.EqualFold(filepath.Ext(i.Path), ".wav") {
		return FormatWAV
	}

	return FormatPCM
}

// Validate validates recorder configuration
func (r *RecorderConfig) Validate() error {
	if r.Enabled && r.Dir == "" {
		return fmt.Errorf("dir cannot be empty when recording is enabled")
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout or stderr is treated as a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetCloseSilenceDuration returns the closing silence as a time.Duration
func (s *SegmenterConfig) GetCloseSilenceDuration() time.Duration {
	return time.Duration(s.CloseSilenceMs) * time.Millisecond
}

// GetMaxTurnDuration returns the maximum turn length as a time.Duration
func (s *SegmenterConfig) GetMaxTurnDuration() time.Duration {
	return time.Duration(s.MaxTurnMs) * time.Millisecond
}

// GetPollInterval returns the transcription poll interval as a time.Duration
func (s *SegmenterConfig) GetPollInterval() time.Duration {
	return time.Duration(s.WhisperPollMs) * time.Millisecond
}

// GetDrainTimeout returns the shutdown drain timeout as a time.Duration
func (s *SegmenterConfig) GetDrainTimeout() time.Duration {
	return time.Duration(s.DrainTimeoutMs) * time.Millisecond
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetJobTimeoutDuration returns the per-job timeout as a time.Duration
func (w *WorkersConfig) GetJobTimeoutDuration() time.Duration {
	return time.Duration(w.JobTimeout) * time.Second
}

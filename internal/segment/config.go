package segment

import (
	"fmt"
	"time"

	"github.com/Ocean-Moist/rholive/internal/audio"
)

// CloseReason explains why a segment was closed
type CloseReason int

const (
	CloseSilence CloseReason = iota + 1
	CloseMaxDuration
	CloseClauseBoundary
	// CloseEndOfStream is used by Flush when input ends mid-segment
	CloseEndOfStream
)

var closeReasonNames = map[CloseReason]string{
	CloseSilence:        "silence",
	CloseMaxDuration:    "max_duration",
	CloseClauseBoundary: "clause_boundary",
	CloseEndOfStream:    "end_of_stream",
}

func (r CloseReason) String() string {
	if name, ok := closeReasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(r))
}

// MarshalText encodes the reason by name
func (r CloseReason) MarshalText() ([]byte, error) {
	if _, ok := closeReasonNames[r]; !ok {
		return nil, fmt.Errorf("unknown close reason %d", int(r))
	}
	return []byte(r.String()), nil
}

// ParseCloseReason parses a reason name as produced by String
func ParseCloseReason(name string) (CloseReason, error) {
	for reason, n := range closeReasonNames {
		if n == name {
			return reason, nil
		}
	}
	return 0, fmt.Errorf("unknown close reason %q", name)
}

// DefaultPrecedence resolves simultaneous close conditions: the hard
// resource ceiling first, then a clause boundary, then silence.
func DefaultPrecedence() []CloseReason {
	return []CloseReason{CloseMaxDuration, CloseClauseBoundary, CloseSilence}
}

// Config holds session-scoped segmenter tuning. The segmenter keeps its own
// copy, so later changes to a Config value have no effect.
type Config struct {
	OpenVoicedFrames int           // Consecutive voiced 20ms sub-frame votes needed to open
	CloseSilence     time.Duration // Consecutive unvoiced audio that closes a segment
	MaxTurn          time.Duration // Hard ceiling on captured audio
	MinClauseTokens  int           // Token count at which any transcript counts as a clause
	PollInterval     time.Duration // Minimum spacing between transcription submissions
	DrainTimeout     time.Duration // Bounded wait for workers on Close
	Precedence       []CloseReason // Order in which simultaneous close conditions win
}

// DefaultConfig returns the default segmenter configuration
func DefaultConfig() Config {
	return Config{
		OpenVoicedFrames: 4,
		CloseSilence:     300 * time.Millisecond,
		MaxTurn:          5000 * time.Millisecond,
		MinClauseTokens:  8,
		PollInterval:     300 * time.Millisecond,
		DrainTimeout:     2 * time.Second,
		Precedence:       DefaultPrecedence(),
	}
}

// Validate validates the segmenter configuration
func (c Config) Validate() error {
	if c.OpenVoicedFrames <= 0 {
		return fmt.Errorf("open_voiced_frames must be positive, got %d", c.OpenVoicedFrames)
	}

	if c.CloseSilence <= 0 {
		return fmt.Errorf("close_silence must be positive, got %v", c.CloseSilence)
	}

	if c.MaxTurn < audio.FrameDuration {
		return fmt.Errorf("max_turn must be at least one frame (%v), got %v", audio.FrameDuration, c.MaxTurn)
	}

	if c.MinClauseTokens <= 0 {
		return fmt.Errorf("min_clause_tokens must be positive, got %d", c.MinClauseTokens)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval)
	}

	if c.DrainTimeout < 0 {
		return fmt.Errorf("drain_timeout cannot be negative, got %v", c.DrainTimeout)
	}

	if len(c.Precedence) > 0 {
		if err := validatePrecedence(c.Precedence); err != nil {
			return err
		}
	}

	return nil
}

// validatePrecedence requires an ordering of exactly the three capture close reasons
func validatePrecedence(order []CloseReason) error {
	required := DefaultPrecedence()
	if len(order) != len(required) {
		return fmt.Errorf("precedence must list %d reasons, got %d", len(required), len(order))
	}

	seen := make(map[CloseReason]bool, len(order))
	for _, r := range order {
		switch r {
		case CloseMaxDuration, CloseClauseBoundary, CloseSilence:
		default:
			return fmt.Errorf("precedence cannot contain %s", r)
		}
		if seen[r] {
			return fmt.Errorf("precedence lists %s twice", r)
		}
		seen[r] = true
	}

	return nil
}

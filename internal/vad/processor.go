package vad

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Processor classifies 100ms frames by majority vote over 20ms sub-frames
type Processor struct {
	classifier   Classifier
	subFrameSize int
	logger       *slog.Logger

	// Statistics
	totalFrames   uint64
	voicedFrames  uint64
	failedFrames  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result represents the voice decision for one frame
type Result struct {
	HasVoice       bool          `json:"has_voice"`       // Majority of sub-frames voiced
	Votes          []bool        `json:"votes"`           // Per sub-frame decision, in order
	VoicedVotes    int           `json:"voiced_votes"`    // Number of voiced sub-frames
	Failed         bool          `json:"failed"`          // Classifier failed; frame forced unvoiced
	ProcessingTime time.Duration `json:"processing_time"` // Time taken to classify the frame
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalFrames     uint64    `json:"total_frames"`
	VoicedFrames    uint64    `json:"voiced_frames"`
	FailedFrames    uint64    `json:"failed_frames"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
}

// NewProcessor creates a VAD processor splitting frames into subFrameSize windows
func NewProcessor(classifier Classifier, subFrameSize int, logger *slog.Logger) (*Processor, error) {
	if classifier == nil {
		return nil, fmt.Errorf("classifier cannot be nil")
	}

	if subFrameSize <= 0 {
		return nil, fmt.Errorf("sub-frame size must be positive, got %d", subFrameSize)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		classifier:   classifier,
		subFrameSize: subFrameSize,
		logger:       logger,
	}, nil
}

// Process classifies one frame. A classifier error on any sub-frame makes the
// whole frame unvoiced so that faults can never open a segment.
func (p *Processor) Process(frame []int16) Result {
	startTime := time.Now()

	n := len(frame) / p.subFrameSize
	result := Result{Votes: make([]bool, n)}

	for i := 0; i < n; i++ {
		window := frame[i*p.subFrameSize : (i+1)*p.subFrameSize]
		voiced, err := p.classifier.Classify(window)
		if err != nil {
			p.logger.Warn("VAD classification failed, treating frame as unvoiced",
				slog.Int("sub_frame", i),
				slog.String("error", err.Error()),
			)
			result = Result{Votes: make([]bool, n), Failed: true}
			break
		}

		result.Votes[i] = voiced
		if voiced {
			result.VoicedVotes++
		}
	}

	result.HasVoice = !result.Failed && n > 0 && result.VoicedVotes*2 > n
	result.ProcessingTime = time.Since(startTime)

	p.mu.Lock()
	p.totalFrames++
	if result.HasVoice {
		p.voicedFrames++
	}
	if result.Failed {
		p.failedFrames++
	}
	p.lastProcessed = time.Now()
	p.mu.Unlock()

	return result
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalFrames > 0 {
		voicePercentage = float64(p.voicedFrames) / float64(p.totalFrames) * 100
	}

	return ProcessorStats{
		TotalFrames:     p.totalFrames,
		VoicedFrames:    p.voicedFrames,
		FailedFrames:    p.failedFrames,
		VoicePercentage: voicePercentage,
		LastProcessed:   p.lastProcessed,
	}
}

// GetSubFrameSize returns the sub-frame size in samples
func (p *Processor) GetSubFrameSize() int {
	return p.subFrameSize
}

// Reset resets processor statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalFrames = 0
	p.voicedFrames = 0
	p.failedFrames = 0
	p.lastProcessed = time.Time{}
}

package vad

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
)

const (
	testSubFrame = 320
	testFrame    = 1600
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// patternFrame builds a frame whose sub-frames carry a marker value: non-zero for voiced
func patternFrame(votes ...bool) []int16 {
	frame := make([]int16, testSubFrame*len(votes))
	for i, v := range votes {
		if !v {
			continue
		}
		for j := 0; j < testSubFrame; j++ {
			frame[i*testSubFrame+j] = 1
		}
	}
	return frame
}

var markerClassifier = ClassifierFunc(func(samples []int16) (bool, error) {
	return samples[0] != 0, nil
})

func TestNewProcessorValidation(t *testing.T) {
	tests := []struct {
		name       string
		classifier Classifier
		subFrame   int
		expectErr  bool
	}{
		{name: "valid parameters", classifier: markerClassifier, subFrame: testSubFrame},
		{name: "nil classifier", classifier: nil, subFrame: testSubFrame, expectErr: true},
		{name: "zero sub-frame size", classifier: markerClassifier, subFrame: 0, expectErr: true},
		{name: "negative sub-frame size", classifier: markerClassifier, subFrame: -1, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessor(tt.classifier, tt.subFrame, testLogger())
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestProcessMajorityVote(t *testing.T) {
	tests := []struct {
		name        string
		votes       []bool
		expectVoice bool
		expectCount int
	}{
		{name: "all unvoiced", votes: []bool{false, false, false, false, false}, expectVoice: false, expectCount: 0},
		{name: "two of five", votes: []bool{true, false, true, false, false}, expectVoice: false, expectCount: 2},
		{name: "three of five", votes: []bool{false, true, true, false, true}, expectVoice: true, expectCount: 3},
		{name: "all voiced", votes: []bool{true, true, true, true, true}, expectVoice: true, expectCount: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProcessor(markerClassifier, testSubFrame, testLogger())
			if err != nil {
				t.Fatalf("Failed to create processor: %v", err)
			}

			result := p.Process(patternFrame(tt.votes...))

			if result.HasVoice != tt.expectVoice {
				t.Errorf("Expected HasVoice=%v, got %v", tt.expectVoice, result.HasVoice)
			}
			if result.VoicedVotes != tt.expectCount {
				t.Errorf("Expected %d voiced votes, got %d", tt.expectCount, result.VoicedVotes)
			}
			if len(result.Votes) != len(tt.votes) {
				t.Fatalf("Expected %d votes, got %d", len(tt.votes), len(result.Votes))
			}
			for i := range tt.votes {
				if result.Votes[i] != tt.votes[i] {
					t.Errorf("Vote %d: expected %v, got %v", i, tt.votes[i], result.Votes[i])
				}
			}
		})
	}
}

func TestProcessFailsClosed(t *testing.T) {
	calls := 0
	failing := ClassifierFunc(func(samples []int16) (bool, error) {
		calls++
		if calls == 4 {
			return false, errors.New("classifier exploded")
		}
		return true, nil
	})

	p, err := NewProcessor(failing, testSubFrame, testLogger())
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	result := p.Process(patternFrame(true, true, true, true, true))

	if result.HasVoice {
		t.Error("Frame with a classifier failure must be unvoiced")
	}
	if !result.Failed {
		t.Error("Expected Failed to be set")
	}
	if result.VoicedVotes != 0 {
		t.Errorf("Expected all votes cleared, got %d voiced", result.VoicedVotes)
	}
	for i, v := range result.Votes {
		if v {
			t.Errorf("Vote %d should be false after failure", i)
		}
	}

	stats := p.GetStats()
	if stats.FailedFrames != 1 {
		t.Errorf("Expected 1 failed frame, got %d", stats.FailedFrames)
	}
	if stats.VoicedFrames != 0 {
		t.Errorf("Expected 0 voiced frames, got %d", stats.VoicedFrames)
	}
}

func TestProcessIgnoresPartialSubFrame(t *testing.T) {
	p, _ := NewProcessor(markerClassifier, testSubFrame, testLogger())

	frame := append(patternFrame(true, true, true), 1, 1, 1)
	result := p.Process(frame)

	if len(result.Votes) != 3 {
		t.Errorf("Expected 3 votes, got %d", len(result.Votes))
	}
	if !result.HasVoice {
		t.Error("Expected voiced frame")
	}
}

func TestProcessorStats(t *testing.T) {
	p, _ := NewProcessor(markerClassifier, testSubFrame, testLogger())

	p.Process(patternFrame(true, true, true, true, true))
	p.Process(patternFrame(false, false, false, false, false))
	p.Process(patternFrame(true, true, true, false, false))
	p.Process(patternFrame(false, false, false, false, false))

	stats := p.GetStats()
	if stats.TotalFrames != 4 {
		t.Errorf("Expected 4 frames, got %d", stats.TotalFrames)
	}
	if stats.VoicedFrames != 2 {
		t.Errorf("Expected 2 voiced frames, got %d", stats.VoicedFrames)
	}
	if stats.VoicePercentage != 50 {
		t.Errorf("Expected 50%% voice, got %f", stats.VoicePercentage)
	}

	p.Reset()
	if p.GetStats().TotalFrames != 0 {
		t.Error("Expected stats to be cleared after reset")
	}
}

func TestEnergyClassifier(t *testing.T) {
	c, err := NewEnergyClassifier(DefaultEnergyThreshold, testSubFrame)
	if err != nil {
		t.Fatalf("Failed to create classifier: %v", err)
	}

	silence := make([]int16, testSubFrame)
	voiced, err := c.Classify(silence)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if voiced {
		t.Error("Silence should not be voiced")
	}

	tone := make([]int16, testSubFrame)
	for i := range tone {
		tone[i] = int16(0.3 * 32767 * math.Sin(2*math.Pi*300*float64(i)/16000))
	}
	voiced, err = c.Classify(tone)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if !voiced {
		t.Error("Loud tone should be voiced")
	}

	if _, err := c.Classify(tone[:100]); err == nil {
		t.Error("Expected error for wrong window length")
	}
}

func TestEnergyClassifierValidation(t *testing.T) {
	if _, err := NewEnergyClassifier(0, testSubFrame); err == nil {
		t.Error("Expected error for zero threshold")
	}
	if _, err := NewEnergyClassifier(1.5, testSubFrame); err == nil {
		t.Error("Expected error for threshold above 1")
	}
	if _, err := NewEnergyClassifier(0.1, 0); err == nil {
		t.Error("Expected error for zero window size")
	}
}

func TestEnergyClassifierFailsClosedThroughProcessor(t *testing.T) {
	// Classifier expects 160-sample windows, processor hands it 320: every call errors
	c, _ := NewEnergyClassifier(DefaultEnergyThreshold, 160)
	p, _ := NewProcessor(c, testSubFrame, testLogger())

	loud := make([]int16, testFrame)
	for i := range loud {
		loud[i] = 20000
	}

	result := p.Process(loud)
	if result.HasVoice || !result.Failed {
		t.Errorf("Expected failed unvoiced frame, got HasVoice=%v Failed=%v", result.HasVoice, result.Failed)
	}
}

func TestRMS(t *testing.T) {
	if RMS(nil) != 0 {
		t.Error("RMS of empty slice should be 0")
	}

	constant := []int16{16384, -16384, 16384, -16384}
	if got := RMS(constant); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Expected RMS 0.5, got %f", got)
	}
}

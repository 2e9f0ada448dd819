package vad

import (
	"fmt"
	"math"
)

const (
	// pcmMaxAmplitude is the maximum amplitude for 16-bit signed audio.
	pcmMaxAmplitude = 32768.0
	// DefaultEnergyThreshold is the normalised RMS above which a sub-frame counts as voiced.
	DefaultEnergyThreshold = 0.02
)

// Classifier makes a voiced/unvoiced decision for one short window of audio.
// Implementations must be stateless: the same samples always yield the same answer.
type Classifier interface {
	Classify(samples []int16) (bool, error)
}

// ClassifierFunc adapts an ordinary function to the Classifier interface
type ClassifierFunc func(samples []int16) (bool, error)

// Classify calls f(samples)
func (f ClassifierFunc) Classify(samples []int16) (bool, error) {
	return f(samples)
}

// EnergyClassifier is an RMS-based classifier. It needs no model and is the
// default when no external classifier is configured.
type EnergyClassifier struct {
	threshold  float64
	windowSize int
}

// NewEnergyClassifier creates an energy classifier for windows of windowSize samples
func NewEnergyClassifier(threshold float64, windowSize int) (*EnergyClassifier, error) {
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1 (exclusive), got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	return &EnergyClassifier{
		threshold:  threshold,
		windowSize: windowSize,
	}, nil
}

// Classify reports whether the window's RMS energy reaches the threshold
func (c *EnergyClassifier) Classify(samples []int16) (bool, error) {
	if len(samples) != c.windowSize {
		return false, fmt.Errorf("expected %d samples, got %d", c.windowSize, len(samples))
	}

	return RMS(samples) >= c.threshold, nil
}

// Threshold returns the configured RMS threshold
func (c *EnergyClassifier) Threshold() float64 {
	return c.threshold
}

// RMS computes the root mean square of samples normalised to [-1, 1)
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sumSquares float64
	for _, s := range samples {
		normalized := float64(s) / pcmMaxAmplitude
		sumSquares += normalized * normalized
	}

	return math.Sqrt(sumSquares / float64(len(samples)))
}

package audio

import "time"

// Stream format constants. The segmenter only accepts mono 16-bit PCM at 16kHz.
const (
	SampleRate       = 16000
	FrameSamples     = 1600 // 100ms at 16kHz
	SubFrameSamples  = 320  // 20ms at 16kHz
	FrameDuration    = 100 * time.Millisecond
	SubFrameDuration = 20 * time.Millisecond
	BytesPerSample   = 2
)

// Frame is a fixed-size chunk of audio in arrival order
type Frame struct {
	Seq     uint64  // Arrival sequence, starting at 0
	Samples []int16 // Exactly the chunkizer's frame size
}

// ChunkizerStats represents chunkizer statistics
type ChunkizerStats struct {
	SamplesIn      uint64 `json:"samples_in"`
	FramesOut      uint64 `json:"frames_out"`
	PendingSamples int    `json:"pending_samples"`
}

// Chunkizer reshapes an arbitrary-length sample stream into fixed frames.
// Leftover samples are retained until a frame fills. Frames are produced
// lazily by Next, so a caller can stop pulling and resume later without
// losing data. Not safe for concurrent use.
type Chunkizer struct {
	frameSize int
	pending   []int16
	off       int // Start of unread samples in pending
	nextSeq   uint64
	samplesIn uint64
}

// NewChunkizer creates a chunkizer producing frames of frameSize samples.
// A non-positive size falls back to FrameSamples.
func NewChunkizer(frameSize int) *Chunkizer {
	if frameSize <= 0 {
		frameSize = FrameSamples
	}
	return &Chunkizer{
		frameSize: frameSize,
		pending:   make([]int16, 0, frameSize*2),
	}
}

// Write appends samples to the pending buffer
func (c *Chunkizer) Write(samples []int16) {
	if len(samples) == 0 {
		return
	}
	c.compact()
	c.pending = append(c.pending, samples...)
	c.samplesIn += uint64(len(samples))
}

// Next returns the next complete frame, or false if fewer than a frame's
// worth of samples is buffered.
func (c *Chunkizer) Next() (Frame, bool) {
	if c.Pending() < c.frameSize {
		return Frame{}, false
	}

	samples := make([]int16, c.frameSize)
	copy(samples, c.pending[c.off:c.off+c.frameSize])
	c.off += c.frameSize

	if c.off == len(c.pending) {
		c.pending = c.pending[:0]
		c.off = 0
	}

	frame := Frame{Seq: c.nextSeq, Samples: samples}
	c.nextSeq++
	return frame, true
}

// Pending returns the number of buffered samples not yet emitted as a frame
func (c *Chunkizer) Pending() int {
	return len(c.pending) - c.off
}

// compact moves unread samples to the front once the consumed prefix
// outgrows them, keeping Next constant time per frame.
func (c *Chunkizer) compact() {
	if c.off == 0 || c.off < len(c.pending)/2 {
		return
	}
	n := copy(c.pending, c.pending[c.off:])
	c.pending = c.pending[:n]
	c.off = 0
}

// FrameSize returns the configured frame size in samples
func (c *Chunkizer) FrameSize() int {
	return c.frameSize
}

// Reset drops any buffered samples. Sequence numbering continues.
func (c *Chunkizer) Reset() {
	c.pending = c.pending[:0]
	c.off = 0
}

// GetStats returns current chunkizer statistics
func (c *Chunkizer) GetStats() ChunkizerStats {
	return ChunkizerStats{
		SamplesIn:      c.samplesIn,
		FramesOut:      c.nextSeq,
		PendingSamples: c.Pending(),
	}
}

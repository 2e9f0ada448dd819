package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/Ocean-Moist/rholive/internal/audio"
)

// Source yields mono 16kHz PCM-16 samples. ReadSamples behaves like
// io.Reader.Read: it may return n > 0 together with io.EOF.
type Source interface {
	ReadSamples(buf []int16) (int, error)
}

// pcmSource decodes raw little-endian PCM-16 from a byte stream
type pcmSource struct {
	r   *bufio.Reader
	raw []byte
}

// NewPCMSource reads headerless PCM16LE from r. A trailing odd byte is dropped.
func NewPCMSource(r io.Reader) Source {
	return &pcmSource{r: bufio.NewReader(r)}
}

func (s *pcmSource) ReadSamples(buf []int16) (int, error) {
	need := len(buf) * audio.BytesPerSample
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]

	n, err := io.ReadFull(s.r, raw)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}

	n -= n % audio.BytesPerSample
	samples, convErr := audio.BytesToSamples(raw[:n])
	if convErr != nil {
		return 0, convErr
	}

	return copy(buf, samples), err
}

// sliceSource replays samples already held in memory
type sliceSource struct {
	samples []int16
	pos     int
}

// NewSliceSource replays samples
func NewSliceSource(samples []int16) Source {
	return &sliceSource{samples: samples}
}

func (s *sliceSource) ReadSamples(buf []int16) (int, error) {
	if s.pos >= len(s.samples) {
		return 0, io.EOF
	}

	n := copy(buf, s.samples[s.pos:])
	s.pos += n
	if s.pos >= len(s.samples) {
		return n, io.EOF
	}
	return n, nil
}

// NewWAVSource decodes a mono 16-bit WAV stream. Only 16kHz audio is accepted.
func NewWAVSource(r io.ReadSeeker) (Source, error) {
	samples, rate, err := audio.ReadWAV(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode WAV input: %w", err)
	}

	if rate != audio.SampleRate {
		return nil, fmt.Errorf("unsupported sample rate: %d (expected %d)", rate, audio.SampleRate)
	}

	return NewSliceSource(samples), nil
}

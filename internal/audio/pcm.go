package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// BytesToSamples converts little-endian PCM16 bytes into samples
func BytesToSamples(data []byte) ([]int16, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("audio data length must be even (got %d bytes)", len(data))
	}

	samples := make([]int16, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
	}
	return samples, nil
}

// SamplesToBytes converts samples into little-endian PCM16 bytes
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*BytesPerSample:], uint16(s))
	}
	return data
}

// SamplesToFloat32 normalises samples to the [-1, 1) range expected by whisper
func SamplesToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// SamplesDuration returns the playback duration of n samples at SampleRate
func SamplesDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

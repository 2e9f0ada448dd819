// Package audio handles PCM framing and format conversion.
// It reshapes arbitrary-length sample streams into fixed 100ms frames,
// converts between PCM16 bytes and samples, and reads/writes WAV files.
package audio

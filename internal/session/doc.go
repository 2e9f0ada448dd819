// Package session drives a segmenter from an audio source. It reads raw PCM
// or WAV input, optionally paced to real time, and fans emitted turns out
// to sinks such as the log, a JSON stream or the turn recorder.
package session

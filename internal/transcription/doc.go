// Package transcription adapts speech-to-text backends to the Transcriber
// interface consumed by the worker pool.
//
// Two backends are provided: HTTPClient posts PCM snapshots to a remote
// Whisper-compatible API with retries, backoff and a concurrency limit, and
// Whisper runs a local whisper.cpp model (built with the whisper_cpp tag).
package transcription

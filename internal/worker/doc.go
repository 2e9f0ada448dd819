// Package worker runs transcription jobs on a fixed set of goroutines, each
// owning its own Transcriber. Submission and result polling never block the
// caller; results carry the generation of the job that produced them.
package worker

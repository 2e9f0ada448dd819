// Package recorder persists emitted turns for offline inspection: one
// directory per turn holding the captured audio as WAV and its metadata as JSON.
package recorder

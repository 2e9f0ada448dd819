// Package server implements the HTTP monitoring API: health, statistics,
// effective configuration and Prometheus metrics for a running segmenter.
package server

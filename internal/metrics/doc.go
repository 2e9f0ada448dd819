// Package metrics defines the Prometheus collectors exported by the segmenter.
package metrics

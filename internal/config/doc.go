// Package config provides configuration loading and validation for the turn segmenter.
// Settings are read from a YAML file on top of built-in defaults, validated per
// section, and converted into the segmenter and transcription types.
package config

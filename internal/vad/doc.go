// Package vad provides frame-level Voice Activity Detection.
// A 100ms frame is split into 20ms sub-frames, each classified by a pluggable
// binary classifier, and the frame is voiced when a majority of sub-frames are.
// Classifier failures fail closed: the frame is reported as unvoiced.
package vad

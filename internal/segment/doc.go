// Package segment implements the turn segmenter: a wall-clock driven state
// machine that opens a segment on sustained voice, keeps a rolling buffer,
// periodically hands snapshots to a transcription pool, and closes the
// segment on silence, a clause boundary, or the maximum turn length.
//
// The segmenter is single-threaded. PushChunk and PushFrame never block;
// transcription results are drained once at the start of every frame and
// applied only when their generation matches the open segment.
package segment

// Package clause decides whether a partial transcript forms a complete,
// semantically closed unit of speech. The check is a cheap deterministic
// approximation over the text and has no dependency on timing or state.
package clause

// Package rate is a Redis fixed-window request counter keyed by client.
//
// # Window semantics
//
// INCR plus EXPIRE on the first hit of a window. Keys are "rl:" followed by
// the caller's key, usually the client address. The remaining TTL of the
// key is the retry hint once the window is full.
package rate

// Package limiters holds the counters that throttle login and code-delivery
// traffic.
//
//   - [AttemptTracker] counts failed logins per identity key and raises a
//     timed lock once the threshold is reached.
//   - [ResendThrottle] spaces out one-time-code deliveries and caps them per
//     window.
//
// Each has a Redis implementation (atomic, shared across processes), a memory
// implementation (one process only, lost on restart) and a fallback wrapper
// that prefers Redis and degrades to memory when Redis is unreachable.
//
// Limiters count. Callers decide what a lock or a throttle means.
package limiters

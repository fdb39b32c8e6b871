package rate

import "errors"

// ErrRedisUnavailable wraps any Redis failure. Callers decide whether to
// fail open.
var ErrRedisUnavailable = errors.New("redis unavailable")

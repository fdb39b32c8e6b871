// Package flows contains the pure orchestrators behind the multi-step Engine
// operations: the login state machine and password reset.
//
// Each Run function takes a dependency struct of functions and host sentinel
// errors and performs no I/O of its own. The Engine builds the deps once and
// keeps ownership of stores, trackers and the token issuer.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import tenantauth (to avoid import cycles).
package flows

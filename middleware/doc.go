// Package middleware adapts Engine.Authenticate to net/http.
//
// [RequireUser] reads the bearer token, loads the user and attaches it, with
// its tenant, to the request context. Authentication decisions stay in the
// engine; this package only translates HTTP.
package middleware

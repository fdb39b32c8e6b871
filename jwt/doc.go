// Package jwt signs and verifies the HS256 tokens handed to clients: access,
// refresh and short-lived step tokens. Verification is stateless; there is no
// revocation list, so a token stays valid until it expires.
package jwt

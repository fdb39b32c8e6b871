// Package audit records security-relevant events (logins, lockouts, code
// deliveries, factor and password changes) and hands them to a sink off the
// request path. Events never carry passwords, codes or token strings.
package audit

// Package prometheus renders tenantauth metrics in the Prometheus text
// exposition format.
//
// Counter names are tenantauth_*_total; the single histogram is
// tenantauth_login_latency_seconds. Nothing is registered globally; callers
// mount Handler where they want it.
package prometheus

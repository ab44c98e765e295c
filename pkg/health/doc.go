// Package health implements lightweight reachability probes: an HTTP
// GET against a URL or a bare TCP dial, each returning a Result rather
// than an error so a caller can log or gate on the outcome without
// unwrapping anything. pkg/logstream uses an HTTPChecker as a
// preflight before persisting a new webhook sink, and cmd/relayd's
// readiness endpoint runs a TCPChecker against the configured client API
// listener.
package health

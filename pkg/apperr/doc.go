/*
Package apperr defines the error kinds surfaced to clients across every
engine: BadRequest, NotFound, Unauthenticated, Forbidden, Conflict,
RateLimited, QuotaExceeded, Timeout, BackendUnavailable, DeveloperError,
and System. Every engine wraps its internal errors with one of these
codes via fmt.Errorf's %w, the same composition idiom used throughout
pkg/storage and pkg/manager, so callers can still
errors.Is/errors.As through to the underlying cause while the façade can
classify the outer code without parsing strings.
*/
package apperr

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/types"
)

// errorPayload redacts err (per apperr.Redact) and renders it as the
// wire ErrorPayload shape, carrying a DeveloperError's thrown value
// through in the internal JSON encoding.
func errorPayload(err error) *ErrorPayload {
	redacted := apperr.Redact(err)
	code := apperr.CodeOf(redacted)
	ep := &ErrorPayload{Code: string(code), Message: redacted.Error()}

	var ae *apperr.Error
	if errors.As(redacted, &ae) && ae.Payload != nil {
		if raw, err := types.EncodeInternal(*ae.Payload); err == nil {
			ep.Payload = raw
		}
	}
	return ep
}

// httpStatus maps an apperr.Code to the HTTP status the REST surface
// reports it as.
func httpStatus(code apperr.Code) int {
	switch code {
	case apperr.BadRequest, apperr.DeveloperError:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Unauthenticated:
		return http.StatusUnauthorized
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.RateLimited, apperr.QuotaExceeded:
		return http.StatusTooManyRequests
	case apperr.Timeout:
		return http.StatusGatewayTimeout
	case apperr.BackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	ep := errorPayload(err)
	writeJSON(w, httpStatus(apperr.CodeOf(err)), map[string]any{"error": ep})
}

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/hyodotdev/locanara/internal/router"
	"github.com/hyodotdev/locanara/pkg/types"
)

// statusForErr maps router error kinds to HTTP status codes.
func statusForErr(err error) (int, string) {
	kind := router.KindOf(err)
	switch kind {
	case router.KindNotInitialized, router.KindEngineNotAvailable:
		return http.StatusServiceUnavailable, string(kind)
	case router.KindDeviceNotSupported:
		return http.StatusNotImplemented, string(kind)
	case router.KindModelNotDownloaded:
		return http.StatusNotFound, string(kind)
	case router.KindModelNotLoaded:
		return http.StatusConflict, string(kind)
	case router.KindFeatureNotAvailable, router.KindFeatureNotSupported:
		return http.StatusUnprocessableEntity, string(kind)
	case router.KindInsufficientMemory:
		return http.StatusTooManyRequests, string(kind)
	case router.KindExecutionTimeout:
		return http.StatusGatewayTimeout, string(kind)
	case router.KindExecutionCancelled:
		// nginx convention for client-abandoned work
		return 499, string(kind)
	default:
		return http.StatusInternalServerError, string(kind)
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeKindError(w, status, "", msg)
}

func writeKindError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Kind: kind, Code: status})
}

// writeRouterError maps err through the error taxonomy and writes it.
func writeRouterError(w http.ResponseWriter, err error) {
	status, kind := statusForErr(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure(kind)
	}
	writeKindError(w, status, kind, err.Error())
}

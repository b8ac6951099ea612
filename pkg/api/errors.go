package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/matzehuels/luam/pkg/errors"
)

// statusClientClosed is the de facto status for a request abandoned by the
// client.
const statusClientClosed = 499

var statusByCode = map[errors.Code]int{
	errors.ErrCodeRequestMalformed:        http.StatusBadRequest,
	errors.ErrCodeMalformedRange:          http.StatusBadRequest,
	errors.ErrCodePackageNotFound:         http.StatusNotFound,
	errors.ErrCodeVersionNotFound:         http.StatusNotFound,
	errors.ErrCodeUnsatisfiableDependency: http.StatusNotFound,
	errors.ErrCodeCyclicDependency:        http.StatusConflict,
	errors.ErrCodeStorageUnavailable:      http.StatusServiceUnavailable,
	errors.ErrCodeTimeout:                 http.StatusGatewayTimeout,
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	if status, ok := statusByCode[errors.GetCode(err)]; ok {
		return status
	}
	if stderrors.Is(err, context.Canceled) {
		return statusClientClosed
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code      errors.Code `json:"code"`
	Message   string      `json:"message"`
	Path      []string    `json:"path,omitempty"`       // cycle, for CYCLIC_DEPENDENCY
	RequestID string      `json:"request_id,omitempty"` // echoes X-Request-ID
}

func writeError(w http.ResponseWriter, r *http.Request, err error, status int) {
	resp := ErrorResponse{
		Code:      errors.GetCode(err),
		Message:   errors.UserMessage(err),
		RequestID: requestIDFrom(r.Context()),
	}
	if resp.Code == "" || status == http.StatusInternalServerError {
		resp.Code = errors.ErrCodeInternal
		resp.Message = "internal error"
	}
	var cycle *errors.CycleError
	if stderrors.As(err, &cycle) {
		resp.Path = cycle.Path
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

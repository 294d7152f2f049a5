package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"invoiceflow/internal/core"
	"invoiceflow/internal/log"
)

// errorBody is the shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// requestError is a malformed request that never reached the domain.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{status: http.StatusBadRequest, msg: msg}
}

func unprocessable(msg string) error {
	return &requestError{status: http.StatusUnprocessableEntity, msg: msg}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status
	case errors.Is(err, core.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNotAMember),
		errors.Is(err, core.ErrNotOwner),
		errors.Is(err, core.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, core.ErrAlreadyMember),
		errors.Is(err, core.ErrAmbiguousEmail),
		errors.Is(err, core.ErrTransactionConflict),
		errors.Is(err, core.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the text safe to show the caller.
func messageFor(err error) string {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return reqErr.msg
	}
	return core.Message(err)
}

// writeError writes err as JSON. Unexpected errors are logged and replaced
// by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	ctx := r.Context()
	if status == http.StatusInternalServerError {
		log.LogError(ctx, "Request failed", err, op, log.NewFields())
	} else {
		log.FromContext(ctx).DebugContext(ctx, "Request rejected",
			log.NewFields().WithOperation(op).WithError(err).ToSlice()...)
	}
	writeMessage(w, status, messageFor(err))
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

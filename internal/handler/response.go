package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"civic-shield/internal/schema"
	"civic-shield/internal/service"
	"civic-shield/internal/util"
)

const maxBodyBytes = 1 << 20

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

var errInternal = errors.New("internal server error")

// responder holds the JSON helpers shared by every handler.
type responder struct {
	logger *zap.Logger
}

func (h responder) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h responder) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", statusCode),
			util.String("message", message),
		)
	} else {
		h.logger.Warn("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", statusCode),
			util.String("message", message),
		)
	}

	resp := errorResponse(err, message)
	if statusCode == http.StatusInternalServerError && !errors.Is(err, schema.ErrSchema) {
		resp.Error = errInternal.Error()
	}
	var pinErr *service.InvalidPINError
	if errors.As(err, &pinErr) {
		resp.Data = map[string]int{"attempts_left": pinErr.Remaining}
	}
	h.respondWithJSON(w, statusCode, resp)
}

// fail maps err onto its status code and writes it.
func (h responder) fail(w http.ResponseWriter, err error, message string) {
	h.respondWithError(w, getStatusCode(err), err, message)
}

// decode reads a JSON body of at most maxBodyBytes into v.
func (h responder) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.fail(w, fmt.Errorf("%w: %w", service.ErrInvalidInput, err), "Invalid request body")
		return false
	}
	return true
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrConfirmNeeded),
		errors.Is(err, schema.ErrMissingRequired),
		errors.Is(err, schema.ErrNoWritableFields),
		errors.Is(err, schema.ErrForeignKey),
		errors.Is(err, schema.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrVoterNotFound),
		errors.Is(err, service.ErrNotFound),
		errors.Is(err, schema.ErrRowNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrOTPExpired):
		return http.StatusGone
	case errors.Is(err, service.ErrOTPLocked), errors.Is(err, service.ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, service.ErrOTPCooldown), errors.Is(err, service.ErrOTPLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrOTPSessionExpired),
		errors.Is(err, service.ErrOTPMismatch),
		errors.Is(err, service.ErrInvalidPIN),
		errors.Is(err, service.ErrInvalidLogin),
		errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrAdminDisabled):
		return http.StatusForbidden
	case errors.Is(err, service.ErrAlreadyVoted),
		errors.Is(err, service.ErrVoteInProgress),
		errors.Is(err, schema.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, service.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrLedgerRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

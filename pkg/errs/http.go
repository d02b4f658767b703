package errs

import (
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// ErrResponse is the error envelope understood by BigQuery remote functions.
type ErrResponse struct {
	ErrorMessage string `json:"errorMessage"`
}

// HTTPErrorResponse takes a writer, logger and error, logs the error and
// writes the error envelope with a status derived from the error kind.
func HTTPErrorResponse(w http.ResponseWriter, logger zerolog.Logger, err error) {
	if err == nil {
		logger.Error().Msg("nil error - no response body sent")

		return
	}

	status := HTTPStatus(err)

	var e *Error
	if !errors.As(err, &e) {
		logger.Error().Err(err).Int("status", status).Msg("unknown error")

		writeErr(w, logger, status, "internal error")

		return
	}

	ev := logger.Error()
	if status < http.StatusInternalServerError && status != http.StatusTooManyRequests {
		ev = logger.Info()
	}

	ev.Stack().Err(err).
		Int("status", status).
		Str("kind", e.Kind.String()).
		Str("param", string(e.Param)).
		Str("code", string(e.Code)).
		Strs("ops", OpStack(err)).
		Msg("error response")

	writeErr(w, logger, status, Message(err))
}

func writeErr(w http.ResponseWriter, logger zerolog.Logger, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(ErrResponse{ErrorMessage: msg})
	if err != nil {
		logger.Error().Err(err).Msg("writing error response")
	}
}

// HTTPStatus maps the kind of err to an HTTP status. BigQuery retries a batch
// answered with 408, 429, 500, 503 or 504, so only transient kinds map there.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}

	switch kindOf(e) {
	case InvalidRequest, Validation, Invalid, Function:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case Unauthorized:
		return http.StatusForbidden
	case NotExist:
		return http.StatusNotFound
	case Exist:
		return http.StatusConflict
	case TooLarge:
		return http.StatusRequestEntityTooLarge
	case TooManyRequests:
		return http.StatusTooManyRequests
	case Timeout:
		return http.StatusGatewayTimeout
	case Unavailable, IO:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func kindOf(e *Error) Kind {
	for e != nil {
		if e.Kind != Other {
			return e.Kind
		}

		var inner *Error
		if !errors.As(e.Err, &inner) {
			break
		}

		e = inner
	}

	return Other
}

// Message returns the text shown to the caller. Internal failures are
// reported by kind only, everything else carries the innermost cause.
func Message(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return Internal.String()
	}

	kind := kindOf(e)

	switch kind {
	case Internal, Database, Other:
		return kind.String()
	}

	parts := []string{kind.String()}
	if e.Param != "" {
		parts = append(parts, "parameter "+string(e.Param))
	}

	if cause := innermost(e); cause != "" {
		parts = append(parts, cause)
	}

	return strings.Join(parts, ": ")
}

func innermost(e *Error) string {
	for {
		if e.Err == nil {
			return ""
		}

		var inner *Error
		if !errors.As(e.Err, &inner) {
			return e.Err.Error()
		}

		e = inner
	}
}

// Package remotefn implements the BigQuery remote function wire contract:
// the batch call envelope sent by BigQuery, the reply envelope returned to it
// and the JSON representation of every argument and return type that remote
// functions support.
//
// See https://cloud.google.com/bigquery/docs/remote-functions#input_format
package remotefn

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goccy/go-json"
)

var (
	ErrMissingCalls  = errors.New("request has no calls")
	ErrRequestTooBig = errors.New("request body too large")
)

// Request is the batch call envelope.
type Request struct {
	RequestID          string            `json:"requestId,omitempty"`
	Caller             string            `json:"caller,omitempty"`
	SessionUser        string            `json:"sessionUser,omitempty"`
	UserDefinedContext map[string]string `json:"userDefinedContext,omitempty"`
	Calls              []Args            `json:"calls"`
}

// Response is the reply envelope. Exactly one of Replies or ErrorMessage is
// set.
type Response struct {
	Replies      []any  `json:"replies"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// NewResponse returns a response with room for n replies.
func NewResponse(n int) *Response {
	return &Response{
		Replies: make([]any, n),
	}
}

// StatusCode lets the transport pick the status for a successful batch.
func (r *Response) StatusCode() int {
	return http.StatusOK
}

// ContextValue returns the user defined context value for key.
func (r *Request) ContextValue(key string) string {
	if r.UserDefinedContext == nil {
		return ""
	}

	return r.UserDefinedContext[key]
}

// Rows returns the number of calls in the batch.
func (r *Request) Rows() int {
	return len(r.Calls)
}

func (r *Request) Validate() error {
	if r.Calls == nil {
		return ErrMissingCalls
	}

	return validation.ValidateStruct(r,
		validation.Field(&r.RequestID, validation.Length(0, 256)),
	)
}

// DecodeRequest reads a batch call envelope from r.
func DecodeRequest(r io.Reader) (*Request, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w: limit is %d bytes", ErrRequestTooBig, maxErr.Limit)
		}

		return nil, fmt.Errorf("reading request: %w", err)
	}

	req := &Request{}

	err = json.Unmarshal(data, req)
	if err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}

	err = req.Validate()
	if err != nil {
		return nil, err
	}

	return req, nil
}

// IsRetryableStatus reports whether BigQuery retries a batch that was
// answered with the given status code.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

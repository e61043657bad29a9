// Package envelope defines the uniform response shape returned to every
// gateway caller, whatever the backend protocol or failure mode.
package envelope

import (
	"encoding/json"
	"net/http"

	"github.com/vyrodovalexey/avadispatch/internal/gwerrors"
)

// Response is the gateway envelope. Build it with Success or Failure only;
// the zero value is not a valid response.
type Response[T any] struct {
	Success      bool              `json:"success"`
	Data         *T                `json:"data"`
	ErrorMessage *string           `json:"errorMessage"`
	StatusCode   int               `json:"statusCode"`
	Metadata     map[string]string `json:"metadata"`
}

// Success builds a successful envelope. Status codes outside 2xx are
// coerced to 200 so the envelope can never claim success with an error code.
func Success[T any](data *T, statusCode int) Response[T] {
	if statusCode < 200 || statusCode > 299 {
		statusCode = http.StatusOK
	}
	return Response[T]{
		Success:    true,
		Data:       data,
		StatusCode: statusCode,
	}
}

// Failure builds an error envelope. Status codes inside 2xx are coerced to
// 500 for the same reason.
func Failure[T any](message string, statusCode int) Response[T] {
	if statusCode >= 200 && statusCode <= 299 {
		statusCode = http.StatusInternalServerError
	}
	return Response[T]{
		Success:      false,
		ErrorMessage: &message,
		StatusCode:   statusCode,
	}
}

// FromError renders any error as a failure envelope through the gateway
// taxonomy. Only the classified message reaches the caller; causes stay in
// the logs.
func FromError(err error) Response[json.RawMessage] {
	gwErr := gwerrors.From(err)
	if gwErr == nil {
		gwErr = gwerrors.Internal("An unexpected error occurred", nil)
	}
	return Failure[json.RawMessage](gwErr.Message, gwErr.StatusCode())
}

// WithMetadata returns a copy of r carrying the given metadata entry.
func (r Response[T]) WithMetadata(key, value string) Response[T] {
	md := make(map[string]string, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		md[k] = v
	}
	md[key] = value
	r.Metadata = md
	return r
}

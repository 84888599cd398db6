// Package respond writes the JSON envelopes shared by handlers and
// middleware.
//
// Successful responses are wrapped as {"status":"success","data":...} and
// failures as {"details":{"status":<code>,"message":<text>}}.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/lilofinance/usermanager/internal/apperr"
)

// StatusSuccess is the status field of every success envelope.
const StatusSuccess = "success"

// SuccessBody is the success envelope.
type SuccessBody struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

// ErrorDetails carries the public part of a failure.
type ErrorDetails struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// ErrorBody is the failure envelope.
type ErrorBody struct {
	Details ErrorDetails `json:"details"`
}

// JSON writes v as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// Success writes data inside the success envelope.
func Success(w http.ResponseWriter, status int, data any) {
	JSON(w, status, SuccessBody{Status: StatusSuccess, Data: data})
}

// Error writes err inside the failure envelope. Only the public status and
// message of err reach the client.
func Error(w http.ResponseWriter, err error) {
	status, message := apperr.Public(err)
	Status(w, status, message)
}

// Status writes a failure envelope with an explicit status and message.
func Status(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorBody{Details: ErrorDetails{Status: status, Message: message}})
}

// ErrBodyTooLarge is returned by DecodeStrict when the body exceeds the
// limit installed by http.MaxBytesReader.
var ErrBodyTooLarge = errors.New("request body too large")

// DecodeStrict decodes a single JSON object from r into dst. Unknown fields,
// trailing data and syntax errors are reported as unprocessable content.
// The error for an empty or absent body wraps io.EOF.
func DecodeStrict(r *http.Request, dst any) error {
	if r.Body == nil {
		return apperr.Wrap(apperr.KindUnprocessable, apperr.MessageUnprocessable, fmt.Errorf("decode body: %w", io.EOF))
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.Wrap(apperr.KindPayloadTooLarge, apperr.MessageBodyTooLarge, ErrBodyTooLarge)
		}
		return apperr.Wrap(apperr.KindUnprocessable, apperr.MessageUnprocessable, fmt.Errorf("decode body: %w", err))
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apperr.New(apperr.KindUnprocessable, apperr.MessageUnprocessable)
	}
	return nil
}

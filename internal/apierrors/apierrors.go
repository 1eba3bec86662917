// Package apierrors defines the error taxonomy shared by the auth
// manager and the resource client. Callers branch on these to decide
// user-facing presentation; none of them ever carry token values.
package apierrors

import (
	"errors"
	"fmt"
)

// Authentication errors.
var (
	// ErrAuthRequired means no valid credential is available and a
	// fresh device flow must run.
	ErrAuthRequired = errors.New("authentication required")

	// ErrAuthExpired means a device flow ended because the device code
	// expired before the user approved it.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrAuthDenied means the user rejected the authorization request.
	ErrAuthDenied = errors.New("authentication denied")

	// ErrNoCredentials means the credential store holds no record.
	ErrNoCredentials = errors.New("no stored credentials")
)

// APIError is a well-formed request the backend rejected. Status is the
// HTTP status code; Title/Detail come from the backend's error objects
// when it sends any.
type APIError struct {
	Status int
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	switch {
	case e.Detail != "" && e.Title != "":
		return fmt.Sprintf("API error (%d): %s: %s", e.Status, e.Title, e.Detail)
	case e.Detail != "":
		return fmt.Sprintf("API error (%d): %s", e.Status, e.Detail)
	case e.Title != "":
		return fmt.Sprintf("API error (%d): %s", e.Status, e.Title)
	}

	return fmt.Sprintf("API error (%d)", e.Status)
}

// TransportError wraps a request that never completed (DNS, timeout,
// connection reset). This layer does not retry; retry policy belongs
// to the caller.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError wraps a response body that did not match the expected
// JSON:API shape.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// IsTransport reports whether err (or any error in its chain) is a
// TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsDecode reports whether err (or any error in its chain) is a
// DecodeError.
func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// AsAPIError returns the APIError in err's chain, or nil.
func AsAPIError(err error) *APIError {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae
	}

	return nil
}

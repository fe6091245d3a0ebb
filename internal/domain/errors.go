package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTransport         = errors.New("transport failure")
	ErrAuth              = errors.New("authentication failed")
	ErrTokenExpired      = errors.New("session token expired")
	ErrRejected          = errors.New("request rejected by vendor")
	ErrNoDeviceFound     = errors.New("no device found")
	ErrInvalidIdentifier = errors.New("invalid device identifier")
	ErrUnsupported       = errors.New("operation not supported")
)

// APIError is a vendor status code other than success.
type APIError struct {
	Code string
	Msg  string
	kind error
}

func NewAPIError(code, msg string, kind error) *APIError {
	return &APIError{Code: code, Msg: msg, kind: kind}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vendor code %s: %s", e.Code, e.Msg)
}

func (e *APIError) Unwrap() error {
	if e.kind == nil {
		return ErrRejected
	}
	return e.kind
}

// Package domain contains domain errors used throughout the application.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	ErrStreamNotFound   = errors.New("stream not found")
	ErrBrokerNotRunning = errors.New("broker is not running")
	ErrSubscriberClosed = errors.New("subscriber is closed")
	ErrNotConnected     = errors.New("not connected to server")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrUnknownEventKind = errors.New("unknown event kind")
)

// ProtocolError represents a malformed frame or an unrecognized message
// type. It is recovered locally and replied to the sender; the
// connection stays open.
type ProtocolError struct {
	Op  string // Operation that failed (decode, dispatch)
	Err error  // Underlying error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(op string, err error) *ProtocolError {
	return &ProtocolError{Op: op, Err: err}
}

// TransportError represents a send or receive failure on one
// connection. It is fatal to that connection only and triggers its
// teardown; it never propagates to other connections.
type TransportError struct {
	ClientID string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s: %v", e.ClientID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new TransportError.
func NewTransportError(clientID string, err error) *TransportError {
	return &TransportError{ClientID: clientID, Err: err}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

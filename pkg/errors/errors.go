package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeNetwork represents requests that never received a response
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeServer represents non-2xx responses from the backend
	ErrorTypeServer ErrorType = "server"
	// ErrorTypeNoLinkedAccounts marks the valid "nothing linked yet" state
	ErrorTypeNoLinkedAccounts ErrorType = "no_linked_accounts"
	// ErrorTypeCacheCorrupt represents an unparseable stored cache entry
	ErrorTypeCacheCorrupt ErrorType = "cache_corrupt"
	// ErrorTypeWidget represents failures reported by the link widget
	ErrorTypeWidget ErrorType = "widget"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// NoLinkedAccountsCode is the backend error code for the empty-accounts precondition
const NoLinkedAccountsCode = "no_linked_accounts"

// ClientError represents a failure raised by the sync client
type ClientError struct {
	Type    ErrorType
	Op      string
	Message string
	Status  int
	Body    string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *ClientError) Error() string {
	msg := e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Op, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Op, msg)
}

// Unwrap returns the underlying error
func (e *ClientError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is retryable
func (e *ClientError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNetwork:
		return true
	case ErrorTypeServer:
		return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
	default:
		return false
	}
}

// New creates a new ClientError
func New(errType ErrorType, op, message string, err error) *ClientError {
	return &ClientError{
		Type:    errType,
		Op:      op,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewNetwork creates a new network error
func NewNetwork(op string, err error) *ClientError {
	return New(ErrorTypeNetwork, op, "no response from backend", err)
}

// NewServer creates a new server error carrying the response status and body
func NewServer(op string, status int, body string) *ClientError {
	e := New(ErrorTypeServer, op, "unexpected response", nil)
	e.Status = status
	e.Body = body
	return e
}

// NewNoLinkedAccounts creates the no-linked-accounts condition
func NewNoLinkedAccounts(op string) *ClientError {
	e := New(ErrorTypeNoLinkedAccounts, op, "no linked bank accounts found", nil)
	e.Status = http.StatusNotFound
	return e
}

// NewCacheCorrupt creates a new cache corruption error
func NewCacheCorrupt(key string, err error) *ClientError {
	return New(ErrorTypeCacheCorrupt, key, "unparseable cache entry", err)
}

// NewWidget creates a new widget error
func NewWidget(op, message string, err error) *ClientError {
	return New(ErrorTypeWidget, op, message, err)
}

// NewValidation creates a new validation error
func NewValidation(op, message string) *ClientError {
	return New(ErrorTypeValidation, op, message, nil)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *ClientError {
	return New(ErrorTypeConfiguration, "", message, err)
}

// IsType reports whether err wraps a ClientError of the given type
func IsType(err error, errType ErrorType) bool {
	var ce *ClientError
	if stderrors.As(err, &ce) {
		return ce.Type == errType
	}
	return false
}

// IsNoLinkedAccounts reports whether err is the no-linked-accounts condition
func IsNoLinkedAccounts(err error) bool {
	return IsType(err, ErrorTypeNoLinkedAccounts)
}

// IsRetryable reports whether err wraps a retryable ClientError
func IsRetryable(err error) bool {
	var ce *ClientError
	if stderrors.As(err, &ce) {
		return ce.IsRetryable()
	}
	return false
}

// StatusOf returns the HTTP status carried by err, or 0
func StatusOf(err error) int {
	var ce *ClientError
	if stderrors.As(err, &ce) {
		return ce.Status
	}
	return 0
}

package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeCatalog        ErrorType = "catalog"
	ErrorTypeTransmission   ErrorType = "transmission"
	ErrorTypeServer         ErrorType = "server"
	ErrorTypeRejection      ErrorType = "rejection"
	ErrorTypeProtocol       ErrorType = "protocol"
	ErrorTypeInvalidState   ErrorType = "invalid_state"
	ErrorTypeStream         ErrorType = "stream"
	ErrorTypeHook           ErrorType = "hook"
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeConfig         ErrorType = "config"
	ErrorTypeIO             ErrorType = "io"
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error

	// Response is the server message that caused a server or rejection error.
	Response *ResponseMessage
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Type, e.Message)
	if e.Response != nil {
		msg = fmt.Sprintf("%s (%s/%s)", msg, e.Response.MessageType, e.Response.MessageSubtype)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// IsType reports whether err wraps a DomainError of the given type.
func IsType(err error, errType ErrorType) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type == errType
	}
	return false
}

// TypeOf returns the type of the outermost DomainError in err's chain, or "".
func TypeOf(err error) ErrorType {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type
	}
	return ""
}

// Common error constructors
func AuthenticationError(message string, err error) *DomainError {
	return NewError(ErrorTypeAuthentication, message, err)
}

func CatalogUnavailable(message string, err error) *DomainError {
	return NewError(ErrorTypeCatalog, message, err)
}

func TransmissionError(message string, err error) *DomainError {
	return NewError(ErrorTypeTransmission, message, err)
}

func ServerError(msg *ResponseMessage) *DomainError {
	return &DomainError{
		Type:     ErrorTypeServer,
		Message:  "server reported an error",
		Response: msg,
	}
}

func RequestRejected(msg *ResponseMessage) *DomainError {
	return &DomainError{
		Type:     ErrorTypeRejection,
		Message:  "request rejected by server",
		Response: msg,
	}
}

func ProtocolError(message string, err error) *DomainError {
	return NewError(ErrorTypeProtocol, message, err)
}

func InvalidStateError(message string) *DomainError {
	return NewError(ErrorTypeInvalidState, message, nil)
}

func StreamError(message string, err error) *DomainError {
	return NewError(ErrorTypeStream, message, err)
}

func HookError(message string, err error) *DomainError {
	return NewError(ErrorTypeHook, message, err)
}

func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

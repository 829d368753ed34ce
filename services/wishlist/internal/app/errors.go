package app

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidCredentials is returned for unknown usernames and wrong passwords alike.
	// The message is shown to clients and must not enable account enumeration.
	ErrInvalidCredentials = errors.New("invalid username or password")

	ErrUsernameTaken   = errors.New("username already exists")
	ErrWishNotFound    = errors.New("wish not found")
	ErrWishAlreadyDone = errors.New("wish already marked as done")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every field-level problem of one request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// orNil keeps callers from returning a typed nil inside an error interface.
func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func fieldError(field, message string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

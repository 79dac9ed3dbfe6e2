package models

import (
	"errors"
	"fmt"
)

var (
	// Store errors
	ErrSheetNotFound = errors.New("sheet not found")
	ErrRowNotFound   = errors.New("row not found")
	ErrMissingColumn = errors.New("missing column")
	ErrUnsupported   = errors.New("operation not supported by store")

	// Dispatch errors
	ErrInvalidSchedule    = errors.New("invalid schedule")
	ErrMissingRecipient   = errors.New("missing recipient address")
	ErrMissingName        = errors.New("missing recipient name")
	ErrInvalidRecipient   = errors.New("invalid recipient address")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrDeliveryUnknown    = errors.New("delivery outcome unknown")
)

// AppError carries a stable code next to the wrapped cause.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppErrorf(code, message string, err error, args ...any) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsRowNotFound(err error) bool {
	return errors.Is(err, ErrRowNotFound)
}

func IsSheetNotFound(err error) bool {
	return errors.Is(err, ErrSheetNotFound)
}

func IsMissingColumn(err error) bool {
	return errors.Is(err, ErrMissingColumn)
}

func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

func IsDeliveryUnknown(err error) bool {
	return errors.Is(err, ErrDeliveryUnknown)
}

func IsMissingCredentials(err error) bool {
	return errors.Is(err, ErrMissingCredentials)
}

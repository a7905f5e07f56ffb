package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrNoCapacity           = errors.New("no free box available")
	ErrUploadFailed         = errors.New("upload failed")
	ErrObjectNotFound       = errors.New("object not found")
	ErrValidation           = errors.New("validation failed")
	ErrReworkCreationFailed = errors.New("rework creation failed")
)

// Error records the operation and entity an error happened on.
type Error struct {
	Op  string
	ID  string
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the operation and entity id.
func NewError(op, id string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, ID: id, Err: err}
}

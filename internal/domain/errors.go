package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized   = errors.New("tablet service not initialized")
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrConflict         = errors.New("conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrFileNotFound     = errors.New("file not found")
	ErrFileIO           = errors.New("file i/o failed")
)

type NotFoundError struct {
	Table string
	ID    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Table, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError reports a second outstanding record for an id that only
// allows one.
type ConflictError struct {
	Table string
	ID    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Table, e.ID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("file %s does not exist", e.Path)
}

func (e *FileNotFoundError) Is(target error) bool { return target == ErrFileNotFound }

type FileIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileIOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileIOError) Is(target error) bool { return target == ErrFileIO }
func (e *FileIOError) Unwrap() error        { return e.Err }

// Unavailable wraps err as a store-unavailable failure.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

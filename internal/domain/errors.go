package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrExternalSync      = errors.New("external sync failed")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) Error() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Message)
}

// ValidationError collects field errors. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Fields []FieldError
}

func (v *ValidationError) Error() string {
	if len(v.Fields) == 0 {
		return ErrValidation.Error()
	}
	msgs := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(msgs, "; "))
}

func (v *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Add appends a field error and returns the receiver for chaining.
func (v *ValidationError) Add(field, message string) *ValidationError {
	v.Fields = append(v.Fields, FieldError{Field: field, Message: message})
	return v
}

// OrNil returns nil when no field errors were collected.
func (v *ValidationError) OrNil() error {
	if v == nil || len(v.Fields) == 0 {
		return nil
	}
	return v
}

// NewValidationError is a shortcut for a single-field validation error.
func NewValidationError(field, message string) error {
	return (&ValidationError{}).Add(field, message)
}

// NotFoundError names the missing entity.
func NotFoundError(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, ErrNotFound)
}

// TransitionError reports a status change that the lifecycle forbids.
type TransitionError struct {
	From   string
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s booking in status %q: %s", e.Action, e.From, ErrInvalidTransition)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// SyncWarning is a side-effect failure reported next to a successful state change.
type SyncWarning struct {
	Effect  string `json:"effect"`
	TaskID  int64  `json:"task_id,omitempty"`
	Message string `json:"message"`
}

func (w SyncWarning) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrExternalSync, w.Effect, w.Message)
}

func (w SyncWarning) Unwrap() error {
	return ErrExternalSync
}

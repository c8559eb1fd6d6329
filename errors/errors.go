package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Base struct {
	// Msg contains human readable error.
	Msg       string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func newBasef(format string, args ...any) Base {
	return Base{
		Msg:       fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	}
}

// NotOwnerError is returned when unlock or renew is called by a holder
// that does not hold the lock, or when the lock is not held at all.
type NotOwnerError struct {
	Base
	// Item is the lock name.
	Item any `json:"item,omitempty"`
}

// NotOwner is a helper function to return a NotOwnerError.
// The lock name can be marked with the ${} specifier, for example:
//   - errors.NotOwner("lock ${orders} is not held")
//   - errors.NotOwner("lock ${%s} is not held", name)
//
// the value of Item in NotOwnerError will be set to the marked value.
func NotOwner(format string, args ...any) *NotOwnerError {
	format, item := parse(format, args...)
	return &NotOwnerError{
		Item: item,
		Base: newBasef(format, args...),
	}
}

// IsNotOwner checks if err is not owner error.
func IsNotOwner(err error) bool {
	return errors.Is(err, &NotOwnerError{})
}

// AsNotOwner returns err as NotOwnerError.
func AsNotOwner(err error) (nerr *NotOwnerError, b bool) {
	if errors.As(err, &nerr) {
		return nerr, true
	}
	return nil, false
}

func (e *NotOwnerError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Item != nil {
		return fmt.Sprintf("%v is not held by the caller", e.Item)
	}
	return "lock is not held by the caller"
}

func (e *NotOwnerError) Code() Code { return CodeNotOwner }

func (e *NotOwnerError) Is(t error) bool {
	_, ok := t.(*NotOwnerError)
	return ok
}

// LostOwnershipError is returned when the caller believed it held a lock
// but the lease in the store is gone or belongs to another owner, which
// happens when the lease expired and was reclaimed.
type LostOwnershipError struct {
	Base
	// Item is the lock name.
	Item any `json:"item,omitempty"`
}

// LostOwnership is a helper function to return a LostOwnershipError.
// The lock name can be marked with the ${} specifier.
func LostOwnership(format string, args ...any) *LostOwnershipError {
	format, item := parse(format, args...)
	return &LostOwnershipError{
		Item: item,
		Base: newBasef(format, args...),
	}
}

// IsLostOwnership checks if err is lost ownership error.
func IsLostOwnership(err error) bool {
	return errors.Is(err, &LostOwnershipError{})
}

// AsLostOwnership returns err as LostOwnershipError.
func AsLostOwnership(err error) (lerr *LostOwnershipError, b bool) {
	if errors.As(err, &lerr) {
		return lerr, true
	}
	return nil, false
}

func (e *LostOwnershipError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Item != nil {
		return fmt.Sprintf("lease for %v was lost", e.Item)
	}
	return "lease was lost"
}

func (e *LostOwnershipError) Code() Code { return CodeLostOwnership }

func (e *LostOwnershipError) Is(t error) bool {
	_, ok := t.(*LostOwnershipError)
	return ok
}

// TransientError wraps store failures that may succeed when retried:
// connectivity problems, timeouts, lock contention and serialization
// failures.
type TransientError struct {
	Base
	Err error `json:"-"`
}

// Transient is a helper function to return a TransientError.
func Transient(err error, format string, args ...any) *TransientError {
	return &TransientError{
		Base: newBasef(format, args...),
		Err:  err,
	}
}

// IsTransient checks if err is transient error.
func IsTransient(err error) bool {
	return errors.Is(err, &TransientError{})
}

func (e *TransientError) Error() string {
	return joinMsg(e.Msg, e.Err, "transient store error")
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Code() Code { return CodeTransient }

func (e *TransientError) Is(t error) bool {
	_, ok := t.(*TransientError)
	return ok
}

// ConfigurationError reports a missing or invalid lock table, or invalid
// settings. It is never retried.
type ConfigurationError struct {
	Base
	Err error `json:"-"`
}

// Configuration is a helper function to return a ConfigurationError.
func Configuration(err error, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		Base: newBasef(format, args...),
		Err:  err,
	}
}

// IsConfiguration checks if err is configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, &ConfigurationError{})
}

func (e *ConfigurationError) Error() string {
	return joinMsg(e.Msg, e.Err, "invalid configuration")
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Code() Code { return CodeConfiguration }

func (e *ConfigurationError) Is(t error) bool {
	_, ok := t.(*ConfigurationError)
	return ok
}

type ValidationError struct {
	Base
	Errors []error `json:"-"`
}

// Validation is a helper function to return an invalid argument Error.
func Validation(format string, args ...any) *ValidationError {
	return &ValidationError{
		Base: newBasef(format, args...),
	}
}

// IsValidation checks if err is validation error.
func IsValidation(err error) bool {
	return errors.Is(err, &ValidationError{})
}

func AsValidation(err error) (verr *ValidationError, b bool) {
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

func (e *ValidationError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = "validation error"
	}
	if len(e.Errors) == 0 {
		return msg
	}
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return msg + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) AddError(err error) *ValidationError {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
	return e
}

func (e *ValidationError) Code() Code { return CodeValidation }

func (e *ValidationError) Is(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

func joinMsg(msg string, err error, fallback string) string {
	switch {
	case msg != "" && err != nil:
		return msg + ": " + err.Error()
	case msg != "":
		return msg
	case err != nil:
		return fallback + ": " + err.Error()
	default:
		return fallback
	}
}

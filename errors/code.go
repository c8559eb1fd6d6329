package errors

import "errors"

type Code string

const (
	CodeNotOwner      Code = "not_owner"
	CodeLostOwnership Code = "lost_ownership"
	CodeTransient     Code = "transient"
	CodeConfiguration Code = "configuration"
	CodeValidation    Code = "validation"
	CodeUnknown       Code = "unknown"
)

type coder interface {
	Code() Code
}

// AsCode unwraps an error and returns its code.
// Errors that are not produced by this package return CodeUnknown.
func AsCode(err error) Code {
	if err == nil {
		return ""
	}
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeUnknown
}

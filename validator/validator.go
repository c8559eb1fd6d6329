package validator

import (
	"sync"

	"github.com/enverbisevac/leaselock/errors"
)

type ValidatorFunc[T any] func(T) error

// Validator collects failed checks.
type Validator struct {
	mux    sync.Mutex
	Errors []error
}

func (v *Validator) HasErrors() bool {
	v.mux.Lock()
	defer v.mux.Unlock()
	return len(v.Errors) != 0
}

func (v *Validator) AddError(err ...error) {
	v.mux.Lock()
	defer v.mux.Unlock()

	for _, verr := range err {
		if verr != nil {
			v.Errors = append(v.Errors, verr)
		}
	}
}

func (v *Validator) Check(ok bool, err error) {
	if !ok {
		v.AddError(err)
	}
}

// Err returns a ValidationError holding every failed check, or nil.
func (v *Validator) Err(msg string) error {
	if !v.HasErrors() {
		return nil
	}
	verr := errors.Validation("%s", msg)
	for _, err := range v.Errors {
		verr.AddError(err)
	}
	return verr
}

// Validate runs validators in order and returns the first error.
func Validate[T any](data T, validators ...ValidatorFunc[T]) error {
	for _, validator := range validators {
		err := validator(data)
		if err != nil {
			return err
		}
	}
	return nil
}

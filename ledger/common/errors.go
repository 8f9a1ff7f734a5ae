// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"errors"
	"fmt"
)

// ValidationError is implemented by every error that rejects a transaction.
// Permanent reports whether the transaction can never become valid.
type ValidationError interface {
	error
	Permanent() bool
}

// NotValidError rejects a transaction that is structurally or semantically
// wrong. It must never be admitted.
type NotValidError struct {
	err error
}

func (e *NotValidError) Error() string {
	return e.err.Error()
}

func (e *NotValidError) Unwrap() error {
	return errors.Unwrap(e.err)
}

func (e *NotValidError) Permanent() bool {
	return true
}

// NotCurrentlyValidError rejects a transaction given the current ledger state.
// The transaction may be retried later and its origin must not be penalized.
type NotCurrentlyValidError struct {
	err error
}

func (e *NotCurrentlyValidError) Error() string {
	return e.err.Error()
}

func (e *NotCurrentlyValidError) Unwrap() error {
	return errors.Unwrap(e.err)
}

func (e *NotCurrentlyValidError) Permanent() bool {
	return false
}

// NewNotValid formats a permanent validation error. A %w verb in format is
// preserved for errors.Is/As.
func NewNotValid(format string, args ...any) error {
	return &NotValidError{err: fmt.Errorf(format, args...)}
}

// NewNotCurrentlyValid formats a transient validation error
func NewNotCurrentlyValid(format string, args ...any) error {
	return &NotCurrentlyValidError{err: fmt.Errorf(format, args...)}
}

// IsNotValid returns true if err is, or wraps, a permanent validation error
func IsNotValid(err error) bool {
	var e *NotValidError
	return errors.As(err, &e)
}

// IsNotCurrentlyValid returns true if err is, or wraps, a transient validation error
func IsNotCurrentlyValid(err error) bool {
	var e *NotCurrentlyValidError
	return errors.As(err, &e)
}

// IsValidationError returns true for either kind of validation error
func IsValidationError(err error) bool {
	var e ValidationError
	return errors.As(err, &e)
}

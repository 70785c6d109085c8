/*
Copyright 2026 KMFlow Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package kerrors implements the closed error taxonomy described in
// spec §7: every surfaced failure is one of a fixed set of kinds, each
// with a declared recovery policy enforced by its caller, never by the
// error type itself.
package kerrors

import (
	"errors"
	"fmt"
)

// ErrorType is one of the closed taxonomy kinds from spec §7.
type ErrorType string

const (
	ErrorTypeParse             ErrorType = "parse_error"
	ErrorTypeDuplicateIgnored  ErrorType = "duplicate_ignored"
	ErrorTypeIllegalTransition ErrorType = "illegal_transition"
	ErrorTypeInvalidEdge       ErrorType = "invalid_edge"
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeAuthzDenied       ErrorType = "authz_denied"
	ErrorTypeSeedCycle         ErrorType = "seed_cycle"
	ErrorTypeProjectionLag     ErrorType = "projection_lag"
	ErrorTypeCancelled         ErrorType = "cancelled"
	ErrorTypeTimeout           ErrorType = "timeout"
	ErrorTypeQuotaExceeded     ErrorType = "quota_exceeded"
	ErrorTypeEngagementClosed  ErrorType = "engagement_closed"
	ErrorTypeValidation        ErrorType = "validation"
)

// retryable reports whether a kind's declared recovery policy (spec §7)
// permits automatic retry. Structural errors are never retried.
var retryable = map[ErrorType]bool{
	ErrorTypeParse:         true,
	ErrorTypeProjectionLag: true,
	ErrorTypeTimeout:       true,
}

// AppError is the surfaced error shape. It is never mutated after
// construction; With* methods return a copy.
type AppError struct {
	Type    ErrorType
	Message string
	Details string
	Cause   error
}

func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message}
}

func Newf(t ErrorType, format string, args ...any) *AppError {
	return &AppError{Type: t, Message: fmt.Sprintf(format, args...)}
}

func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, Cause: cause}
}

func Wrapf(cause error, t ErrorType, format string, args ...any) *AppError {
	return &AppError{Type: t, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

func (e *AppError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		s += fmt.Sprintf(" (%s)", e.Details)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(": %v", e.Cause)
	}
	return s
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is(err, kerrors.New(SomeType, "")) style matching
// on Type alone, as well as matching against a sentinel of the same Type.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if errors.As(target, &other) {
		return e.Type == other.Type
	}
	return false
}

// Retryable reports whether err's declared kind permits automatic retry.
// Non-AppError causes are treated as retryable transient I/O failures,
// matching the "local recovery preferred for transient I/O" policy.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return retryable[ae.Type]
	}
	return true
}

// TypeOf extracts the ErrorType of err, or "" if err is not an AppError.
func TypeOf(err error) ErrorType {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type
	}
	return ""
}

// Sentinel constructors used with errors.Is for common checks.
var (
	ErrNotFound         = New(ErrorTypeNotFound, "resource not found")
	ErrDuplicateIgnored = New(ErrorTypeDuplicateIgnored, "duplicate ignored")
	ErrEngagementClosed = New(ErrorTypeEngagementClosed, "engagement closed")
	ErrSeedCycle        = New(ErrorTypeSeedCycle, "seed term merge cycle detected")
	ErrCancelled        = New(ErrorTypeCancelled, "task cancelled")
)

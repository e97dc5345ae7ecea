// Package errors provides structured, coded errors for the mining pipeline.
// Every stage reports failures as *SeqError so drivers can branch on Code
// and print the offending row/column from Context.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code classifies an error for programmatic handling.
type Code string

const (
	// Input errors (1xx)
	CodeMalformedInput Code = "E101"
	CodeFileNotFound   Code = "E102"
	CodeDuplicateKey   Code = "E103"

	// Programming errors (2xx)
	CodeInvalidRelationUsage         Code = "E201"
	CodeReadOnlyViolation            Code = "E202"
	CodeStructuralInvariantViolation Code = "E203"

	// Persistence errors (3xx)
	CodeWriteFailed Code = "E301"
	CodeReadFailed  Code = "E302"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"
	CodeBackend         Code = "E402"

	// Unknown
	CodeUnknown Code = "E999"
)

// SeqError is the base error type for all pipeline errors.
type SeqError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface. Context keys are printed in sorted
// order so messages are stable across runs.
func (e *SeqError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *SeqError) Unwrap() error {
	return e.Cause
}

// Is matches another *SeqError by code.
func (e *SeqError) Is(target error) bool {
	if t, ok := target.(*SeqError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *SeqError) WithContext(key string, value interface{}) *SeqError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new SeqError.
func New(code Code, message string) *SeqError {
	return &SeqError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Newf creates a new SeqError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *SeqError {
	return &SeqError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *SeqError {
	if err == nil {
		return nil
	}

	return &SeqError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *SeqError {
	if err == nil {
		return nil
	}
	return &SeqError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *SeqError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// MalformedRow reports unparsable input at a given row and column.
func MalformedRow(message string, row int, column string) *SeqError {
	return New(CodeMalformedInput, message).
		WithContext("row", row).
		WithContext("column", column)
}

// DuplicateKey reports a repeated key in configuration.
func DuplicateKey(section, key string) *SeqError {
	return New(CodeDuplicateKey, "duplicate key in configuration").
		WithContext("section", section).
		WithContext("key", key)
}

// InvalidRelation reports evaluator misuse.
func InvalidRelation(relation, reason string) *SeqError {
	return New(CodeInvalidRelationUsage, reason).
		WithContext("relation", relation)
}

// ReadOnly reports a mutation attempted on a frozen object.
func ReadOnly(object string) *SeqError {
	return New(CodeReadOnlyViolation, "object is read-only").
		WithContext("object", object)
}

// Structural reports a broken forest invariant at a node.
func Structural(message string, node int) *SeqError {
	return New(CodeStructuralInvariantViolation, message).
		WithContext("node", node)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string, cause error) *SeqError {
	e := New(CodeContextCanceled, "operation canceled")
	e.Cause = cause
	return e.WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var sErr *SeqError
	if errors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var sErr *SeqError
	if errors.As(err, &sErr) {
		return sErr.Code
	}
	return CodeUnknown
}

// IsFatal reports programming errors that must abort the caller rather than
// be skipped.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeInvalidRelationUsage, CodeReadOnlyViolation, CodeStructuralInvariantViolation:
		return true
	default:
		return false
	}
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}

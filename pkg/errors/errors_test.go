package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestSeqError_Error(t *testing.T) {
	err := MalformedRow("failed to parse value", 7, "value")
	got := err.Error()
	want := "[E101] failed to parse value (column=value, row=7)"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, CodeReadFailed, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	cause := fmt.Errorf("disk gone")
	err := Wrap(cause, CodeReadFailed, "read manifest")
	if !stderrors.Is(err, cause) {
		t.Error("wrapped error should unwrap to cause")
	}
	if !strings.HasSuffix(err.Error(), ": disk gone") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestIsCode(t *testing.T) {
	tests := []struct {
		err  error
		code Code
		want bool
	}{
		{InvalidRelation("meets", "span operand"), CodeInvalidRelationUsage, true},
		{ReadOnly("templates"), CodeReadOnlyViolation, true},
		{Structural("dangling edge", 3), CodeStructuralInvariantViolation, true},
		{fmt.Errorf("wrapped: %w", DuplicateKey("segmentation", "low")), CodeDuplicateKey, true},
		{fmt.Errorf("plain"), CodeMalformedInput, false},
	}

	for _, tt := range tests {
		if got := IsCode(tt.err, tt.code); got != tt.want {
			t.Errorf("IsCode(%v, %s) = %v, want %v", tt.err, tt.code, got, tt.want)
		}
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(InvalidRelation("before", "empty array")) {
		t.Error("relation misuse should be fatal")
	}
	if IsFatal(MalformedRow("bad", 1, "ts")) {
		t.Error("malformed input should not be fatal")
	}
	if GetCode(fmt.Errorf("x")) != CodeUnknown {
		t.Error("plain errors should map to CodeUnknown")
	}
}

func TestMultiError(t *testing.T) {
	var m MultiError
	if m.Combined() != nil {
		t.Error("empty MultiError should combine to nil")
	}
	m.Add(nil)
	m.Add(New(CodeBackend, "redis down"))
	if m.Combined() != m.Errors[0] {
		t.Error("single error should be returned as-is")
	}
	m.Add(New(CodeBackend, "s3 down"))
	if !strings.HasPrefix(m.Error(), "2 errors occurred") {
		t.Errorf("unexpected message %q", m.Error())
	}
}

package errors

import (
	stderrors "errors"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrCodeNotFound, "package %s not found", "leftpad")
	want := "NOT_FOUND: package leftpad not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	wrapped := Wrap(ErrCodeStorage, err, "put checkpoint")
	if wrapped.Unwrap() != err {
		t.Error("Unwrap should return the cause")
	}
	if !stderrors.Is(wrapped, err) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestIsAndGetCode(t *testing.T) {
	err := New(ErrCodeTimeout, "fetch timed out")

	if !Is(err, ErrCodeTimeout) {
		t.Error("Is should match the error's own code")
	}
	if Is(err, ErrCodeNotFound) {
		t.Error("Is should not match a different code")
	}
	if GetCode(err) != ErrCodeTimeout {
		t.Errorf("GetCode = %q, want %q", GetCode(err), ErrCodeTimeout)
	}
	if GetCode(stderrors.New("plain")) != "" {
		t.Error("GetCode on a plain error should be empty")
	}

	// Codes survive wrapping with fmt-style wrappers
	wrapped := Wrap(ErrCodeStorage, err, "outer")
	if GetCode(wrapped) != ErrCodeStorage {
		t.Errorf("GetCode should return the outermost code, got %q", GetCode(wrapped))
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{ErrCodeTransientCollaborator, true},
		{ErrCodeTimeout, true},
		{ErrCodeRateLimited, true},
		{ErrCodeNetwork, true},
		{ErrCodeTerminalCollaborator, false},
		{ErrCodeNotFound, false},
		{ErrCodeStorage, false},
		{ErrCodeConfiguration, false},
	}

	for _, tt := range tests {
		if got := IsTransient(New(tt.code, "x")); got != tt.want {
			t.Errorf("IsTransient(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}

	// Fail-closed: unclassified errors are never transient
	if IsTransient(stderrors.New("mystery")) {
		t.Error("unclassified errors must not be transient")
	}
}

func TestIsRunScoped(t *testing.T) {
	if !IsRunScoped(New(ErrCodeStorage, "store down")) {
		t.Error("storage errors are run-scoped")
	}
	if !IsRunScoped(New(ErrCodeConfiguration, "dup stage")) {
		t.Error("configuration errors are run-scoped")
	}
	if IsRunScoped(New(ErrCodeNotFound, "missing")) {
		t.Error("item errors are not run-scoped")
	}
}

func TestValidateScopePart(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{"mozilla-services", false},
		{"screenshots", false},
		{"a_b.c", false},
		{"", true},
		{"..", true},
		{"a//b", true},
		{"a\\b", true},
		{"a\x00b", true},
		{string(make([]byte, 300)), true},
	}

	for _, tt := range tests {
		err := ValidateScopePart(tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateScopePart(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
		}
	}
}

func TestValidateOrgRepo(t *testing.T) {
	if err := ValidateOrgRepo("acme/widgets"); err != nil {
		t.Errorf("valid org/repo should pass: %v", err)
	}
	if err := ValidateOrgRepo("acme"); err == nil {
		t.Error("missing slash should fail")
	}
	if err := ValidateOrgRepo("acme/../etc"); err == nil {
		t.Error("traversal should fail")
	}
}

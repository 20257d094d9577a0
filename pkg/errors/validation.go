package errors

import (
	"strings"
	"unicode"
)

// ValidateScopePart validates a single scope component (org, repo) for safety.
// It rejects values that could be used for path traversal or shell injection
// when the scope is embedded in checkpoint paths or container names.
//
// The validation rules are intentionally conservative:
//   - No empty values
//   - No control characters
//   - No path traversal sequences (.., //, backslash)
//   - Maximum length of 256 characters
func ValidateScopePart(value string) error {
	if value == "" {
		return New(ErrCodeInvalidScope, "scope component cannot be empty")
	}

	if len(value) > 256 {
		return New(ErrCodeInvalidScope, "scope component too long (max 256 characters)")
	}

	for _, r := range value {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidScope, "scope component contains control characters")
		}
	}

	dangerousPatterns := []string{
		"..",   // Parent directory
		"//",   // Double slash
		"\x00", // Null byte
		"\\",   // Backslash (Windows path)
	}

	for _, pattern := range dangerousPatterns {
		if strings.Contains(value, pattern) {
			return New(ErrCodeInvalidScope, "scope component contains invalid sequence: %q", pattern)
		}
	}

	return nil
}

// ValidateOrgRepo validates an "org/repo" pair as accepted on the command line.
func ValidateOrgRepo(orgRepo string) error {
	org, repo, ok := strings.Cut(orgRepo, "/")
	if !ok {
		return New(ErrCodeInvalidInput, "expected org/repo, got %q", orgRepo)
	}
	if err := ValidateScopePart(org); err != nil {
		return err
	}
	return ValidateScopePart(repo)
}

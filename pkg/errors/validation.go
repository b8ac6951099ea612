package errors

import (
	"strings"
	"unicode"
)

// ValidatePackageName validates a package name for safety and correctness.
// Names double as storage keys and directory names, so anything that could
// escape a store's namespace is rejected.
//
// The validation rules are intentionally conservative:
//   - No empty names
//   - No control characters
//   - No path traversal sequences (.., //, etc.)
//   - No null bytes
//   - Maximum length of 256 characters
func ValidatePackageName(name string) error {
	if name == "" {
		return New(ErrCodeRequestMalformed, "package name cannot be empty")
	}

	if len(name) > 256 {
		return New(ErrCodeRequestMalformed, "package name too long (max 256 characters)")
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeRequestMalformed, "package name contains invalid control characters")
		}
	}

	dangerousPatterns := []string{
		"..",   // Parent directory
		"//",   // Double slash
		"\x00", // Null byte
		"\\",   // Backslash (Windows path)
		":",    // Store key separator
	}

	for _, pattern := range dangerousPatterns {
		if strings.Contains(name, pattern) {
			return New(ErrCodeRequestMalformed, "package name contains invalid characters: %q", pattern)
		}
	}

	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, ".") {
		return New(ErrCodeRequestMalformed, "package name cannot start with %q", name[:1])
	}

	return nil
}

package errors

import (
	"regexp"
	"unicode"
	"unicode/utf8"
)

// Limits applied to render request fields before anything reaches the toolchain.
const (
	// MaxSourceBytes caps preamble and body sizes individually.
	MaxSourceBytes = 1 << 20

	// MaxFormatNameLength caps the format identifier.
	MaxFormatNameLength = 32
)

// formatNameRegex matches format identifiers usable in cache file names.
var formatNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateFormatName validates a format identifier for safety.
// Identifiers become part of cache file names, so path separators and
// other special characters are rejected before any registry lookup.
func ValidateFormatName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidInput, "format cannot be empty")
	}
	if len(name) > MaxFormatNameLength {
		return New(ErrCodeInvalidInput, "format name too long (max %d characters)", MaxFormatNameLength)
	}
	if !formatNameRegex.MatchString(name) {
		return New(ErrCodeInvalidInput, "invalid format name: %q", name)
	}
	return nil
}

// ValidateSource validates free text (preamble or body) sent to the compiler.
//
// Validation rules:
//   - Must be valid UTF-8
//   - No null bytes (the cache key uses 0x00 as separator)
//   - No control characters other than tab, newline and carriage return
//   - Maximum length of MaxSourceBytes
func ValidateSource(field, text string) error {
	if len(text) > MaxSourceBytes {
		return New(ErrCodeInvalidInput, "%s too long (max %d bytes)", field, MaxSourceBytes)
	}
	if !utf8.ValidString(text) {
		return New(ErrCodeInvalidInput, "%s is not valid UTF-8", field)
	}
	for _, r := range text {
		if r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if r == 0 || unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "%s contains invalid control characters", field)
		}
	}
	return nil
}

// ValidatePasses validates a compile pass count against an upper bound.
func ValidatePasses(passes, max int) error {
	if passes < 1 {
		return New(ErrCodeInvalidInput, "compile passes must be at least 1, got %d", passes)
	}
	if passes > max {
		return New(ErrCodeInvalidInput, "compile passes must be at most %d, got %d", max, passes)
	}
	return nil
}

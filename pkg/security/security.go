package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/resumelab/resume-orchestrator/pkg/core"
)

// Security limits and configuration
const (
	// MaxIDLength is the maximum length for owner and target identifiers
	MaxIDLength = 64

	// MaxPayloadSize is the maximum size in bytes for checkpoint payloads (1MB)
	MaxPayloadSize = 1 << 20

	// MaxRetries is the hard limit for queue job retry attempts
	MaxRetries = 25

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxDebounceKeyLength is the maximum length for debounce keys
	MaxDebounceKeyLength = 255

	// MaxFileNameLength is the maximum length for uploaded file names
	MaxFileNameLength = 255
)

// validID matches alphanumeric, hyphens, underscores, and dots
var validID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.]*$`)

// ValidateOwnerID validates an owner identifier
func ValidateOwnerID(id string) error {
	if id == "" || len(id) > MaxIDLength || !validID.MatchString(id) {
		return core.ErrInvalidOwnerID
	}
	return nil
}

// ValidateTargetID validates a target identifier
func ValidateTargetID(id string) error {
	if id == "" || len(id) > MaxIDLength || !validID.MatchString(id) {
		return core.ErrInvalidTargetID
	}
	return nil
}

// ValidateDebounceKey validates a debounce key length
func ValidateDebounceKey(key string) error {
	if len(key) > MaxDebounceKeyLength {
		return core.ErrDebounceKeyTooLong
	}
	return nil
}

// ValidatePayloadSize enforces the payload size limit
func ValidatePayloadSize(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return core.ErrPayloadTooLarge
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	// Truncate if too long
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// SanitizeFileName strips path separators and truncates overly long names
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if len(name) > MaxFileNameLength {
		name = name[:MaxFileNameLength]
	}
	return name
}

// ClampRetries ensures retry count is within limits
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetries {
		return MaxRetries
	}
	return n
}

// ClampProgress bounds a progress fraction to [0,1]
func ClampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

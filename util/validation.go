package util

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// Pre-compiled regex for WebFinger username validation
var webFingerValidCharsRegex = regexp.MustCompile(`^[A-Za-z0-9\-._~!$&'()*+,;=]+$`)

var contentPolicy = newContentPolicy()

func newContentPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowImages()
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)
	return p
}

// ErrContentTooLarge is returned when remote content exceeds the configured byte limit
var ErrContentTooLarge = fmt.Errorf("content exceeds maximum size")

// ValidateContent enforces the byte limit on raw remote HTML and returns it sanitized.
// The limit applies before sanitizing so an oversized document is never partially stored.
func ValidateContent(content string, maxBytes int) (string, error) {
	if maxBytes > 0 && len(content) > maxBytes {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrContentTooLarge, len(content), maxBytes)
	}
	return SanitizeContent(content), nil
}

// SanitizeContent strips markup the content policy does not allow
func SanitizeContent(content string) string {
	return strings.TrimSpace(contentPolicy.Sanitize(content))
}

// IsValidWebFingerUsername validates that a username meets WebFinger/ActivityPub requirements.
//
// WebFinger allows these characters without percent-encoding:
// A-Z a-z 0-9 - . _ ~ ! $ & ' ( ) * + , ; =
//
// Returns (true, "") if valid, or (false, "error message") if invalid.
func IsValidWebFingerUsername(username string) (bool, string) {
	if len(username) == 0 {
		return false, "Username must be at least 1 character"
	}

	if !webFingerValidCharsRegex.MatchString(username) {
		return false, "Username contains invalid characters. Only A-Z, a-z, 0-9, and -._~!$&'()*+,;= are allowed"
	}

	for _, r := range username {
		if unicode.IsControl(r) || !unicode.IsPrint(r) {
			return false, "Username contains non-printable characters"
		}
	}

	return true, ""
}

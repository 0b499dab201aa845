package security

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError is returned when a tenant id is malformed.
type ValidationError struct {
	TenantID string
	Reason   string
}

func (err ValidationError) Error() string {
	return fmt.Sprintf("security: invalid tenant id %q, %s", err.TenantID, err.Reason)
}

// IsValidation reports whether the error chain contains a ValidationError.
func IsValidation(err error) bool {
	var validationErr ValidationError
	return errors.As(err, &validationErr)
}

func allowed(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
}

func isEdge(r rune) bool { return r == '-' || r == '_' }

// Sanitize strips the characters not allowed in a tenant id, trims leading
// and trailing '-' and '_', and truncates the result to maxLength.
//
// Sanitize is meant for free-form sources, like inbound headers.
func Sanitize(raw string, maxLength int) string {
	var b strings.Builder

	for _, r := range raw {
		if allowed(r) {
			b.WriteRune(r)
		}
	}

	s := strings.TrimFunc(b.String(), isEdge)

	if maxLength > 0 && len(s) > maxLength {
		s = strings.TrimRightFunc(s[:maxLength], isEdge)
	}

	return s
}

// CheckFormat validates a tenant id: non-blank, at most maxLength characters,
// only alphanumerics, '-' and '_', not starting or ending with '-' or '_'.
func CheckFormat(id string, maxLength int) error {
	switch {
	case strings.TrimSpace(id) == "":
		return ValidationError{TenantID: id, Reason: "must not be blank"}
	case len(id) > maxLength:
		return ValidationError{TenantID: id, Reason: fmt.Sprintf("longer than %d characters", maxLength)}
	case strings.IndexFunc(id, func(r rune) bool { return !allowed(r) }) >= 0:
		return ValidationError{TenantID: id, Reason: "contains characters other than [A-Za-z0-9_-]"}
	case isEdge(rune(id[0])) || isEdge(rune(id[len(id)-1])):
		return ValidationError{TenantID: id, Reason: "must not start or end with '-' or '_'"}
	}

	return nil
}

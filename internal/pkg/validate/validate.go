package validate

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func Required(value string) bool {
	return strings.TrimSpace(value) != ""
}

// Email accepts the loose shape local@domain.tld; providers do the real
// verification, this only filters obvious typos before we persist a contact.
func Email(value string) bool {
	return emailPattern.MatchString(strings.TrimSpace(value))
}

// Package username checks candidate chain usernames.
package username

import "strings"

// Reasons returned by Validate. Empty string means the name is valid.
const (
	Empty             = "EMPTY"
	TooShort          = "TOO_SHORT"
	TooLong           = "TOO_LONG"
	InvalidCharacters = "INVALID_CHARACTERS"
	StartWith         = "START_WITH"
	SeveralDots       = "SEVERAL_DOTS"
	SeveralDashes     = "SEVERAL_DASHES"
	DotDash           = "DOT_DASH"
	EndWith           = "END_WITH"
)

const (
	minLength = 3
	maxLength = 32
)

// Validate returns the first rule name violates, or "" when it is acceptable.
func Validate(name string) string {
	switch {
	case name == "":
		return Empty
	case len(name) < minLength:
		return TooShort
	case len(name) > maxLength:
		return TooLong
	case strings.IndexFunc(name, func(r rune) bool { return !isLower(r) && !isDigit(r) && r != '.' && r != '-' }) >= 0:
		return InvalidCharacters
	case !isLower(rune(name[0])):
		return StartWith
	case strings.Contains(name, ".."):
		return SeveralDots
	case strings.Contains(name, "--"):
		return SeveralDashes
	case strings.Contains(name, ".-") || strings.Contains(name, "-."):
		return DotDash
	}
	last := rune(name[len(name)-1])
	if !isLower(last) && !isDigit(last) {
		return EndWith
	}
	return ""
}

func isLower(r rune) bool { return r >= 'a' && r <= 'z' }
func isDigit(r rune) bool { return r >= '0' && r <= '9' }

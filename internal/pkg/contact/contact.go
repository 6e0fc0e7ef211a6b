// Package contact resolves the phone, email or identity a request names into
// the single canonical form registrations are stored under.
package contact

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-registration-api/internal/domain"
	"github.com/go-registration-api/internal/pkg/validate"
	sha256 "github.com/minio/sha256-simd"
)

// salt is prefixed to the contact before hashing. Changing it orphans every stored key.
const salt = "COMMUN"

var phoneMask = regexp.MustCompile(`^(...)(.*)(..)$`)

// Contact is one of phone, email or identity. Only Identity carries a Provider.
type Contact struct {
	Channel  domain.Channel
	Value    string
	Provider string
}

// Phone normalizes raw to E.164, adding the leading '+' when missing.
func Phone(raw string) (Contact, error) {
	v := strings.Join(strings.Fields(raw), "")
	if v != "" && !strings.HasPrefix(v, "+") {
		v = "+" + v
	}
	if err := validate.Var(v, "required,e164"); err != nil {
		return Contact{}, fmt.Errorf("phone %q: %w", raw, domain.ErrInvalidContact.WithReason(err.Error()))
	}
	return Contact{Channel: domain.ChannelPhone, Value: v}, nil
}

// Email lowercases and trims raw, then checks it is address-shaped.
func Email(raw string) (Contact, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if err := validate.Var(v, "required,email"); err != nil {
		return Contact{}, fmt.Errorf("email %q: %w", raw, domain.ErrInvalidContact.WithReason(err.Error()))
	}
	return Contact{Channel: domain.ChannelEmail, Value: v}, nil
}

// Identity wraps an OAuth identity. The provider is informational only; the key
// depends on the identity alone.
func Identity(identity, provider string) (Contact, error) {
	v := strings.TrimSpace(identity)
	if v == "" {
		return Contact{}, fmt.Errorf("identity: %w", domain.ErrInvalidContact.WithReason("empty identity"))
	}
	return Contact{Channel: domain.ChannelIdentity, Value: v, Provider: provider}, nil
}

// Resolve picks the single contact a request names. Naming none or several is invalid.
func Resolve(phone, email, identity string) (Contact, error) {
	given := 0
	for _, s := range []string{phone, email, identity} {
		if s != "" {
			given++
		}
	}
	if given != 1 {
		return Contact{}, domain.ErrInvalidContact.WithReason("exactly one of phone, email, identity is required")
	}
	switch {
	case phone != "":
		return Phone(phone)
	case email != "":
		return Email(email)
	default:
		return Identity(identity, "")
	}
}

// Hash is the salted hash records are keyed by.
func (c Contact) Hash() string { return SaltedHash(c.Value) }

// Key is the partition key of the registration for this contact.
func (c Contact) Key() string { return string(c.Channel) + "#" + c.Hash() }

// Masked is the form stored once registration completes.
func (c Contact) Masked() string {
	if c.Channel == domain.ChannelEmail {
		if at := strings.LastIndex(c.Value, "@"); at >= 0 {
			return "****" + c.Value[at:]
		}
	}
	return MaskPhone(c.Value)
}

// SaltedHash returns hex(sha256(salt + value)).
func SaltedHash(value string) string {
	return PlainHash(salt + value)
}

// PlainHash returns hex(sha256(value)).
func PlainHash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// MaskPhone keeps the first three and last two characters and stars the rest.
func MaskPhone(phone string) string {
	m := phoneMask.FindStringSubmatch(phone)
	if m == nil {
		return strings.Repeat("*", len(phone))
	}
	return m[1] + strings.Repeat("*", len(m[2])) + m[3]
}

package id

import (
	"crypto/rand"
	"strings"

	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string. ULIDs are lexicographically sortable
// by creation time.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// Memo builds a transfer memo such as "referral:01HV...". The ULID suffix lets
// the chain side deduplicate replays of the same transfer.
func Memo(kind string) string {
	return kind + ":" + strings.ToLower(New())
}

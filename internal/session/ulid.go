package session

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a fresh 26-char Crockford Base32 ULID, lexicographically
// time-sortable (spec §3.1).
func NewULID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ValidULID reports whether id is a syntactically valid ULID.
func ValidULID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

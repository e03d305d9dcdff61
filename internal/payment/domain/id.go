package domain

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// entropy is shared by all generators; the locked reader keeps ids
// monotonic within one millisecond under concurrent use.
var entropy = &ulid.LockedMonotonicReader{
	MonotonicReader: ulid.Monotonic(rand.Reader, 0),
}

// NewID returns a 26-character ULID: a millisecond timestamp prefix plus
// 80 bits of entropy, rendered in uppercase Crockford Base32. Identifiers
// generated in distinct milliseconds sort chronologically.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

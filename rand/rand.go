// Package rand produces handshake filler bytes and identifiers for sessions and consumers.
package rand

import (
	cryptoRand "crypto/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Fill fills b with cryptographically safe random data.
func Fill(b []byte) error {
	if _, err := cryptoRand.Read(b); err != nil {
		return errors.Wrap(err, "rand: read")
	}
	return nil
}

// UUID returns a new UUID in its hyphenated form.
func UUID() string {
	return uuid.NewString()
}

// ShortID returns the first group of a new UUID, enough to tell apart the clients of the
// stats stream.
func ShortID() string {
	id, _, _ := strings.Cut(uuid.NewString(), "-")
	return id
}

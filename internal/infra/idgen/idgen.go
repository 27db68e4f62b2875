// Package idgen generates session, item and secret identifiers.
package idgen

import (
	"math/rand/v2"
	"strings"

	"github.com/cockroachdb/errors"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	sessionAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits          = "0123456789"
)

// SessionID returns an upper-case identifier of length n.
func SessionID(n int) (string, error) {
	id, err := gonanoid.Generate(sessionAlphabet, n)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate session id")
	}
	return id, nil
}

// ItemID returns a URL-safe identifier of length n.
func ItemID(n int) (string, error) {
	id, err := gonanoid.New(n)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate item id")
	}
	return id, nil
}

// Secret returns a numeric string of exactly n digits without a leading zero.
// It is not meant to be cryptographically unguessable.
func Secret(n int) string {
	if n <= 0 {
		n = 4
	}
	var b strings.Builder
	b.Grow(n)
	b.WriteByte(digits[1+rand.IntN(9)])
	for i := 1; i < n; i++ {
		b.WriteByte(digits[rand.IntN(10)])
	}
	return b.String()
}

package crypto

import (
	"crypto/rand"

	"proteus/internal/domain"
)

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// NewSessionTag returns a fresh random SessionTag.
func NewSessionTag() (domain.SessionTag, error) {
	var tag domain.SessionTag
	if _, err := rand.Read(tag[:]); err != nil {
		return tag, err
	}
	return tag, nil
}

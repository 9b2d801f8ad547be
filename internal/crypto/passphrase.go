package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"proteus/internal/util/memzero"
)

const (
	// KeyBytes is the length of an Argon2id-derived key-encryption key.
	KeyBytes = 32
	// SaltBytes is the length of the per-secret Argon2id salt.
	SaltBytes = 16
	// NonceBytes is the ChaCha20-Poly1305 nonce length.
	NonceBytes = chacha20poly1305.NonceSize
)

// DeriveKEK derives a key-encryption key from a passphrase and salt using
// Argon2id with the parameters recommended by the RFC 9106 low-memory
// profile.
func DeriveKEK(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 3, 64*1024, 4, KeyBytes)
}

// EncryptSecret seals plaintext under a KEK derived from passphrase and
// salt, zeroising plaintext once sealed.
func EncryptSecret(passphrase string, plaintext, salt []byte) (nonce, ciphertext []byte, err error) {
	if len(salt) != SaltBytes {
		return nil, nil, errors.New("crypto: invalid salt size")
	}
	kek := DeriveKEK(passphrase, salt)
	defer Wipe(kek)

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, NonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	ct := aead.Seal(nil, nonce, plaintext, nil)
	memzero.Zero(plaintext)
	return nonce, ct, nil
}

// DecryptSecret opens a ciphertext produced by EncryptSecret.
func DecryptSecret(passphrase string, salt, nonce, ciphertext []byte) ([]byte, error) {
	if len(salt) != SaltBytes {
		return nil, errors.New("crypto: invalid salt size")
	}
	kek := DeriveKEK(passphrase, salt)
	defer Wipe(kek)

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}

package store

import (
	"encoding/hex"
	"encoding/pem"
	"errors"
	"os"

	"proteus/internal/crypto"
	"proteus/internal/domain"
)

const (
	pemTypePlain  = "PROTEUS IDENTITY KEY"
	pemTypeSealed = "PROTEUS SEALED IDENTITY KEY"

	identityRawSize = 32 + 32 + 32 + 64 // XPub || XPriv || EdPub || EdPriv
)

// encodeIdentity concatenates an identity key pair's raw key material in a
// fixed field order, the same raw-concatenation-then-PEM-wrap shape used
// for hybrid Ed25519/X25519 bundles elsewhere in the retrieval pack.
func encodeIdentity(id domain.IdentityKeyPair) []byte {
	b := make([]byte, 0, identityRawSize)
	b = append(b, id.XPub[:]...)
	b = append(b, id.XPriv[:]...)
	b = append(b, id.EdPub[:]...)
	b = append(b, id.EdPriv[:]...)
	return b
}

func decodeIdentity(b []byte) (domain.IdentityKeyPair, error) {
	if len(b) != identityRawSize {
		return domain.IdentityKeyPair{}, errors.New("store: malformed identity key material")
	}
	var id domain.IdentityKeyPair
	copy(id.XPub[:], b[0:32])
	copy(id.XPriv[:], b[32:64])
	copy(id.EdPub[:], b[64:96])
	copy(id.EdPriv[:], b[96:160])
	return id, nil
}

// SaveIdentity PEM-encodes an identity key pair to path. If passphrase is
// non-empty, the key material is sealed with an Argon2id-derived key
// before being PEM-wrapped; the salt and nonce travel as PEM block headers
// alongside the ciphertext body.
func SaveIdentity(path string, id domain.IdentityKeyPair, passphrase string) error {
	raw := encodeIdentity(id)

	if passphrase == "" {
		block := &pem.Block{Type: pemTypePlain, Bytes: raw}
		defer crypto.Wipe(raw)
		return atomicWrite(path, pem.EncodeToMemory(block))
	}
	defer crypto.Wipe(raw)

	salt, err := crypto.RandomBytes(crypto.SaltBytes)
	if err != nil {
		return err
	}
	nonce, ciphertext, err := crypto.EncryptSecret(passphrase, raw, salt)
	if err != nil {
		return err
	}
	block := &pem.Block{
		Type: pemTypeSealed,
		Headers: map[string]string{
			"Salt":  hex.EncodeToString(salt),
			"Nonce": hex.EncodeToString(nonce),
		},
		Bytes: ciphertext,
	}
	return atomicWrite(path, pem.EncodeToMemory(block))
}

// LoadIdentity reads and, if sealed, decrypts a PEM-encoded identity key
// pair from path.
func LoadIdentity(path string, passphrase string) (domain.IdentityKeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.IdentityKeyPair{}, os.ErrNotExist
		}
		return domain.IdentityKeyPair{}, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return domain.IdentityKeyPair{}, errors.New("store: identity file is not valid PEM")
	}

	switch block.Type {
	case pemTypePlain:
		return decodeIdentity(block.Bytes)
	case pemTypeSealed:
		salt, err := hex.DecodeString(block.Headers["Salt"])
		if err != nil {
			return domain.IdentityKeyPair{}, errors.New("store: sealed identity file has a malformed salt header")
		}
		nonce, err := hex.DecodeString(block.Headers["Nonce"])
		if err != nil {
			return domain.IdentityKeyPair{}, errors.New("store: sealed identity file has a malformed nonce header")
		}
		raw, err := crypto.DecryptSecret(passphrase, salt, nonce, block.Bytes)
		if err != nil {
			return domain.IdentityKeyPair{}, err
		}
		defer crypto.Wipe(raw)
		return decodeIdentity(raw)
	default:
		return domain.IdentityKeyPair{}, errors.New("store: unrecognised identity PEM block type")
	}
}

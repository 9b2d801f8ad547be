package crypto

import "proteus/internal/domain"

// GenerateIdentityKeyPair produces a fresh long-term identity: an X25519
// pair for Diffie-Hellman agreement and an Ed25519 pair for signing
// pre-key bundles.
func GenerateIdentityKeyPair() (domain.IdentityKeyPair, error) {
	xpriv, xpub, err := GenerateX25519()
	if err != nil {
		return domain.IdentityKeyPair{}, err
	}
	edpriv, edpub, err := GenerateEd25519()
	if err != nil {
		return domain.IdentityKeyPair{}, err
	}
	return domain.IdentityKeyPair{
		XPub:   xpub,
		XPriv:  xpriv,
		EdPub:  edpub,
		EdPriv: edpriv,
	}, nil
}

// IdentityFingerprint returns the stable fingerprint of an IdentityKey,
// derived from its X25519 public half the same way FingerprintX25519 does.
func IdentityFingerprint(id domain.IdentityKey) domain.Fingerprint {
	return domain.Fingerprint(FingerprintX25519(id.XPub))
}

// KeyPairFingerprint returns the fingerprint of the public half of an
// IdentityKeyPair.
func KeyPairFingerprint(kp domain.IdentityKeyPair) domain.Fingerprint {
	return IdentityFingerprint(kp.Public())
}

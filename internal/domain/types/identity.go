package types

// IdentityKeyPair is the long-term asymmetric key material owned by one
// party: an X25519 pair for Diffie-Hellman agreement and an Ed25519 pair for
// signing pre-key bundles.
type IdentityKeyPair struct {
	XPub   X25519Public   `json:"xpub"`
	XPriv  X25519Private  `json:"xpriv"`
	EdPub  Ed25519Public  `json:"edpub"`
	EdPriv Ed25519Private `json:"edpriv"`
}

// Public returns the public half of the pair.
func (kp IdentityKeyPair) Public() IdentityKey {
	return IdentityKey{XPub: kp.XPub, EdPub: kp.EdPub}
}

// IdentityKey is the public half of a remote party's long-term identity.
type IdentityKey struct {
	XPub  X25519Public  `json:"xpub"`
	EdPub Ed25519Public `json:"edpub"`
}

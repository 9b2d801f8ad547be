package interfaces

import domaintypes "proteus/internal/domain/types"

// SessionState is the ratchet collaborator a Session drives: it owns one
// branch's Diffie-Hellman ratchet and knows how to seal and open messages
// on it, and how to serialise itself for the Session-level codec.
type SessionState interface {
	Encrypt(localIdentity domaintypes.IdentityKey, pending *domaintypes.PendingPreKey, tag domaintypes.SessionTag, plaintext []byte) (domaintypes.Envelope, error)
	Decrypt(msg domaintypes.CipherMessage) ([]byte, error)
	Clone() SessionState
	Encode() domaintypes.RatchetState
}

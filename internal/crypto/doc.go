// Package crypto exposes the minimal primitives Proteus sessions are built
// from.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie-Hellman (GenerateX25519, DH)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - Long-term identity key pair generation and fingerprinting
//     (GenerateIdentityKeyPair, IdentityFingerprint)
//   - Passphrase-based secret sealing for at-rest identity storage
//     (DeriveKEK, EncryptSecret, DecryptSecret)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Key generation functions return fixed-size array types defined in
// internal/domain to avoid accidental reallocations; signatures, derived
// keys, random bytes and fingerprints are returned as slices or strings. Callers should treat returned secrets as
// sensitive and rely on Wipe when practical to reduce lifetime in memory.
package crypto

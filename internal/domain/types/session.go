package types

import "encoding/hex"

// SessionTagSize is the byte length of a SessionTag.
const SessionTagSize = 16

// SessionTag opaquely names one ratchet branch within a Session. Two tags
// are equal iff their bytes are equal; the hex string form is the canonical
// map key used to index a Session's state table.
type SessionTag [SessionTagSize]byte

// String returns the lowercase hex encoding of the tag, used as the
// canonical session-state map key.
func (t SessionTag) String() string {
	return hex.EncodeToString(t[:])
}

// Equal reports whether two tags have identical bytes.
func (t SessionTag) Equal(other SessionTag) bool {
	return t == other
}

// IsZero reports whether the tag is the zero value (never a valid random
// tag in practice, used as a construction-time sentinel).
func (t SessionTag) IsZero() bool {
	return t == SessionTag{}
}

package proteus

import (
	"context"
	"errors"
	"math"

	"proteus/internal/crypto"
	"proteus/internal/domain"
	"proteus/internal/log"
	"proteus/internal/ratchet"
	"proteus/internal/util/memzero"
)

// sessionStateEntry wraps one ratchet branch with its insertion index, used
// to pick a deterministic eviction victim when the state table is full.
type sessionStateEntry struct {
	idx   uint64
	tag   domain.SessionTag
	state domain.SessionState
}

// Session is the double-ratchet state machine between two identities. It is
// not safe for concurrent use: callers must externally serialise calls on
// a given Session.
type Session struct {
	localIdentity  domain.IdentityKeyPair
	remoteIdentity domain.IdentityKey

	sessionTag     domain.SessionTag
	sessionTagName string
	pendingPreKey  *domain.PendingPreKey

	states  map[string]*sessionStateEntry
	counter uint64
}

// InitFromPreKey begins a new session as the initiator ("Alice"), running
// an X3DH-style handshake against a responder's published pre-key bundle.
// It never consumes a pre-key from any store: the bundle's pre-key belongs
// to the remote party.
func InitFromPreKey(ctx context.Context, localIdentity domain.IdentityKeyPair, remoteBundle domain.PreKeyBundle) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// None of these three failures has a catalogued case code: CASE_101 is
	// reserved specifically for a missing prekey in newRatchetState. Propagate
	// the raw error instead of overloading that code.
	baseKeyPriv, baseKeyPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}

	state, err := ratchet.InitAsAlice(localIdentity, baseKeyPriv, baseKeyPub, remoteBundle)
	if err != nil {
		return nil, err
	}

	tag, err := crypto.NewSessionTag()
	if err != nil {
		return nil, err
	}

	s := &Session{
		localIdentity:  localIdentity,
		remoteIdentity: remoteBundle.IdentityKey,
		pendingPreKey: &domain.PendingPreKey{
			PreKeyID: remoteBundle.PreKeyID,
			BaseKey:  baseKeyPub,
		},
		states: make(map[string]*sessionStateEntry),
	}
	s.insertSessionState(tag, state)

	log.Tracef("session: init_from_prekey tag=%s prekey_id=%d", tag, remoteBundle.PreKeyID)
	return s, nil
}

// InitFromMessage begins a new session as the responder ("Bob") from an
// inbound envelope, which must carry a PreKeyMessage. It decrypts and
// returns the first plaintext, and consumes the identified pre-key from
// store (unless it is the MaxPreKeyID last-resort pre-key).
func InitFromMessage(ctx context.Context, localIdentity domain.IdentityKeyPair, store domain.PreKeyStore, env domain.Envelope) (*Session, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	if env.Cipher != nil {
		return nil, nil, newDecryptError("InitFromMessage", "InvalidMessage", "CASE_201", ErrExpectedPreKeyInit)
	}
	if env.PreKey == nil {
		return nil, nil, newDecryptError("InitFromMessage", "InvalidMessage", "CASE_202", ErrUnknownEnvelope)
	}
	pkMsg := env.PreKey

	s := &Session{
		localIdentity:  localIdentity,
		remoteIdentity: pkMsg.IdentityKey,
		states:         make(map[string]*sessionStateEntry),
	}

	state, err := s.newRatchetState(ctx, store, pkMsg)
	if err != nil {
		return nil, nil, err
	}

	plaintext, err := state.Decrypt(pkMsg.Message)
	if err != nil {
		return nil, nil, err
	}

	s.insertSessionState(pkMsg.Message.SessionTag, state)

	if pkMsg.PreKeyID != domain.MaxPreKeyID {
		if err := consumePreKey(ctx, store, pkMsg.PreKeyID); err != nil {
			return nil, nil, newDecryptError("InitFromMessage", "PrekeyNotFound", "CASE_203", err)
		}
	}

	log.Tracef("session: init_from_message tag=%s prekey_id=%d", pkMsg.Message.SessionTag, pkMsg.PreKeyID)
	return s, plaintext, nil
}

// newRatchetState loads the identified pre-key and builds a fresh ratchet
// branch as the responder.
func (s *Session) newRatchetState(ctx context.Context, store domain.PreKeyStore, pkMsg *domain.PreKeyMessage) (domain.SessionState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pk, err := store.LoadPreKey(ctx, pkMsg.PreKeyID)
	if err != nil {
		return nil, newProteusError("newRatchetState", "CASE_101", err)
	}
	if pk == nil {
		return nil, newProteusError("newRatchetState", "CASE_101", ErrPreKeyNotInStore)
	}
	return ratchet.InitAsBob(s.localIdentity, *pk, pkMsg.IdentityKey, pkMsg.BaseKey)
}

// consumePreKey loads, zeroises, and deletes a one-time pre-key. The
// zeroise step runs even if the subsequent delete fails.
func consumePreKey(ctx context.Context, store domain.PreKeyStore, id uint16) error {
	pk, err := store.LoadPreKey(ctx, id)
	if err != nil {
		return err
	}
	if pk != nil {
		memzero.Zero(pk.Private[:])
	}
	return store.DeletePreKey(ctx, id)
}

// insertSessionState applies the deterministic insert/replace/evict policy:
// a state under an existing tag replaces in place without touching its
// insertion index; a state under a new tag is inserted with the next
// counter value. Either way the tag becomes current, and eviction runs if
// the table is now at capacity.
func (s *Session) insertSessionState(tag domain.SessionTag, state domain.SessionState) {
	name := tag.String()

	if existing, ok := s.states[name]; ok {
		existing.state = state
	} else {
		if s.counter == math.MaxUint64 {
			s.states = make(map[string]*sessionStateEntry)
			s.counter = 0
		}
		s.states[name] = &sessionStateEntry{idx: s.counter, tag: tag, state: state}
		s.counter++
	}

	if name != s.sessionTagName {
		s.sessionTag = tag
		s.sessionTagName = name
	}

	if len(s.states) >= domain.MaxSessionStates {
		s.evictOldestSessionState()
	}
}

// evictOldestSessionState removes the non-current entry with the smallest
// insertion index, zeroising its ratchet state first.
func (s *Session) evictOldestSessionState() {
	var oldestName string
	var oldestIdx uint64
	found := false

	for name, entry := range s.states {
		if name == s.sessionTagName {
			continue
		}
		if !found || entry.idx < oldestIdx {
			oldestName, oldestIdx, found = name, entry.idx, true
		}
	}
	if !found {
		return
	}
	zeroiseRatchetState(s.states[oldestName].state.Encode())
	delete(s.states, oldestName)
	log.Debugf("session: evicted ratchet branch tag=%s idx=%d", oldestName, oldestIdx)
}

func zeroiseRatchetState(rs domain.RatchetState) {
	memzero.Zero(rs.RootKey)
	memzero.Zero(rs.DHPriv[:])
	memzero.Zero(rs.SendCK)
	memzero.Zero(rs.RecvCK)
	for _, mk := range rs.Skipped {
		memzero.Zero(mk)
	}
}

// Encrypt seals plaintext under the current ratchet branch, embedding the
// pending pre-key handshake if one is outstanding.
func (s *Session) Encrypt(ctx context.Context, plaintext []byte) (domain.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return domain.Envelope{}, err
	}
	entry, ok := s.states[s.sessionTagName]
	if !ok {
		return domain.Envelope{}, newProteusError("Encrypt", "CASE_102", ErrNoSessionForTag)
	}
	return entry.state.Encrypt(s.localIdentity.Public(), s.pendingPreKey, s.sessionTag, plaintext)
}

// Decrypt opens an inbound envelope. On success the session's state table
// reflects the advanced ratchet; on failure it is left exactly as it was.
func (s *Session) Decrypt(ctx context.Context, store domain.PreKeyStore, env domain.Envelope) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch {
	case env.Cipher != nil:
		return s.decryptCipherMessage(*env.Cipher)
	case env.PreKey != nil:
		return s.decryptPreKeyMessage(ctx, store, *env.PreKey)
	default:
		return nil, newDecryptError("Decrypt", "", "CASE_200", ErrUnknownEnvelope)
	}
}

// decryptCipherMessage decrypts against an established branch. The branch
// is cloned before decryption so a failed attempt never mutates live
// state.
func (s *Session) decryptCipherMessage(msg domain.CipherMessage) ([]byte, error) {
	entry, ok := s.states[msg.SessionTag.String()]
	if !ok {
		return nil, newDecryptError("Decrypt", "InvalidMessage", "CASE_205", ErrNoStateForTag)
	}

	clone := entry.state.Clone()
	pt, err := clone.Decrypt(msg)
	if err != nil {
		return nil, err
	}

	s.pendingPreKey = nil
	s.insertSessionState(msg.SessionTag, clone)
	return pt, nil
}

// decryptPreKeyMessage authenticates the sender's identity, tries the
// existing branch first, and on a signature/invalid-message failure
// establishes a fresh branch from the embedded handshake parameters.
func (s *Session) decryptPreKeyMessage(ctx context.Context, store domain.PreKeyStore, pkMsg domain.PreKeyMessage) ([]byte, error) {
	if crypto.IdentityFingerprint(pkMsg.IdentityKey) != crypto.IdentityFingerprint(s.remoteIdentity) {
		return nil, newDecryptError("Decrypt", "RemoteIdentityChanged", "CASE_204", ErrRemoteIdentityMoved)
	}

	if pt, err := s.decryptCipherMessage(pkMsg.Message); err == nil {
		return pt, nil
	} else if !errors.Is(err, ratchet.ErrInvalidSignature) && !errors.Is(err, ratchet.ErrInvalidMessage) && !errors.Is(err, ErrNoStateForTag) {
		return nil, err
	}

	state, err := s.newRatchetState(ctx, store, &pkMsg)
	if err != nil {
		return nil, err
	}
	pt, err := state.Decrypt(pkMsg.Message)
	if err != nil {
		return nil, err
	}

	if pkMsg.PreKeyID != domain.MaxPreKeyID {
		if err := consumePreKey(ctx, store, pkMsg.PreKeyID); err != nil {
			return nil, err
		}
	}

	s.pendingPreKey = nil
	s.insertSessionState(pkMsg.Message.SessionTag, state)
	return pt, nil
}

// RemoteIdentity returns the remote party's identity key.
func (s *Session) RemoteIdentity() domain.IdentityKey { return s.remoteIdentity }

// SessionTag returns the tag of the currently active ratchet branch.
func (s *Session) SessionTag() domain.SessionTag { return s.sessionTag }

// HasPendingPreKey reports whether an Alice-initiated handshake remains
// unconfirmed.
func (s *Session) HasPendingPreKey() bool { return s.pendingPreKey != nil }

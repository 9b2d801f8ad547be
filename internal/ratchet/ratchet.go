// Package ratchet implements the concrete Diffie-Hellman double ratchet
// that backs a Session's SessionState collaborator: X3DH-style initial
// root-key agreement, HKDF-based chain advancement, ChaCha20-Poly1305
// sealing, and a bounded skipped-message-key cache for reordering
// tolerance.
package ratchet

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"proteus/internal/crypto"
	"proteus/internal/domain"
	"proteus/internal/util/memzero"
)

const (
	aeadKeySize   = 32
	nonceSize     = chacha20poly1305.NonceSize
	maxSkippedMK  = domain.MaxSkippedMessageKeys
	maxRecvChains = domain.MaxRecvChains
)

// Sentinel errors of the ratchet layer. Decrypt returns ErrInvalidMessage
// and ErrDuplicateMessage; ErrInvalidSignature and ErrSkippedKeyNotFound
// are declared for errors.Is matching but are not returned by this package.
// ErrInvalidSignature and ErrInvalidMessage are the only two kinds a
// Session recovers from locally by establishing a fresh ratchet branch; any
// other error propagates unchanged.
var (
	ErrSkippedKeyNotFound = errors.New("ratchet: skipped message key not found")
	ErrInvalidMessage     = errors.New("ratchet: invalid message")
	ErrInvalidSignature   = errors.New("ratchet: invalid pre-key signature")
	ErrDuplicateMessage   = errors.New("ratchet: duplicate message")
	errChainUninitialised = errors.New("ratchet: chain key is uninitialised")
)

// State is the concrete domain.SessionState implementation: one branch's
// Diffie-Hellman ratchet.
type State struct {
	st domain.RatchetState
}

var _ domain.SessionState = (*State)(nil)

// InitAsAlice derives the initial root key via X3DH from the initiator's
// side and seeds a sending chain, using aliceBase as both the X3DH
// ephemeral key and the first ratchet DH keypair.
func InitAsAlice(localIdentity domain.IdentityKeyPair, aliceBase domain.X25519Private, aliceBasePub domain.X25519Public, remoteBundle domain.PreKeyBundle) (*State, error) {
	dh1, err := crypto.DH(localIdentity.XPriv, remoteBundle.PreKeyPublic) // DH(IK_A, SPK_B)
	if err != nil {
		return nil, err
	}
	dh2, err := crypto.DH(aliceBase, remoteBundle.IdentityKey.XPub) // DH(EK_A, IK_B)
	if err != nil {
		return nil, err
	}
	dh3, err := crypto.DH(aliceBase, remoteBundle.PreKeyPublic) // DH(EK_A, SPK_B)
	if err != nil {
		return nil, err
	}
	root := x3dhRoot(dh1, dh2, dh3)

	newRK, sendCK := kdfRK(root, dh3[:])
	memzero.Zero(root)

	return &State{st: domain.RatchetState{
		RootKey:   newRK,
		DHPriv:    aliceBase,
		DHPub:     aliceBasePub,
		PeerDHPub: remoteBundle.PreKeyPublic,
		SendCK:    sendCK,
		RecvCK:    nil,
		Skipped:   make(map[string][]byte),
	}}, nil
}

// InitAsBob derives the same root key from the responder's side, using the
// consumed pre-key as the first ratchet DH keypair, and seeds a receiving
// chain against the initiator's base key.
func InitAsBob(localIdentity domain.IdentityKeyPair, ourPreKey domain.PreKey, remoteIdentity domain.IdentityKey, remoteBaseKey domain.X25519Public) (*State, error) {
	dh1, err := crypto.DH(ourPreKey.Private, remoteIdentity.XPub) // DH(SPK_B, IK_A)
	if err != nil {
		return nil, err
	}
	dh2, err := crypto.DH(localIdentity.XPriv, remoteBaseKey) // DH(IK_B, EK_A)
	if err != nil {
		return nil, err
	}
	dh3, err := crypto.DH(ourPreKey.Private, remoteBaseKey) // DH(SPK_B, EK_A)
	if err != nil {
		return nil, err
	}
	root := x3dhRoot(dh1, dh2, dh3)

	newRK, recvCK := kdfRK(root, dh3[:])
	memzero.Zero(root)

	return &State{st: domain.RatchetState{
		RootKey:    newRK,
		DHPriv:     ourPreKey.Private,
		DHPub:      ourPreKey.Public,
		PeerDHPub:  remoteBaseKey,
		SendCK:     nil,
		RecvCK:     recvCK,
		Skipped:    make(map[string][]byte),
		RecvChains: []domain.X25519Public{remoteBaseKey},
	}}, nil
}

// VerifyPreKeyBundle checks the Ed25519 signature binding a pre-key bundle
// to its issuer's identity signing key. Callers opt into this check; no
// Session operation invokes it implicitly.
func VerifyPreKeyBundle(bundle domain.PreKeyBundle) bool {
	return crypto.VerifyEd25519(bundle.IdentityKey.EdPub, bundle.PreKeyPublic.Slice(), bundle.PreKeySignature)
}

// Encrypt produces an Envelope, auto-stepping the DH ratchet on the first
// send after responding (an uninitialised sending chain).
func (s *State) Encrypt(localIdentity domain.IdentityKey, pending *domain.PendingPreKey, tag domain.SessionTag, plaintext []byte) (domain.Envelope, error) {
	if len(s.st.SendCK) == 0 {
		if err := s.stepSendRatchet(); err != nil {
			return domain.Envelope{}, err
		}
	}

	mk, err := s.kdfCKSend()
	if err != nil {
		return domain.Envelope{}, err
	}
	header := domain.RatchetHeader{DHPub: append([]byte(nil), s.st.DHPub[:]...), PN: s.st.PN, N: s.st.Ns}
	ad := tag[:]

	ct, err := seal(mk, header, ad, plaintext)
	memzero.Zero(mk)
	if err != nil {
		return domain.Envelope{}, err
	}
	s.st.Ns++

	cipher := domain.CipherMessage{SessionTag: tag, Header: header, Ciphertext: ct}

	if pending != nil {
		return domain.Envelope{PreKey: &domain.PreKeyMessage{
			PreKeyID:    pending.PreKeyID,
			BaseKey:     pending.BaseKey,
			IdentityKey: localIdentity,
			Message:     cipher,
		}}, nil
	}
	return domain.Envelope{Cipher: &cipher}, nil
}

// Decrypt opens a CipherMessage, handling skipped keys and DH-ratchet
// advancement on a new remote public key.
func (s *State) Decrypt(msg domain.CipherMessage) ([]byte, error) {
	header := msg.Header
	ad := msg.SessionTag[:]

	if len(header.DHPub) != 32 {
		return nil, ErrInvalidMessage
	}

	if equal32(s.st.PeerDHPub[:], header.DHPub) {
		if err := s.skipUntil(header.N); err != nil {
			return nil, err
		}
		keyID := skippedKeyID(s.st.PeerDHPub, header.N)
		if mk, ok := s.st.Skipped[keyID]; ok {
			delete(s.st.Skipped, keyID)
			pt, err := open(mk, header, ad, msg.Ciphertext)
			memzero.Zero(mk)
			if err != nil {
				return nil, err
			}
			if header.N+1 > s.st.Nr {
				s.st.Nr = header.N + 1
			}
			return pt, nil
		}
		if header.N < s.st.Nr {
			return nil, ErrDuplicateMessage
		}
	} else {
		if err := s.skipUntil(header.PN); err != nil {
			return nil, err
		}
		if err := s.stepRecvRatchet(header.DHPub); err != nil {
			return nil, err
		}
		if err := s.skipUntil(header.N); err != nil {
			return nil, err
		}
	}

	mk, err := s.kdfCKRecv()
	if err != nil {
		return nil, err
	}
	pt, err := open(mk, header, ad, msg.Ciphertext)
	memzero.Zero(mk)
	if err != nil {
		return nil, err
	}
	s.st.Nr++
	return pt, nil
}

// Clone returns a deep copy of the state, used by Session to try a decrypt
// without mutating live state until it is known to succeed.
func (s *State) Clone() domain.SessionState {
	cp := s.st
	cp.RootKey = append([]byte(nil), s.st.RootKey...)
	cp.SendCK = append([]byte(nil), s.st.SendCK...)
	cp.RecvCK = append([]byte(nil), s.st.RecvCK...)
	cp.Skipped = make(map[string][]byte, len(s.st.Skipped))
	for k, v := range s.st.Skipped {
		cp.Skipped[k] = append([]byte(nil), v...)
	}
	cp.RecvChains = append([]domain.X25519Public(nil), s.st.RecvChains...)
	return &State{st: cp}
}

// Encode returns the wire-encodable snapshot of the branch.
func (s *State) Encode() domain.RatchetState {
	return s.st
}

// FromState reconstructs a SessionState from a decoded wire snapshot.
func FromState(rs domain.RatchetState) *State {
	if rs.Skipped == nil {
		rs.Skipped = make(map[string][]byte)
	}
	return &State{st: rs}
}

// --- internal ratchet steps ---

func (s *State) stepSendRatchet() error {
	s.st.PN = s.st.Ns
	s.st.Ns = 0

	newPriv, newPub, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	d, err := crypto.DH(newPriv, s.st.PeerDHPub)
	if err != nil {
		return err
	}
	rk2, sendCK := kdfRK(s.st.RootKey, d[:])
	memzero.Zero(d[:])

	s.st.RootKey = rk2
	s.st.DHPriv, s.st.DHPub = newPriv, newPub
	s.st.SendCK = sendCK
	return nil
}

func (s *State) stepRecvRatchet(remoteDHPub []byte) error {
	var newPeer domain.X25519Public
	copy(newPeer[:], remoteDHPub)

	d, err := crypto.DH(s.st.DHPriv, newPeer)
	if err != nil {
		return err
	}
	rk2, recvCK := kdfRK(s.st.RootKey, d[:])
	memzero.Zero(d[:])

	newPriv, newPub, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	d2, err := crypto.DH(newPriv, newPeer)
	if err != nil {
		return err
	}
	rk3, sendCK := kdfRK(rk2, d2[:])
	memzero.Zero(d2[:])

	s.st.PN = s.st.Ns
	s.st.Ns, s.st.Nr = 0, 0
	s.st.RootKey = rk3
	s.st.DHPriv, s.st.DHPub = newPriv, newPub
	s.st.PeerDHPub = newPeer
	s.st.SendCK, s.st.RecvCK = sendCK, recvCK
	s.trackRecvChain(newPeer)
	return nil
}

// trackRecvChain records that a receive chain now exists for peer, evicting
// the oldest tracked chain (and its cached skipped-message keys) once more
// than MaxRecvChains distinct chains would otherwise be kept.
func (s *State) trackRecvChain(peer domain.X25519Public) {
	for _, p := range s.st.RecvChains {
		if p == peer {
			return
		}
	}
	s.st.RecvChains = append(s.st.RecvChains, peer)
	if len(s.st.RecvChains) <= maxRecvChains {
		return
	}

	evicted := s.st.RecvChains[0]
	s.st.RecvChains = s.st.RecvChains[1:]
	for k, mk := range s.st.Skipped {
		if len(k) >= 32 && bytes.Equal([]byte(k[:32]), evicted[:]) {
			memzero.Zero(mk)
			delete(s.st.Skipped, k)
		}
	}
}

func (s *State) kdfCKSend() ([]byte, error) {
	if len(s.st.SendCK) == 0 {
		return nil, errChainUninitialised
	}
	nextCK, mk := kdfCK(s.st.SendCK)
	s.st.SendCK = nextCK
	return mk, nil
}

func (s *State) kdfCKRecv() ([]byte, error) {
	if len(s.st.RecvCK) == 0 {
		return nil, errChainUninitialised
	}
	nextCK, mk := kdfCK(s.st.RecvCK)
	s.st.RecvCK = nextCK
	return mk, nil
}

// skipUntil derives and caches message keys up to (excluding) n with a hard
// cap. Once the cache is full, one cached entry is dropped to make room; it
// is whichever key map iteration yields first, not necessarily the oldest.
func (s *State) skipUntil(n uint32) error {
	for s.st.Nr < n {
		mk, err := s.kdfCKRecv()
		if err != nil {
			return err
		}
		if len(s.st.Skipped) >= maxSkippedMK {
			for k := range s.st.Skipped {
				delete(s.st.Skipped, k)
				break
			}
		}
		s.st.Skipped[skippedKeyID(s.st.PeerDHPub, s.st.Nr)] = mk
		s.st.Nr++
	}
	return nil
}

// --- free helpers ---

// x3dhRoot combines the X3DH Diffie-Hellman outputs into the initial root
// key via HKDF-SHA256, zeroising the intermediate concatenation.
func x3dhRoot(dh1, dh2, dh3 [32]byte) []byte {
	concat := make([]byte, 0, 96)
	concat = append(concat, dh1[:]...)
	concat = append(concat, dh2[:]...)
	concat = append(concat, dh3[:]...)
	defer memzero.Zero(concat)

	r := hkdf.New(sha256.New, concat, nil, []byte("proteus-x3dh"))
	root := make([]byte, 32)
	_, _ = io.ReadFull(r, root)
	return root
}

func kdfRK(rk, d []byte) (newRK, ck []byte) {
	r := hkdf.New(sha256.New, d, rk, []byte("proteus-rk"))
	newRK = make([]byte, 32)
	ck = make([]byte, 32)
	_, _ = io.ReadFull(r, newRK)
	_, _ = io.ReadFull(r, ck)
	return
}

func kdfCK(ck []byte) (nextCK, mk []byte) {
	r := hkdf.New(sha256.New, ck, nil, []byte("proteus-ck"))
	nextCK = make([]byte, 32)
	mk = make([]byte, 32)
	_, _ = io.ReadFull(r, nextCK)
	_, _ = io.ReadFull(r, mk)
	return
}

func seal(mk []byte, header domain.RatchetHeader, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	binary.BigEndian.PutUint32(nonce[nonceSize-4:], header.N)
	return aead.Seal(nil, nonce, plaintext, headerAD(header, ad)), nil
}

func open(mk []byte, header domain.RatchetHeader, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	binary.BigEndian.PutUint32(nonce[nonceSize-4:], header.N)
	pt, err := aead.Open(nil, nonce, ciphertext, headerAD(header, ad))
	if err != nil {
		return nil, ErrInvalidMessage
	}
	return pt, nil
}

func headerAD(h domain.RatchetHeader, ad []byte) []byte {
	out := make([]byte, 0, len(ad)+len(h.DHPub)+8)
	out = append(out, ad...)
	out = append(out, h.DHPub...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], h.PN)
	out = append(out, b[:]...)
	binary.BigEndian.PutUint32(b[:], h.N)
	out = append(out, b[:]...)
	return out
}

func skippedKeyID(peer domain.X25519Public, n uint32) string {
	b := make([]byte, 32+4)
	copy(b, peer[:])
	binary.BigEndian.PutUint32(b[32:], n)
	return string(b)
}

func equal32(a, b []byte) bool {
	if len(a) != 32 || len(b) != 32 {
		return false
	}
	var v byte
	for i := 0; i < 32; i++ {
		v |= a[i] ^ b[i]
	}
	return v == 0
}

package proteus

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"proteus/internal/crypto"
	"proteus/internal/domain"
	"proteus/internal/ratchet"
)

// wireVersion is the current Session encoding version.
const wireVersion = 1

// Tagged-field value kinds used by the encoder/decoder below. This is a
// small CBOR-like scheme: every field is a (tag, typed value) pair, fields
// are emitted in ascending tag order, and unknown tags are skipped on
// decode for forward compatibility.
const (
	typeUint8  = 0
	typeUint16 = 1
	typeUint32 = 2
	typeUint64 = 3
	typeBytes  = 4
	typeNull   = 5
	typeMap    = 6
)

type encoder struct{ buf bytes.Buffer }

func (e *encoder) writeUint8(tag byte, v uint8) {
	e.buf.WriteByte(tag)
	e.buf.WriteByte(typeUint8)
	e.buf.WriteByte(v)
}

func (e *encoder) writeUint16(tag byte, v uint16) {
	e.buf.WriteByte(tag)
	e.buf.WriteByte(typeUint16)
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) writeUint32(tag byte, v uint32) {
	e.buf.WriteByte(tag)
	e.buf.WriteByte(typeUint32)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) writeBytes(tag byte, v []byte) {
	e.buf.WriteByte(tag)
	e.buf.WriteByte(typeBytes)
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(v)))
	e.buf.Write(lb[:])
	e.buf.Write(v)
}

func (e *encoder) writeNull(tag byte) {
	e.buf.WriteByte(tag)
	e.buf.WriteByte(typeNull)
}

func (e *encoder) writeMapHeader(tag byte, n int) {
	e.buf.WriteByte(tag)
	e.buf.WriteByte(typeMap)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n))
	e.buf.Write(b[:])
}

func encodeIdentityKey(e *encoder, tag byte, id domain.IdentityKey) {
	inner := &encoder{}
	inner.writeBytes(0, id.XPub[:])
	inner.writeBytes(1, id.EdPub[:])
	e.writeBytes(tag, inner.buf.Bytes())
}

func encodeSessionTag(e *encoder, tag byte, st domain.SessionTag) {
	e.writeBytes(tag, st[:])
}

func encodeRatchetState(rs domain.RatchetState) []byte {
	e := &encoder{}
	e.writeBytes(0, rs.RootKey)
	e.writeBytes(1, rs.DHPriv[:])
	e.writeBytes(2, rs.DHPub[:])
	e.writeBytes(3, rs.PeerDHPub[:])
	if rs.SendCK != nil {
		e.writeBytes(4, rs.SendCK)
	} else {
		e.writeNull(4)
	}
	if rs.RecvCK != nil {
		e.writeBytes(5, rs.RecvCK)
	} else {
		e.writeNull(5)
	}
	e.writeUint32(6, rs.Ns)
	e.writeUint32(7, rs.Nr)
	e.writeUint32(8, rs.PN)
	keys := make([]string, 0, len(rs.Skipped))
	for k := range rs.Skipped {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e.writeMapHeader(9, len(keys))
	for _, k := range keys {
		e.writeBytes(0, []byte(k))
		e.writeBytes(1, rs.Skipped[k])
	}
	chains := make([]byte, 0, len(rs.RecvChains)*32)
	for _, p := range rs.RecvChains {
		chains = append(chains, p[:]...)
	}
	e.writeBytes(10, chains)
	return e.buf.Bytes()
}

// Serialise encodes the session into its canonical binary form.
func (s *Session) Serialise() ([]byte, error) {
	e := &encoder{}
	e.writeUint8(0, wireVersion)
	encodeSessionTag(e, 1, s.sessionTag)
	encodeIdentityKey(e, 2, s.localIdentity.Public())
	encodeIdentityKey(e, 3, s.remoteIdentity)

	if s.pendingPreKey == nil {
		e.writeNull(4)
	} else {
		inner := &encoder{}
		inner.writeUint16(0, s.pendingPreKey.PreKeyID)
		inner.writeBytes(1, s.pendingPreKey.BaseKey[:])
		e.writeBytes(4, inner.buf.Bytes())
	}

	entries := make([]*sessionStateEntry, 0, len(s.states))
	for _, entry := range s.states {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].idx < entries[j].idx })
	e.writeMapHeader(5, len(entries))
	for _, entry := range entries {
		e.writeBytes(0, entry.tag[:])
		rsBytes := encodeRatchetState(entry.state.Encode())
		e.writeBytes(1, rsBytes)
	}

	return e.buf.Bytes(), nil
}

type decoder struct {
	r io.Reader
}

func (d *decoder) readTagType() (byte, byte, error) {
	var b [2]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, 0, err
	}
	return b[0], b[1], nil
}

func (d *decoder) readUint8() (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) readUint16() (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func (d *decoder) readUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (d *decoder) readBytes() ([]byte, error) {
	var lb [4]byte
	if _, err := io.ReadFull(d.r, lb[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lb[:])
	out := make([]byte, n)
	if _, err := io.ReadFull(d.r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// skipValue consumes and discards one typed value of the given kind,
// implementing the "silently skip unknown tags" forward-compatibility
// rule.
func (d *decoder) skipValue(typ byte) error {
	switch typ {
	case typeUint8:
		_, err := d.readUint8()
		return err
	case typeUint16:
		_, err := d.readUint16()
		return err
	case typeUint32:
		_, err := d.readUint32()
		return err
	case typeUint64:
		var b [8]byte
		_, err := io.ReadFull(d.r, b[:])
		return err
	case typeBytes:
		_, err := d.readBytes()
		return err
	case typeNull:
		return nil
	case typeMap:
		n, err := d.readUint32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			if _, t, err := d.readTagType(); err != nil {
				return err
			} else if err := d.skipValue(t); err != nil {
				return err
			}
			if _, t, err := d.readTagType(); err != nil {
				return err
			} else if err := d.skipValue(t); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("codec: unknown value type %d", typ)
	}
}

func decodeIdentityKey(b []byte) (domain.IdentityKey, error) {
	d := &decoder{r: bytes.NewReader(b)}
	var id domain.IdentityKey
	for {
		tag, typ, err := d.readTagType()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return id, err
		}
		switch tag {
		case 0:
			v, err := d.readBytes()
			if err != nil {
				return id, err
			}
			copy(id.XPub[:], v)
		case 1:
			v, err := d.readBytes()
			if err != nil {
				return id, err
			}
			copy(id.EdPub[:], v)
		default:
			if err := d.skipValue(typ); err != nil {
				return id, err
			}
		}
	}
	return id, nil
}

func decodeRatchetState(b []byte) (domain.RatchetState, error) {
	d := &decoder{r: bytes.NewReader(b)}
	rs := domain.RatchetState{Skipped: make(map[string][]byte)}
	for {
		tag, typ, err := d.readTagType()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rs, err
		}
		switch tag {
		case 0:
			v, err := d.readBytes()
			if err != nil {
				return rs, err
			}
			rs.RootKey = v
		case 1:
			v, err := d.readBytes()
			if err != nil {
				return rs, err
			}
			copy(rs.DHPriv[:], v)
		case 2:
			v, err := d.readBytes()
			if err != nil {
				return rs, err
			}
			copy(rs.DHPub[:], v)
		case 3:
			v, err := d.readBytes()
			if err != nil {
				return rs, err
			}
			copy(rs.PeerDHPub[:], v)
		case 4:
			if typ == typeNull {
				rs.SendCK = nil
				continue
			}
			v, err := d.readBytes()
			if err != nil {
				return rs, err
			}
			rs.SendCK = v
		case 5:
			if typ == typeNull {
				rs.RecvCK = nil
				continue
			}
			v, err := d.readBytes()
			if err != nil {
				return rs, err
			}
			rs.RecvCK = v
		case 6:
			v, err := d.readUint32()
			if err != nil {
				return rs, err
			}
			rs.Ns = v
		case 7:
			v, err := d.readUint32()
			if err != nil {
				return rs, err
			}
			rs.Nr = v
		case 8:
			v, err := d.readUint32()
			if err != nil {
				return rs, err
			}
			rs.PN = v
		case 9:
			n, err := d.readUint32()
			if err != nil {
				return rs, err
			}
			for i := uint32(0); i < n; i++ {
				kb, err := readTaggedBytes(d)
				if err != nil {
					return rs, err
				}
				vb, err := readTaggedBytes(d)
				if err != nil {
					return rs, err
				}
				rs.Skipped[string(kb)] = vb
			}
		case 10:
			v, err := d.readBytes()
			if err != nil {
				return rs, err
			}
			rs.RecvChains = rs.RecvChains[:0]
			for off := 0; off+32 <= len(v); off += 32 {
				var p domain.X25519Public
				copy(p[:], v[off:off+32])
				rs.RecvChains = append(rs.RecvChains, p)
			}
		default:
			if err := d.skipValue(typ); err != nil {
				return rs, err
			}
		}
	}
	return rs, nil
}

func readTaggedBytes(d *decoder) ([]byte, error) {
	_, typ, err := d.readTagType()
	if err != nil {
		return nil, err
	}
	if typ != typeBytes {
		if err := d.skipValue(typ); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return d.readBytes()
}

// Deserialise decodes a canonical Session encoding. The supplied
// localIdentity must match the fingerprint of the identity embedded in the
// encoding (tag 2), or decoding fails with LocalIdentityChanged.
func Deserialise(data []byte, localIdentity domain.IdentityKeyPair) (*Session, error) {
	d := &decoder{r: bytes.NewReader(data)}
	s := &Session{localIdentity: localIdentity, states: make(map[string]*sessionStateEntry)}

	haveRemote := false
	var idx uint64

	for {
		tag, typ, err := d.readTagType()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, newDecodeError("Deserialise", "", "", err)
		}

		switch tag {
		case 0:
			if _, err := d.readUint8(); err != nil {
				return nil, newDecodeError("Deserialise", "", "", err)
			}
		case 1:
			v, err := d.readBytes()
			if err != nil {
				return nil, newDecodeError("Deserialise", "", "", err)
			}
			copy(s.sessionTag[:], v)
			s.sessionTagName = s.sessionTag.String()
		case 2:
			v, err := d.readBytes()
			if err != nil {
				return nil, newDecodeError("Deserialise", "", "", err)
			}
			decodedLocal, err := decodeIdentityKey(v)
			if err != nil {
				return nil, newDecodeError("Deserialise", "", "", err)
			}
			if crypto.IdentityFingerprint(decodedLocal) != crypto.KeyPairFingerprint(localIdentity) {
				return nil, newDecodeError("Deserialise", "LocalIdentityChanged", "CASE_300", ErrLocalIdentityMoved)
			}
		case 3:
			v, err := d.readBytes()
			if err != nil {
				return nil, newDecodeError("Deserialise", "", "", err)
			}
			remote, err := decodeIdentityKey(v)
			if err != nil {
				return nil, newDecodeError("Deserialise", "", "", err)
			}
			s.remoteIdentity = remote
			haveRemote = true
		case 4:
			if typ == typeNull {
				s.pendingPreKey = nil
				continue
			}
			if typ != typeBytes {
				return nil, newDecodeError("Deserialise", "InvalidType", "CASE_301", ErrMalformedPending)
			}
			v, err := d.readBytes()
			if err != nil {
				return nil, newDecodeError("Deserialise", "", "", err)
			}
			pp, err := decodePendingPreKey(v)
			if err != nil {
				return nil, newDecodeError("Deserialise", "InvalidType", "CASE_301", err)
			}
			s.pendingPreKey = pp
		case 5:
			n, err := d.readUint32()
			if err != nil {
				return nil, newDecodeError("Deserialise", "", "", err)
			}
			for i := uint32(0); i < n; i++ {
				tagBytes, err := readTaggedBytes(d)
				if err != nil {
					return nil, newDecodeError("Deserialise", "", "", err)
				}
				stateBytes, err := readTaggedBytes(d)
				if err != nil {
					return nil, newDecodeError("Deserialise", "", "", err)
				}
				rs, err := decodeRatchetState(stateBytes)
				if err != nil {
					return nil, newDecodeError("Deserialise", "", "", err)
				}
				var st domain.SessionTag
				copy(st[:], tagBytes)
				s.states[st.String()] = &sessionStateEntry{idx: idx, tag: st, state: ratchet.FromState(rs)}
				idx++
			}
			s.counter = idx
		default:
			if err := d.skipValue(typ); err != nil {
				return nil, newDecodeError("Deserialise", "", "", err)
			}
		}
	}

	if !haveRemote {
		return nil, newDecodeError("Deserialise", "", "", ErrMissingRemoteID)
	}
	return s, nil
}

func decodePendingPreKey(b []byte) (*domain.PendingPreKey, error) {
	d := &decoder{r: bytes.NewReader(b)}
	pp := &domain.PendingPreKey{}
	for {
		tag, typ, err := d.readTagType()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch tag {
		case 0:
			v, err := d.readUint16()
			if err != nil {
				return nil, err
			}
			pp.PreKeyID = v
		case 1:
			v, err := d.readBytes()
			if err != nil {
				return nil, err
			}
			copy(pp.BaseKey[:], v)
		default:
			if err := d.skipValue(typ); err != nil {
				return nil, err
			}
		}
	}
	return pp, nil
}

package codec

import (
	"bytes"
	"fmt"

	"dhtcore/internal/kadid"
)

// Decoder drives the streaming decode state machine described in spec
// §4.3: decodeHeader peeks and consumes the fixed-shape header, then
// repeated decodeBuffer calls feed payload bytes as they arrive, and
// decodeDone finalizes the trailing signature.
type Decoder struct {
	data       Data
	needed     int // payload bytes still required
	payloadBuf bytes.Buffer
	sigNeeded  int // trailing signature bytes still required (40 if signed)
	sigBuf     bytes.Buffer
}

// DecodeHeader peeks at buf and, if it holds the complete fixed-shape
// header (header byte, length field, and any optional ttl/basedOn/pubkey
// fields), consumes it and returns a Decoder primed to receive payload
// bytes plus the number of bytes consumed. If buf holds fewer than the
// minimum required bytes, it returns ok=false and consumes nothing so the
// caller can retry once more bytes arrive.
func DecodeHeader(buf []byte) (dec *Decoder, consumed int, ok bool, err error) {
	if len(buf) < 2 {
		return nil, 0, false, nil
	}
	h := buf[0]
	d := Data{
		HasBasedOn:     h&bitBasedOn != 0,
		Signed:         h&bitSigned != 0,
		HasTTL:         h&bitTTL != 0,
		ProtectedEntry: h&bitProtected != 0,
		Flag2:          h&bitFlag2 != 0,
		Flag1:          h&bitFlag1 != 0,
		Type:           PayloadType(h & maskType),
	}

	pos := 1
	lenWidth := lengthByteWidth(d.Type)
	if len(buf) < pos+lenWidth {
		return nil, 0, false, nil
	}
	length := readLength(buf[pos:pos+lenWidth], d.Type)
	pos += lenWidth

	if d.HasTTL {
		if len(buf) < pos+4 {
			return nil, 0, false, nil
		}
		d.TTLSeconds = int32(readUint32(buf[pos:]))
		pos += 4
	}
	if d.HasBasedOn {
		if len(buf) < pos+kadid.IDLen {
			return nil, 0, false, nil
		}
		copy(d.BasedOn[:], buf[pos:pos+kadid.IDLen])
		pos += kadid.IDLen
	}
	if d.Signed {
		if len(buf) < pos+2 {
			return nil, 0, false, nil
		}
		pkLen := int(buf[pos])<<8 | int(buf[pos+1])
		pos += 2
		if len(buf) < pos+pkLen {
			return nil, 0, false, nil
		}
		d.PublicKey = append([]byte(nil), buf[pos:pos+pkLen]...)
		pos += pkLen
	}

	dec = &Decoder{data: d, needed: length}
	if d.Signed {
		dec.sigNeeded = 40
	}
	return dec, pos, true, nil
}

// DecodeBuffer consumes bytes from buf, first the remaining payload and
// then, if the entry is signed, the trailing 40 signature bytes. It returns
// the number of bytes consumed and whether the entry is now complete: the
// whole payload and, for a signed entry, the whole signature.
func (dec *Decoder) DecodeBuffer(buf []byte) (consumed int, done bool) {
	if dec.needed > 0 {
		n := dec.needed
		if n > len(buf) {
			n = len(buf)
		}
		dec.payloadBuf.Write(buf[:n])
		dec.needed -= n
		consumed += n
		buf = buf[n:]
	}
	if dec.needed > 0 {
		return consumed, false
	}
	if dec.sigNeeded > 0 && len(buf) > 0 {
		n := dec.sigNeeded
		if n > len(buf) {
			n = len(buf)
		}
		dec.sigBuf.Write(buf[:n])
		dec.sigNeeded -= n
		consumed += n
	}
	return consumed, dec.needed == 0 && dec.sigNeeded == 0
}

// DecodeDone finalizes the entry once DecodeBuffer has reported completion,
// assembling the payload and signature. publicKey, if non-nil, fills in the
// signer's public key when the wire form carried none (spec §4.3: signing
// with only a private key leaves publicKey unset on the wire, so
// verification must be supplied a key externally).
func (dec *Decoder) DecodeDone(publicKey []byte) (*Data, error) {
	if dec.needed != 0 || dec.sigNeeded != 0 {
		return nil, fmt.Errorf("codec: decode not complete")
	}
	d := dec.data
	d.Payload = dec.payloadBuf.Bytes()
	if d.Signed {
		sigBytes := dec.sigBuf.Bytes()
		if len(sigBytes) != 40 {
			return nil, fmt.Errorf("codec: malformed signature length %d", len(sigBytes))
		}
		copy(d.Signature.R[:], sigBytes[:20])
		copy(d.Signature.S[:], sigBytes[20:])
		if d.PublicKey == nil && publicKey != nil {
			d.PublicKey = publicKey
		}
	}
	return &d, nil
}

func readLength(b []byte, t PayloadType) int {
	switch t {
	case Small:
		return int(b[0])
	case Medium:
		return int(b[0])<<8 | int(b[1])
	default:
		return int(readUint32(b))
	}
}

func readUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// DecodeFull is a convenience wrapper for callers holding the entire
// encoded form in memory, driving the streaming state machine in one shot.
func DecodeFull(buf []byte) (*Data, error) {
	dec, consumed, ok, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("codec: truncated header")
	}
	rest := buf[consumed:]
	_, done := dec.DecodeBuffer(rest)
	if !done {
		return nil, fmt.Errorf("codec: truncated payload or signature")
	}
	return dec.DecodeDone(nil)
}

// Equal compares two Data values per the equivalence spec §8 round-trip
// invariant uses: bit-for-bit on wire-relevant fields, ignoring ValidFrom
// (never serialized) and any lazily-computed hash the caller tracks
// alongside Data rather than inside it.
func Equal(a, b *Data) bool {
	if a.Type != b.Type || a.HasTTL != b.HasTTL || a.TTLSeconds != b.TTLSeconds {
		return false
	}
	if a.HasBasedOn != b.HasBasedOn || a.BasedOn != b.BasedOn {
		return false
	}
	if a.Signed != b.Signed {
		return false
	}
	if a.Signed && (a.Signature != b.Signature || !bytes.Equal(a.PublicKey, b.PublicKey)) {
		return false
	}
	if a.ProtectedEntry != b.ProtectedEntry || a.Flag1 != b.Flag1 || a.Flag2 != b.Flag2 {
		return false
	}
	return bytes.Equal(a.Payload, b.Payload)
}

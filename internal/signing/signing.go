// Package signing wraps the signature capability the codec and storage
// layers treat as an external primitive (spec §1, §4.3): callers never
// touch the underlying crypto package directly, only Sign/Verify and the
// (R, S) pair the wire format carries.
//
// spec §4.3 fixes the wire shape of a signature as two 20-byte integers —
// that is the classic DSA (r, s) shape with a 160-bit subgroup order, not
// an RSA PKCS#1v15 blob (which has no r/s decomposition and does not fit
// 2x20 bytes for any usable key size). This repo follows the wire shape
// literally and implements the capability with crypto/dsa using L1024N160
// parameters, whose N=160 exactly matches both the SHA-1 digest width and
// the wire format's two 20-byte slots; see DESIGN.md for the resulting
// naming note against spec §1's "RSA" mention.
package signing

import (
	"crypto/dsa" //nolint:staticcheck // fixed-width (r,s) shape required by the wire format
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // spec names SHA-1 explicitly as the signature digest
	"errors"
	"math/big"
)

// Signature is the (r, s) pair carried on the wire: two 20-byte integers
// per spec §4.3.
type Signature struct {
	R [20]byte
	S [20]byte
}

// KeyPair bundles a private key with its encoded public key, the form the
// codec transmits.
type KeyPair struct {
	Private   *dsa.PrivateKey
	PublicDER []byte
}

// GenerateKeyPair creates a fresh signing identity. Tests and bootstrap
// tooling use this; production deployments load a persisted key instead.
func GenerateKeyPair() (*KeyPair, error) {
	var params dsa.Parameters
	if err := dsa.GenerateParameters(&params, rand.Reader, dsa.L1024N160); err != nil {
		return nil, err
	}
	priv := &dsa.PrivateKey{PublicKey: dsa.PublicKey{Parameters: params}}
	if err := dsa.GenerateKey(priv, rand.Reader); err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv, PublicDER: encodePublicKey(&priv.PublicKey)}, nil
}

// Sign computes the signature over payload bytes only, per spec §4.3's
// signature domain.
func Sign(priv *dsa.PrivateKey, payload []byte) (Signature, error) {
	digest := sha1.Sum(payload) //nolint:gosec
	r, s, err := dsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return Signature{}, err
	}
	var sig Signature
	copyTail(sig.R[:], r.Bytes())
	copyTail(sig.S[:], s.Bytes())
	return sig, nil
}

// Verify checks sig against payload using the encoded public key carried
// on the wire (or supplied externally, per spec §4.3's note that a
// signing-only key leaves publicKey unset on the wire).
func Verify(publicDER []byte, payload []byte, sig Signature) (bool, error) {
	pub, err := decodePublicKey(publicDER)
	if err != nil {
		return false, err
	}
	digest := sha1.Sum(payload) //nolint:gosec
	r := new(big.Int).SetBytes(sig.R[:])
	s := new(big.Int).SetBytes(sig.S[:])
	return dsa.Verify(pub, digest[:], r, s), nil
}

// encodedPublicKey is a minimal DER-free encoding of the four DSA
// parameters plus the public value Y; the codec only needs a stable byte
// form to length-prefix, not ASN.1 compliance.
func encodePublicKey(pub *dsa.PublicKey) []byte {
	var out []byte
	for _, n := range []*big.Int{pub.P, pub.Q, pub.G, pub.Y} {
		b := n.Bytes()
		out = appendUint16Len(out, len(b))
		out = append(out, b...)
	}
	return out
}

func decodePublicKey(buf []byte) (*dsa.PublicKey, error) {
	var nums [4]*big.Int
	pos := 0
	for i := 0; i < 4; i++ {
		if len(buf) < pos+2 {
			return nil, errors.New("signing: truncated public key")
		}
		n := int(buf[pos])<<8 | int(buf[pos+1])
		pos += 2
		if len(buf) < pos+n {
			return nil, errors.New("signing: truncated public key")
		}
		nums[i] = new(big.Int).SetBytes(buf[pos : pos+n])
		pos += n
	}
	return &dsa.PublicKey{
		Parameters: dsa.Parameters{P: nums[0], Q: nums[1], G: nums[2]},
		Y:          nums[3],
	}, nil
}

func appendUint16Len(buf []byte, n int) []byte {
	return append(buf, byte(n>>8), byte(n))
}

func copyTail(dst, src []byte) {
	if len(src) >= len(dst) {
		copy(dst, src[len(src)-len(dst):])
		return
	}
	copy(dst[len(dst)-len(src):], src)
}

package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dhtcore/internal/kadid"
	"dhtcore/internal/signing"
)

func TestEncodeDecodeFullRoundTrip(t *testing.T) {
	d := &Data{
		Payload:    []byte("hello dht"),
		HasTTL:     true,
		TTLSeconds: 42,
		ValidFrom:  time.Now(),
	}
	encoded, err := Encode(d)
	require.NoError(t, err)

	decoded, err := DecodeFull(encoded)
	require.NoError(t, err)
	require.True(t, Equal(d, decoded))
}

func TestFragmentedStreamingDecodeScenario(t *testing.T) {
	kp, err := signing.GenerateKeyPair()
	require.NoError(t, err)

	payload := make([]byte, 100000)
	for i := range payload {
		payload[i] = byte(i)
	}
	sig, err := signing.Sign(kp.Private, payload)
	require.NoError(t, err)

	basedOn := kadid.HashID([]byte("ancestor"))
	d := &Data{
		Payload:    payload,
		HasTTL:     true,
		TTLSeconds: 42,
		HasBasedOn: true,
		BasedOn:    basedOn,
		Signed:     true,
		PublicKey:  kp.PublicDER,
		Signature:  sig,
	}
	encoded, err := Encode(d)
	require.NoError(t, err)

	dec, consumed, ok, err := DecodeHeader(encoded)
	require.NoError(t, err)
	require.True(t, ok)

	rest := encoded[consumed:]
	half := len(rest) / 2
	firstHalf, secondHalf := rest[:half], rest[half:]

	n1, done1 := dec.DecodeBuffer(firstHalf)
	require.Equal(t, len(firstHalf), n1)
	require.False(t, done1)

	n2, done2 := dec.DecodeBuffer(secondHalf)
	require.Equal(t, len(secondHalf), n2)
	require.True(t, done2)

	result, err := dec.DecodeDone(nil)
	require.NoError(t, err)
	require.True(t, Equal(d, result))

	ok, err = signing.Verify(result.PublicKey, result.Payload, result.Signature)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDecodeHeaderReturnsFalseOnShortBuffer(t *testing.T) {
	_, consumed, ok, err := DecodeHeader([]byte{0x00})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, consumed)
}

func TestClassifyLength(t *testing.T) {
	require.Equal(t, Small, ClassifyLength(10))
	require.Equal(t, Medium, ClassifyLength(300))
	require.Equal(t, Large, ClassifyLength(70000))
}

package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dhtcore/internal/codec"
	"dhtcore/internal/kadid"
)

func testKey(t *testing.T, loc string) kadid.Key640 {
	t.Helper()
	return kadid.Key640{Location: kadid.HashID([]byte(loc))}
}

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(Config{Kind: WALBackend, DataDir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()

	key := testKey(t, "apple")
	res := s.Put(key, &codec.Data{Payload: []byte("red")}, nil, false, false)
	require.Equal(t, OK, res)

	got, ok := s.Get(key)
	require.True(t, ok)
	require.Equal(t, "red", string(got.Payload))
}

func TestTTLExpiry(t *testing.T) {
	s, err := Open(Config{Kind: WALBackend, DataDir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()

	key := testKey(t, "ephemeral")
	s.nowFn = func() time.Time { return time.Unix(1000, 0) }
	res := s.Put(key, &codec.Data{Payload: []byte("x"), HasTTL: true, TTLSeconds: 1}, nil, false, false)
	require.Equal(t, OK, res)

	_, ok := s.Get(key)
	require.True(t, ok)

	s.nowFn = func() time.Time { return time.Unix(1003, 0) }
	_, ok = s.Get(key)
	require.False(t, ok)

	removed := s.CheckTimeouts()
	require.Contains(t, removed, key)
}

func TestDomainProtectionRejectsOtherKey(t *testing.T) {
	s, err := Open(Config{Kind: WALBackend, DataDir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()

	location := kadid.HashID([]byte("shared-loc"))
	keyA := kadid.Key640{Location: location, Content: kadid.HashID([]byte("a"))}
	keyB := kadid.Key640{Location: location, Content: kadid.HashID([]byte("b"))}

	pkA := []byte("pubkey-a")
	pkB := []byte("pubkey-b")

	res := s.Put(keyA, &codec.Data{Payload: []byte("1")}, pkA, false, true)
	require.Equal(t, OK, res)

	res = s.Put(keyB, &codec.Data{Payload: []byte("2")}, pkB, false, true)
	require.Equal(t, FailedSecurity, res)
}

func TestRemovedDomainBecomesUnprotectable(t *testing.T) {
	s, err := Open(Config{Kind: WALBackend, DataDir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()

	location := kadid.HashID([]byte("loc"))
	key320 := kadid.Key320{Location: location}
	keyA := kadid.Key640{Location: location, Content: kadid.HashID([]byte("a"))}
	keyB := kadid.Key640{Location: location, Content: kadid.HashID([]byte("b"))}

	require.Equal(t, OK, s.Put(keyA, &codec.Data{Payload: []byte("1")}, []byte("pkA"), false, true))
	s.RemoveDomain(key320)
	require.Equal(t, OK, s.Put(keyB, &codec.Data{Payload: []byte("2")}, []byte("pkB"), false, true))
}

func TestPutIfAbsentRejectsExisting(t *testing.T) {
	s, err := Open(Config{Kind: WALBackend, DataDir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()

	key := testKey(t, "once")
	require.Equal(t, OK, s.Put(key, &codec.Data{Payload: []byte("1")}, nil, false, false))
	require.Equal(t, FailedNotAbsent, s.Put(key, &codec.Data{Payload: []byte("2")}, nil, true, false))
}

func TestBasedOnCycleRejected(t *testing.T) {
	s, err := Open(Config{Kind: WALBackend, DataDir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()

	location := kadid.HashID([]byte("loc"))
	content := kadid.HashID([]byte("content"))
	v1 := kadid.IDFromBytes([]byte{1})
	v2 := kadid.IDFromBytes([]byte{2})

	key1 := kadid.Key640{Location: location, Content: content, Version: v1}
	key2 := kadid.Key640{Location: location, Content: content, Version: v2}

	// v1 exists with no ancestor; v2 claims v1 as its ancestor — fine, no
	// cycle yet.
	require.Equal(t, OK, s.Put(key1, &codec.Data{Payload: []byte("a")}, nil, false, false))
	require.Equal(t, OK, s.Put(key2, &codec.Data{Payload: []byte("b"), HasBasedOn: true, BasedOn: v1}, nil, false, false))

	// Rewriting v1 to claim v2 as its own ancestor closes the cycle
	// v1 -> v2 -> v1 and must be rejected.
	res := s.Put(key1, &codec.Data{Payload: []byte("a2"), HasBasedOn: true, BasedOn: v2}, nil, false, false)
	require.Equal(t, Failed, res)
}

func TestDigestOverRange(t *testing.T) {
	s, err := Open(Config{Kind: WALBackend, DataDir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()

	loc := kadid.HashID([]byte("loc"))
	key := kadid.Key640{Location: loc, Content: kadid.HashID([]byte("c"))}
	require.Equal(t, OK, s.Put(key, &codec.Data{Payload: []byte("hi")}, nil, false, false))

	from := kadid.Key640{Location: loc}
	to := kadid.Key640{Location: loc, Domain: kadid.Max, Content: kadid.Max, Version: kadid.Max}
	dg, err := s.Digest(from, to)
	require.NoError(t, err)
	require.Contains(t, dg.Hashes, key)
}

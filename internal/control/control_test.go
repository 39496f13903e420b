package control

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"dhtcore/internal/kadid"
	"dhtcore/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeNode struct {
	peers        []kadid.PeerAddress
	overflow     []kadid.PeerAddress
	entries      int
	stored       map[kadid.Key640]*DataResponse
	putResult    storage.Result
	digestHashes map[kadid.Key640][20]byte
	shutdownErr  error
}

func (f *fakeNode) Bootstrap(ctx context.Context, seeds []kadid.PeerAddress) error { return nil }
func (f *fakeNode) Ping(ctx context.Context, target kadid.PeerAddress) error       { return nil }

func (f *fakeNode) Put(ctx context.Context, key kadid.Key640, req DataRequest) (storage.Result, error) {
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		return storage.Failed, err
	}
	if f.stored == nil {
		f.stored = make(map[kadid.Key640]*DataResponse)
	}
	f.stored[key] = &DataResponse{Payload: base64.StdEncoding.EncodeToString(payload)}
	return f.putResult, nil
}

func (f *fakeNode) Add(ctx context.Context, key kadid.Key640, req DataRequest) (storage.Result, error) {
	return f.Put(ctx, key, req)
}

func (f *fakeNode) Get(ctx context.Context, key kadid.Key640) (*DataResponse, bool, error) {
	d, ok := f.stored[key]
	return d, ok, nil
}

func (f *fakeNode) Remove(ctx context.Context, key kadid.Key640, publicKey []byte) (storage.Result, error) {
	delete(f.stored, key)
	return storage.OK, nil
}

func (f *fakeNode) Digest(ctx context.Context, from, to kadid.Key640) (storage.Digest, error) {
	return storage.Digest{Hashes: f.digestHashes}, nil
}

func (f *fakeNode) SendDirect(ctx context.Context, target kadid.ID, payload []byte, cancelOnFinish bool) ([][]byte, error) {
	return [][]byte{payload}, nil
}

func (f *fakeNode) Broadcast(ctx context.Context, payload []byte) error { return nil }
func (f *fakeNode) Shutdown(ctx context.Context) error                 { return f.shutdownErr }

func (f *fakeNode) Peers() []kadid.PeerAddress         { return f.peers }
func (f *fakeNode) OverflowPeers() []kadid.PeerAddress { return f.overflow }
func (f *fakeNode) StorageEntryCount() int             { return f.entries }
func (f *fakeNode) RelayStatus() RelayStatus           { return RelayStatus{} }

func mkKey() kadid.Key640 {
	return kadid.Key640{
		Location: kadid.HashID([]byte("loc")),
		Domain:   kadid.HashID([]byte("dom")),
		Content:  kadid.HashID([]byte("content")),
		Version:  kadid.HashID([]byte("v1")),
	}
}

func TestHealthEndpoint(t *testing.T) {
	node := &fakeNode{peers: []kadid.PeerAddress{{}}, entries: 3}
	r := NewRouter(node)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestPutThenGet(t *testing.T) {
	node := &fakeNode{putResult: storage.OK}
	r := NewRouter(node)
	key := mkKey()
	path := "/kv/" + key.Location.String() + "/" + key.Domain.String() + "/" + key.Content.String() + "/" + key.Version.String()

	body, _ := json.Marshal(DataRequest{Payload: base64.StdEncoding.EncodeToString([]byte("hello"))})
	req := httptest.NewRequest(http.MethodPut, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	getReq := httptest.NewRequest(http.MethodGet, path, nil)
	getW := httptest.NewRecorder()
	r.ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Code)
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	node := &fakeNode{}
	r := NewRouter(node)
	key := mkKey()
	path := "/kv/" + key.Location.String() + "/" + key.Domain.String() + "/" + key.Content.String() + "/" + key.Version.String()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestBadKeyHexReturnsBadRequest(t *testing.T) {
	node := &fakeNode{}
	r := NewRouter(node)

	req := httptest.NewRequest(http.MethodGet, "/kv/zz/zz/zz/zz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListPeers(t *testing.T) {
	a := kadid.PeerAddress{PeerID: kadid.HashID([]byte("a")), IP: net.ParseIP("127.0.0.1")}
	node := &fakeNode{peers: []kadid.PeerAddress{a}}
	r := NewRouter(node)

	req := httptest.NewRequest(http.MethodGet, "/peers", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestShutdown(t *testing.T) {
	node := &fakeNode{}
	r := NewRouter(node)

	req := httptest.NewRequest(http.MethodPost, "/shutdown", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
}

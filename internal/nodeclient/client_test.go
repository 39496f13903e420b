package nodeclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"dhtcore/internal/kadid"
)

func mkKey() kadid.Key640 {
	return kadid.Key640{
		Location: kadid.HashID([]byte("loc")),
		Domain:   kadid.HashID([]byte("dom")),
		Content:  kadid.HashID([]byte("content")),
		Version:  kadid.HashID([]byte("v1")),
	}
}

func TestPutSendsExpectedPayload(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"result": "OK"})
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	key := mkKey()
	result, err := c.Put(context.Background(), key, DataRequest{Payload: []byte("hello")})
	require.NoError(t, err)
	require.Equal(t, "OK", result)
	require.Contains(t, gotPath, "/kv/")
	payload, err := base64.StdEncoding.DecodeString(gotBody["payload"].(string))
	require.NoError(t, err)
	require.Equal(t, "hello", string(payload))
}

func TestGetNotFoundReturnsErrNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	_, err := c.Get(context.Background(), mkKey())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCheckStatusWrapsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "boom"})
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	err := c.Ping(context.Background(), "127.0.0.1:4000")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusInternalServerError, apiErr.Status)
}

func TestShutdownSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	require.NoError(t, c.Shutdown(context.Background()))
}

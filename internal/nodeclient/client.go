// Package nodeclient provides a Go SDK for talking to a running node's
// control-plane HTTP API (internal/control), directly adapted from the
// teacher's internal/client/{client,raw}.go: same baseURL+http.Client
// shape, same checkStatus/APIError error translation, generalized from
// the teacher's single flat key namespace to the four-coordinate Key640
// route shape.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dhtcore/internal/kadid"
)

// Client talks to exactly one node's control-plane API; it does not
// implement distributed logic itself.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client. timeout defaults to 10s if zero.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// DataRequest mirrors control.DataRequest without importing the control
// package (the SDK is a standalone consumer of the HTTP contract).
type DataRequest struct {
	Payload        []byte
	TTLSeconds     int32
	BasedOn        *kadid.ID
	PublicKey      []byte
	ProtectedEntry bool
	ClaimDomain    bool
	PutIfAbsent    bool
	Flag1          bool
	Flag2          bool
}

func (r DataRequest) toWire() map[string]any {
	body := map[string]any{
		"payload":        base64.StdEncoding.EncodeToString(r.Payload),
		"ttlSeconds":     r.TTLSeconds,
		"protectedEntry": r.ProtectedEntry,
		"claimDomain":    r.ClaimDomain,
		"putIfAbsent":    r.PutIfAbsent,
		"flag1":          r.Flag1,
		"flag2":          r.Flag2,
	}
	if r.BasedOn != nil {
		body["basedOn"] = r.BasedOn.String()
	}
	if r.PublicKey != nil {
		body["publicKey"] = base64.StdEncoding.EncodeToString(r.PublicKey)
	}
	return body
}

// DataResponse is the decoded form of a GET /kv/... response.
type DataResponse struct {
	Payload        []byte    `json:"-"`
	Type           string    `json:"type"`
	TTLSeconds     int32     `json:"ttlSeconds"`
	ExpiresAt      time.Time `json:"expiresAt"`
	BasedOn        string    `json:"basedOn"`
	ProtectedEntry bool      `json:"protectedEntry"`
	Flag1          bool      `json:"flag1"`
	Flag2          bool      `json:"flag2"`
}

func keyPath(key kadid.Key640) string {
	return fmt.Sprintf("/kv/%s/%s/%s/%s", key.Location, key.Domain, key.Content, key.Version)
}

// Put issues PUT /kv/:location/:domain/:content/:version.
func (c *Client) Put(ctx context.Context, key kadid.Key640, req DataRequest) (string, error) {
	return c.writeRequest(ctx, http.MethodPut, keyPath(key), req)
}

// Add issues a PUT with putIfAbsent forced true.
func (c *Client) Add(ctx context.Context, key kadid.Key640, req DataRequest) (string, error) {
	req.PutIfAbsent = true
	return c.writeRequest(ctx, http.MethodPut, keyPath(key), req)
}

func (c *Client) writeRequest(ctx context.Context, method, path string, req DataRequest) (string, error) {
	body, err := json.Marshal(req.toWire())
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}
	var result struct {
		Result string `json:"result"`
	}
	return result.Result, json.NewDecoder(resp.Body).Decode(&result)
}

// Get retrieves the entry at key. Returns ErrNotFound when absent.
func (c *Client) Get(ctx context.Context, key kadid.Key640) (*DataResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+keyPath(key), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var wire struct {
		Payload string `json:"payload"`
		DataResponse
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, err
	}
	payload, err := base64.StdEncoding.DecodeString(wire.Payload)
	if err != nil {
		return nil, err
	}
	wire.DataResponse.Payload = payload
	return &wire.DataResponse, nil
}

// Remove issues DELETE /kv/:location/:domain/:content/:version.
func (c *Client) Remove(ctx context.Context, key kadid.Key640, publicKey []byte) (string, error) {
	body, _ := json.Marshal(map[string]string{"publicKey": base64.StdEncoding.EncodeToString(publicKey)})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+keyPath(key), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("DELETE request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}
	var result struct {
		Result string `json:"result"`
	}
	return result.Result, json.NewDecoder(resp.Body).Decode(&result)
}

// Digest issues GET /kv/:location/digest.
func (c *Client) Digest(ctx context.Context, location kadid.ID) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/kv/%s/digest", c.baseURL, location), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var result struct {
		Hashes map[string]string `json:"hashes"`
	}
	return result.Hashes, json.NewDecoder(resp.Body).Decode(&result)
}

// Bootstrap issues POST /peers/bootstrap.
func (c *Client) Bootstrap(ctx context.Context, seeds []string) error {
	body, _ := json.Marshal(map[string][]string{"seeds": seeds})
	return c.postNoContent(ctx, "/peers/bootstrap", body)
}

// Ping issues POST /peers/ping.
func (c *Client) Ping(ctx context.Context, address string) error {
	body, _ := json.Marshal(map[string]string{"address": address})
	return c.postNoContent(ctx, "/peers/ping", body)
}

// SendDirect issues POST /direct/:peerID.
func (c *Client) SendDirect(ctx context.Context, peerID kadid.ID, payload []byte, cancelOnFinish bool) ([][]byte, error) {
	body, _ := json.Marshal(map[string]any{
		"payload":        base64.StdEncoding.EncodeToString(payload),
		"cancelOnFinish": cancelOnFinish,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/direct/%s", c.baseURL, peerID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var result struct {
		Responses []string `json:"responses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	out := make([][]byte, len(result.Responses))
	for i, r := range result.Responses {
		decoded, err := base64.StdEncoding.DecodeString(r)
		if err != nil {
			return nil, err
		}
		out[i] = decoded
	}
	return out, nil
}

// Broadcast issues POST /broadcast.
func (c *Client) Broadcast(ctx context.Context, payload []byte) error {
	body, _ := json.Marshal(map[string]string{"payload": base64.StdEncoding.EncodeToString(payload)})
	return c.postNoContent(ctx, "/broadcast", body)
}

// Shutdown issues POST /shutdown.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.postNoContent(ctx, "/shutdown", nil)
}

func (c *Client) postNoContent(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// ErrNotFound is returned when the requested key does not exist.
var ErrNotFound = fmt.Errorf("nodeclient: key not found")

// APIError carries the HTTP status and the error message from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nodeclient: HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

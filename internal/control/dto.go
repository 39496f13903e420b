package control

import (
	"encoding/base64"
	"encoding/hex"
	"time"

	"dhtcore/internal/codec"
	"dhtcore/internal/kadid"
)

// DataRequest is the JSON body accepted by PUT /kv/:location/:domain/:content/:version
// (spec §6). Payload is base64; basedOn, when set, is hex-encoded.
type DataRequest struct {
	Payload        string `json:"payload"`
	TTLSeconds     int32  `json:"ttlSeconds,omitempty"`
	BasedOn        string `json:"basedOn,omitempty"`
	PublicKey      string `json:"publicKey,omitempty"`
	ProtectedEntry bool   `json:"protectedEntry,omitempty"`
	ClaimDomain    bool   `json:"claimDomain,omitempty"`
	PutIfAbsent    bool   `json:"putIfAbsent,omitempty"`
	Flag1          bool   `json:"flag1,omitempty"`
	Flag2          bool   `json:"flag2,omitempty"`
}

// ToData decodes the wire request into a codec.Data ready for storage.Put.
func (r DataRequest) ToData() (*codec.Data, []byte, error) {
	payload, err := base64.StdEncoding.DecodeString(r.Payload)
	if err != nil {
		return nil, nil, err
	}
	d := &codec.Data{
		Payload:        payload,
		Type:           codec.ClassifyLength(len(payload)),
		TTLSeconds:     r.TTLSeconds,
		HasTTL:         r.TTLSeconds > 0,
		ProtectedEntry: r.ProtectedEntry,
		Flag1:          r.Flag1,
		Flag2:          r.Flag2,
		ValidFrom:      time.Now(),
	}
	if r.BasedOn != "" {
		basedOn, err := kadid.IDFromHex(r.BasedOn)
		if err != nil {
			return nil, nil, err
		}
		d.BasedOn = basedOn
		d.HasBasedOn = true
	}
	var publicKey []byte
	if r.PublicKey != "" {
		publicKey, err = base64.StdEncoding.DecodeString(r.PublicKey)
		if err != nil {
			return nil, nil, err
		}
		d.PublicKey = publicKey
	}
	return d, publicKey, nil
}

// DataResponse is the JSON shape returned by GET /kv/:location/:domain/:content/:version.
type DataResponse struct {
	Payload        string    `json:"payload"`
	Type           string    `json:"type"`
	TTLSeconds     int32     `json:"ttlSeconds,omitempty"`
	ExpiresAt      time.Time `json:"expiresAt,omitempty"`
	BasedOn        string    `json:"basedOn,omitempty"`
	ProtectedEntry bool      `json:"protectedEntry"`
	Flag1          bool      `json:"flag1"`
	Flag2          bool      `json:"flag2"`
}

// NewDataResponse converts a stored Data entry into its wire
// representation.
func NewDataResponse(d *codec.Data) DataResponse {
	resp := DataResponse{
		Payload:        base64.StdEncoding.EncodeToString(d.Payload),
		Type:           payloadTypeName(d.Type),
		TTLSeconds:     d.TTLSeconds,
		ExpiresAt:      d.ExpiresAt(),
		ProtectedEntry: d.ProtectedEntry,
		Flag1:          d.Flag1,
		Flag2:          d.Flag2,
	}
	if d.HasBasedOn {
		resp.BasedOn = d.BasedOn.String()
	}
	return resp
}

func payloadTypeName(t codec.PayloadType) string {
	switch t {
	case codec.Small:
		return "small"
	case codec.Medium:
		return "medium"
	case codec.Large:
		return "large"
	default:
		return "unknown"
	}
}

// DigestResponse is the JSON shape returned by GET /kv/:location/digest.
type DigestResponse struct {
	Hashes map[string]string `json:"hashes"`
}

// NewDigestResponse converts a storage.Digest into its wire
// representation, hex-encoding both keys (all four coordinates) and hashes.
func NewDigestResponse(hashes map[kadid.Key640][20]byte) DigestResponse {
	out := DigestResponse{Hashes: make(map[string]string, len(hashes))}
	for k, h := range hashes {
		out.Hashes[hex.EncodeToString(k.Bytes())] = hex.EncodeToString(h[:])
	}
	return out
}

package control

import (
	"encoding/base64"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dhtcore/internal/kadid"
	"dhtcore/internal/storage"
)

type handler struct {
	node Node
}

func keyFromParams(c *gin.Context) (kadid.Key640, error) {
	location, err := kadid.IDFromHex(c.Param("location"))
	if err != nil {
		return kadid.Key640{}, err
	}
	domain, err := kadid.IDFromHex(c.Param("domain"))
	if err != nil {
		return kadid.Key640{}, err
	}
	content, err := kadid.IDFromHex(c.Param("content"))
	if err != nil {
		return kadid.Key640{}, err
	}
	version, err := kadid.IDFromHex(c.Param("version"))
	if err != nil {
		return kadid.Key640{}, err
	}
	return kadid.Key640{Location: location, Domain: domain, Content: content, Version: version}, nil
}

// health handles GET /health (spec §6: "liveness + peer-map size + storage
// entry count").
func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"peerCount":      len(h.node.Peers()),
		"overflowCount":  len(h.node.OverflowPeers()),
		"storageEntries": h.node.StorageEntryCount(),
	})
}

// put handles PUT /kv/:location/:domain/:content/:version.
func (h *handler) put(c *gin.Context) {
	key, err := keyFromParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req DataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, opErr := dispatchWrite(c, h.node, key, req)
	if opErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": opErr.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result.String()})
}

func dispatchWrite(c *gin.Context, node Node, key kadid.Key640, req DataRequest) (storage.Result, error) {
	if req.PutIfAbsent {
		return node.Add(c.Request.Context(), key, req)
	}
	return node.Put(c.Request.Context(), key, req)
}

// get handles GET /kv/:location/:domain/:content/:version.
func (h *handler) get(c *gin.Context) {
	key, err := keyFromParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, ok, err := h.node.Get(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, d)
}

// remove handles DELETE /kv/:location/:domain/:content/:version.
func (h *handler) remove(c *gin.Context) {
	key, err := keyFromParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var body struct {
		PublicKey string `json:"publicKey,omitempty"`
	}
	_ = c.ShouldBindJSON(&body)
	var publicKey []byte
	if body.PublicKey != "" {
		publicKey, err = base64.StdEncoding.DecodeString(body.PublicKey)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := h.node.Remove(c.Request.Context(), key, publicKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result.String()})
}

// digest handles GET /kv/:location/digest.
func (h *handler) digest(c *gin.Context) {
	location, err := kadid.IDFromHex(c.Param("location"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	from := kadid.Key640{Location: location}
	to := kadid.Key640{Location: location, Domain: kadid.Max, Content: kadid.Max, Version: kadid.Max}

	dg, err := h.node.Digest(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, NewDigestResponse(dg.Hashes))
}

// bootstrap handles POST /peers/bootstrap.
func (h *handler) bootstrap(c *gin.Context) {
	var body struct {
		Seeds []string `json:"seeds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	seeds := make([]kadid.PeerAddress, 0, len(body.Seeds))
	for _, s := range body.Seeds {
		addr, err := parseHostPort(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		seeds = append(seeds, addr)
	}
	if err := h.node.Bootstrap(c.Request.Context(), seeds); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// listPeers handles GET /peers.
func (h *handler) listPeers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"verified": h.node.Peers(),
		"overflow": h.node.OverflowPeers(),
	})
}

// ping handles POST /peers/ping.
func (h *handler) ping(c *gin.Context) {
	var body struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	addr, err := parseHostPort(body.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.node.Ping(c.Request.Context(), addr); err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// sendDirect handles POST /direct/:peerID.
func (h *handler) sendDirect(c *gin.Context) {
	target, err := kadid.IDFromHex(c.Param("peerID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var body struct {
		Payload        string `json:"payload" binding:"required"`
		CancelOnFinish bool   `json:"cancelOnFinish,omitempty"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload, err := base64.StdEncoding.DecodeString(body.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	responses, err := h.node.SendDirect(c.Request.Context(), target, payload, body.CancelOnFinish)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	encoded := make([]string, len(responses))
	for i, r := range responses {
		encoded[i] = base64.StdEncoding.EncodeToString(r)
	}
	c.JSON(http.StatusOK, gin.H{"responses": encoded})
}

// broadcast handles POST /broadcast.
func (h *handler) broadcast(c *gin.Context) {
	var body struct {
		Payload string `json:"payload" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload, err := base64.StdEncoding.DecodeString(body.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.node.Broadcast(c.Request.Context(), payload); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// shutdown handles POST /shutdown.
func (h *handler) shutdown(c *gin.Context) {
	if err := h.node.Shutdown(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// relayStatus handles GET /relay/status.
func (h *handler) relayStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.node.RelayStatus())
}

func parseHostPort(s string) (kadid.PeerAddress, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return kadid.PeerAddress{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return kadid.PeerAddress{}, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return kadid.PeerAddress{}, err
		}
		ip = resolved.IP
	}
	return kadid.PeerAddress{IP: ip, TCPPort: uint16(port)}, nil
}

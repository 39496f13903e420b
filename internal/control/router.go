package control

import (
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin.Engine exposing node's control-plane API (spec
// §6), mounted with the same Logger/Recovery middleware shape the teacher
// uses in internal/api/middleware.go.
func NewRouter(node Node) *gin.Engine {
	r := gin.New()
	r.Use(Logger(), Recovery())

	h := &handler{node: node}

	r.GET("/health", h.health)

	kv := r.Group("/kv")
	kv.PUT("/:location/:domain/:content/:version", h.put)
	kv.GET("/:location/:domain/:content/:version", h.get)
	kv.DELETE("/:location/:domain/:content/:version", h.remove)
	kv.GET("/:location/digest", h.digest)

	peers := r.Group("/peers")
	peers.POST("/bootstrap", h.bootstrap)
	peers.GET("", h.listPeers)
	peers.POST("/ping", h.ping)

	r.POST("/direct/:peerID", h.sendDirect)
	r.POST("/broadcast", h.broadcast)
	r.POST("/shutdown", h.shutdown)
	r.GET("/relay/status", h.relayStatus)

	return r
}

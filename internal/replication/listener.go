package replication

import (
	"context"

	"dhtcore/internal/kadid"
	"dhtcore/internal/peermap"
)

// PeerInserted implements peermap.Listener (spec §4.7 "Inputs: peer-map
// insert/remove events"). A newly-inserted peer (verified or overflow) may have become closer
// than self to location keys this peer holds content for, so every held
// location is re-checked for otherResponsible.
func (c *Controller) PeerInserted(addr kadid.PeerAddress) {
	go c.onTopologyChange(addr, true)
}

// PeerRemoved implements peermap.Listener: a departing peer may have left
// self newly responsible for keys it used to cover.
func (c *Controller) PeerRemoved(id kadid.ID, reason peermap.RemoveReason) {
	go c.onTopologyChange(kadid.PeerAddress{PeerID: id}, false)
}

// PeerUpdated implements peermap.Listener; address-only changes do not
// affect responsibility.
func (c *Controller) PeerUpdated(addr kadid.PeerAddress) {}

func (c *Controller) onTopologyChange(changed kadid.PeerAddress, inserted bool) {
	ctx := context.Background()
	for _, locationKey := range c.store.FindContentForResponsiblePeer(c.selfID) {
		if inserted && c.isCloserThanSelf(changed.PeerID, locationKey) {
			c.OtherResponsible(ctx, locationKey, changed, true)
			continue
		}
		if !inserted {
			c.MeResponsible(ctx, locationKey)
		}
	}
}

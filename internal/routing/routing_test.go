package routing

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"dhtcore/internal/kadid"
)

func mkAddr(name string) kadid.PeerAddress {
	return kadid.PeerAddress{PeerID: kadid.HashID([]byte(name)), IP: net.ParseIP("127.0.0.1"), TCPPort: 4000}
}

func TestRouteToClosestConverges(t *testing.T) {
	target := kadid.HashID([]byte("target"))

	seed := []kadid.PeerAddress{mkAddr("a"), mkAddr("b")}
	extra := mkAddr("c")

	local := func(target kadid.ID, k int) []kadid.PeerAddress { return seed }
	calls := 0
	neighbors := func(ctx context.Context, peer kadid.PeerAddress, target kadid.ID) ([]kadid.PeerAddress, error) {
		calls++
		if calls == 1 {
			return []kadid.PeerAddress{extra}, nil
		}
		return nil, nil
	}

	res, err := RouteToClosest(context.Background(), target, Config{Alpha: 2, K: 5, MaxNoNewInfo: 2, MaxFailures: 10}, local, neighbors)
	require.NoError(t, err)
	require.NotEmpty(t, res.Peers)

	for i := 1; i < len(res.Peers); i++ {
		require.True(t, kadid.DistanceLess(target, res.Peers[i-1].PeerID, res.Peers[i].PeerID) || res.Peers[i-1].PeerID == res.Peers[i].PeerID)
	}
}

func TestRouteToClosestTerminatesOnFailures(t *testing.T) {
	target := kadid.HashID([]byte("target"))
	seed := []kadid.PeerAddress{mkAddr("a"), mkAddr("b")}
	local := func(target kadid.ID, k int) []kadid.PeerAddress { return seed }
	failingNeighbors := func(ctx context.Context, peer kadid.PeerAddress, target kadid.ID) ([]kadid.PeerAddress, error) {
		return nil, errBoom
	}
	res, err := RouteToClosest(context.Background(), target, Config{Alpha: 2, K: 5, MaxNoNewInfo: 10, MaxFailures: 1}, local, failingNeighbors)
	require.NoError(t, err)
	require.NotNil(t, res)
}

var errBoom = &boomErr{}

type boomErr struct{}

func (*boomErr) Error() string { return "boom" }

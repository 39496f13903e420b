package kadid

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// MaxRelays bounds how many relay endpoints a relayed peer may advertise at
// once (spec §4.8).
const MaxRelays = 5

// AddrFlags are the boolean flags carried on a PeerAddress.
type AddrFlags struct {
	FirewalledTCP bool
	FirewalledUDP bool
	Relayed       bool
}

func (f AddrFlags) encode() byte {
	var b byte
	if f.FirewalledTCP {
		b |= 1 << 0
	}
	if f.FirewalledUDP {
		b |= 1 << 1
	}
	if f.Relayed {
		b |= 1 << 2
	}
	return b
}

func decodeAddrFlags(b byte) AddrFlags {
	return AddrFlags{
		FirewalledTCP: b&(1<<0) != 0,
		FirewalledUDP: b&(1<<1) != 0,
		Relayed:       b&(1<<2) != 0,
	}
}

// PeerAddress is the routable identity of a peer: its ID plus the socket(s)
// it can be reached on, and, when relayed, the relay set standing in for
// direct reachability.
type PeerAddress struct {
	PeerID             ID
	IP                 net.IP
	TCPPort            uint16
	UDPPort            uint16
	Flags              AddrFlags
	PeerSocketAddrs    []PeerAddress // up to MaxRelays relay endpoints
}

// ErrTooManyRelays is returned by Encode when PeerSocketAddrs exceeds
// MaxRelays.
var ErrTooManyRelays = errors.New("kadid: too many relay addresses")

// Encode serializes a PeerAddress to its wire form:
// options(1) | peerId(20) | addressType(1) | address(4 or 16) | tcpPort(2)
// | udpPort(2) | [relayCount(1) | {relay PeerAddress}].
func (a PeerAddress) Encode() ([]byte, error) {
	if len(a.PeerSocketAddrs) > MaxRelays {
		return nil, ErrTooManyRelays
	}
	ip4 := a.IP.To4()
	addrType := byte(1)
	addrBytes := ip4
	if ip4 == nil {
		addrType = 0
		ip16 := a.IP.To16()
		if ip16 == nil {
			return nil, fmt.Errorf("kadid: invalid IP address")
		}
		addrBytes = ip16
	}

	buf := make([]byte, 0, 1+IDLen+1+len(addrBytes)+2+2+1)
	buf = append(buf, a.Flags.encode())
	buf = append(buf, a.PeerID[:]...)
	buf = append(buf, addrType)
	buf = append(buf, addrBytes...)
	buf = binary.BigEndian.AppendUint16(buf, a.TCPPort)
	buf = binary.BigEndian.AppendUint16(buf, a.UDPPort)

	if a.Flags.Relayed {
		buf = append(buf, byte(len(a.PeerSocketAddrs)))
		for _, relay := range a.PeerSocketAddrs {
			relayBuf, err := relay.Encode()
			if err != nil {
				return nil, err
			}
			buf = append(buf, relayBuf...)
		}
	}
	return buf, nil
}

// DecodePeerAddress parses the wire form produced by Encode, returning the
// address and the number of bytes consumed.
func DecodePeerAddress(buf []byte) (PeerAddress, int, error) {
	if len(buf) < 1+IDLen+1+2+2 {
		return PeerAddress{}, 0, fmt.Errorf("kadid: peer address truncated")
	}
	pos := 0
	flags := decodeAddrFlags(buf[pos])
	pos++
	var peerID ID
	copy(peerID[:], buf[pos:pos+IDLen])
	pos += IDLen
	addrType := buf[pos]
	pos++

	var addrLen int
	switch addrType {
	case 1:
		addrLen = 4
	case 0:
		addrLen = 16
	default:
		return PeerAddress{}, 0, fmt.Errorf("kadid: unknown address type %d", addrType)
	}
	if len(buf) < pos+addrLen+4 {
		return PeerAddress{}, 0, fmt.Errorf("kadid: peer address truncated")
	}
	ip := net.IP(append([]byte(nil), buf[pos:pos+addrLen]...))
	pos += addrLen
	tcpPort := binary.BigEndian.Uint16(buf[pos:])
	pos += 2
	udpPort := binary.BigEndian.Uint16(buf[pos:])
	pos += 2

	out := PeerAddress{
		PeerID:  peerID,
		IP:      ip,
		TCPPort: tcpPort,
		UDPPort: udpPort,
		Flags:   flags,
	}

	if flags.Relayed {
		if len(buf) < pos+1 {
			return PeerAddress{}, 0, fmt.Errorf("kadid: peer address truncated (relay count)")
		}
		count := int(buf[pos])
		pos++
		relays := make([]PeerAddress, 0, count)
		for i := 0; i < count; i++ {
			relay, n, err := DecodePeerAddress(buf[pos:])
			if err != nil {
				return PeerAddress{}, 0, err
			}
			relays = append(relays, relay)
			pos += n
		}
		out.PeerSocketAddrs = relays
	}
	return out, pos, nil
}

// String renders a PeerAddress for logs/diagnostics.
func (a PeerAddress) String() string {
	return fmt.Sprintf("%s@%s:%d", a.PeerID, a.IP, a.TCPPort)
}

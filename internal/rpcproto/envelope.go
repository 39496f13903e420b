package rpcproto

import (
	"encoding/binary"
	"fmt"

	"dhtcore/internal/kadid"
)

// ProtocolMagic identifies this wire protocol, the first two bytes of
// every envelope (spec §6).
const ProtocolMagic uint16 = 0xCA7E

// Command identifies an RPC family (spec §4.4).
type Command byte

const (
	CmdPing Command = iota
	CmdStore
	CmdNeighbors
	CmdDirect
	CmdQuit
	CmdPeerExchange
	CmdBroadcast
	CmdRelay
)

// StoreSubCommand distinguishes the STORE command's variants.
type StoreSubCommand byte

const (
	StorePut StoreSubCommand = iota
	StoreAdd
	StoreRemove
	StoreGet
	StoreDigest
	StoreGetRangeFiltered
	StoreDigestKeys
)

// RelaySubCommand distinguishes the RELAY command's variants.
type RelaySubCommand byte

const (
	RelayRegister RelaySubCommand = iota
	RelayForward
)

// MessageType is the request/ack/ok/partial/fail discriminator.
type MessageType byte

const (
	TypeRequest MessageType = iota
	TypeAck
	TypeOK
	TypePartial
	TypeFail
)

// Envelope is the fixed-shape message header every RPC begins with:
// magic(2) | command(1) | type(1) | messageID(4) | senderAddr(var) |
// recipientID(20) | payload.
type Envelope struct {
	Command     Command
	Type        MessageType
	MessageID   uint32
	Sender      kadid.PeerAddress
	RecipientID kadid.ID
	Payload     []byte
}

// Encode serializes the envelope to its wire form.
func (e Envelope) Encode() ([]byte, error) {
	senderBuf, err := e.Sender.Encode()
	if err != nil {
		return nil, fmt.Errorf("rpcproto: encode sender address: %w", err)
	}
	buf := make([]byte, 0, 2+1+1+4+len(senderBuf)+kadid.IDLen+len(e.Payload))
	buf = binary.BigEndian.AppendUint16(buf, ProtocolMagic)
	buf = append(buf, byte(e.Command), byte(e.Type))
	buf = binary.BigEndian.AppendUint32(buf, e.MessageID)
	buf = append(buf, senderBuf...)
	buf = append(buf, e.RecipientID[:]...)
	buf = append(buf, e.Payload...)
	return buf, nil
}

// DecodeEnvelope parses the wire form produced by Encode.
func DecodeEnvelope(buf []byte) (Envelope, error) {
	if len(buf) < 2+1+1+4 {
		return Envelope{}, ErrProtocolViolation
	}
	magic := binary.BigEndian.Uint16(buf)
	if magic != ProtocolMagic {
		return Envelope{}, ErrProtocolViolation
	}
	pos := 2
	cmd := Command(buf[pos])
	pos++
	typ := MessageType(buf[pos])
	pos++
	msgID := binary.BigEndian.Uint32(buf[pos:])
	pos += 4

	sender, n, err := kadid.DecodePeerAddress(buf[pos:])
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	pos += n

	if len(buf) < pos+kadid.IDLen {
		return Envelope{}, ErrProtocolViolation
	}
	var recipient kadid.ID
	copy(recipient[:], buf[pos:pos+kadid.IDLen])
	pos += kadid.IDLen

	return Envelope{
		Command:     cmd,
		Type:        typ,
		MessageID:   msgID,
		Sender:      sender,
		RecipientID: recipient,
		Payload:     append([]byte(nil), buf[pos:]...),
	}, nil
}

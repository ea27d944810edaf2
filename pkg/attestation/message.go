package attestation

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"cctp-bridge/pkg/types"
)

const (
	messageHeaderLen = 116
	burnBodyLen      = 132
)

// Message is a decoded CCTP v1 message header
type Message struct {
	Version           uint32
	SourceDomain      types.Domain
	DestinationDomain types.Domain
	Nonce             uint64
	Sender            common.Hash
	Recipient         common.Hash
	DestinationCaller common.Hash
	Body              []byte
}

// BurnMessage is the TokenMessenger body carried by a burn
type BurnMessage struct {
	Version       uint32
	BurnToken     common.Hash
	MintRecipient common.Hash
	Amount        *big.Int
	MessageSender common.Hash
}

// ParseMessage decodes the fixed-layout CCTP message header
func ParseMessage(raw []byte) (*Message, error) {
	if len(raw) < messageHeaderLen {
		return nil, fmt.Errorf("message too short: %d bytes", len(raw))
	}

	return &Message{
		Version:           binary.BigEndian.Uint32(raw[0:4]),
		SourceDomain:      types.Domain(binary.BigEndian.Uint32(raw[4:8])),
		DestinationDomain: types.Domain(binary.BigEndian.Uint32(raw[8:12])),
		Nonce:             binary.BigEndian.Uint64(raw[12:20]),
		Sender:            common.BytesToHash(raw[20:52]),
		Recipient:         common.BytesToHash(raw[52:84]),
		DestinationCaller: common.BytesToHash(raw[84:116]),
		Body:              raw[messageHeaderLen:],
	}, nil
}

// ParseMessageHex decodes a 0x-prefixed message as returned by the API
func ParseMessageHex(s string) (*Message, error) {
	raw, err := hexutil.Decode(ensure0x(s))
	if err != nil {
		return nil, fmt.Errorf("invalid message hex: %w", err)
	}
	return ParseMessage(raw)
}

// BurnMessage decodes the message body as a TokenMessenger burn
func (m *Message) BurnMessage() (*BurnMessage, error) {
	if len(m.Body) < burnBodyLen {
		return nil, fmt.Errorf("burn message body too short: %d bytes", len(m.Body))
	}

	b := m.Body
	return &BurnMessage{
		Version:       binary.BigEndian.Uint32(b[0:4]),
		BurnToken:     common.BytesToHash(b[4:36]),
		MintRecipient: common.BytesToHash(b[36:68]),
		Amount:        new(big.Int).SetBytes(b[68:100]),
		MessageSender: common.BytesToHash(b[100:132]),
	}, nil
}

// EncodeMessage builds the wire form of a message. Used by relayers and tests.
func EncodeMessage(m Message) []byte {
	out := make([]byte, messageHeaderLen, messageHeaderLen+len(m.Body))
	binary.BigEndian.PutUint32(out[0:4], m.Version)
	binary.BigEndian.PutUint32(out[4:8], uint32(m.SourceDomain))
	binary.BigEndian.PutUint32(out[8:12], uint32(m.DestinationDomain))
	binary.BigEndian.PutUint64(out[12:20], m.Nonce)
	copy(out[20:52], m.Sender[:])
	copy(out[52:84], m.Recipient[:])
	copy(out[84:116], m.DestinationCaller[:])
	return append(out, m.Body...)
}

// EncodeBurnMessage builds the wire form of a burn body
func EncodeBurnMessage(b BurnMessage) []byte {
	out := make([]byte, burnBodyLen)
	binary.BigEndian.PutUint32(out[0:4], b.Version)
	copy(out[4:36], b.BurnToken[:])
	copy(out[36:68], b.MintRecipient[:])
	if b.Amount != nil {
		b.Amount.FillBytes(out[68:100])
	}
	copy(out[100:132], b.MessageSender[:])
	return out
}

package wire

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/razenet/razed/config"
)

// ProtocolVersion is the version this node speaks and requires of peers.
const ProtocolVersion = 1

// Message is a decoded header plus its payload, ready to be dispatched by
// the network layer's visitor.
type Message struct {
	Header  Header
	Payload interface{} // *Keepalive, *Publish, *ConfirmReq or *ConfirmAck
}

// Keepalive carries up to KeepalivePeerCount peer endpoints; unused slots
// are the zero endpoint.
type Keepalive struct {
	Peers [KeepalivePeerCount]Endpoint
}

// Publish carries a single block announced without requesting a vote.
type Publish struct {
	Block Block
}

// ConfirmReq asks the recipient to vote on Block's root.
type ConfirmReq struct {
	Block Block
}

// ConfirmAck carries a single vote.
type ConfirmAck struct {
	Vote *Vote
}

func newHeader(network config.Network, msgType MessageType, blockType BlockType) Header {
	return newHeaderForBlockType(network, msgType, blockType, ProtocolVersion, ProtocolVersion, ProtocolVersion)
}

// NewKeepaliveMessage builds a keepalive Message from up to
// KeepalivePeerCount endpoints. Extra endpoints beyond the slot count are
// ignored; missing slots are zero-padded.
func NewKeepaliveMessage(network config.Network, peers []Endpoint) *Message {
	var ka Keepalive
	for i := 0; i < KeepalivePeerCount && i < len(peers); i++ {
		ka.Peers[i] = peers[i]
	}
	return &Message{
		Header:  newHeader(network, MessageTypeKeepalive, BlockTypeInvalid),
		Payload: &ka,
	}
}

// NewPublishMessage builds a publish Message carrying block.
func NewPublishMessage(network config.Network, block Block) *Message {
	return &Message{
		Header:  newHeader(network, MessageTypePublish, block.Type()),
		Payload: &Publish{Block: block},
	}
}

// NewConfirmReqMessage builds a confirm_req Message carrying block.
func NewConfirmReqMessage(network config.Network, block Block) *Message {
	return &Message{
		Header:  newHeader(network, MessageTypeConfirmReq, block.Type()),
		Payload: &ConfirmReq{Block: block},
	}
}

// NewConfirmAckMessage builds a confirm_ack Message carrying vote.
func NewConfirmAckMessage(network config.Network, vote *Vote) *Message {
	return &Message{
		Header:  newHeader(network, MessageTypeConfirmAck, vote.BlockType),
		Payload: &ConfirmAck{Vote: vote},
	}
}

// Encode serializes the full datagram (header and payload) to w.
func (m *Message) Encode(w io.Writer) error {
	if err := m.Header.Encode(w); err != nil {
		return err
	}
	switch payload := m.Payload.(type) {
	case *Keepalive:
		for _, peer := range payload.Peers {
			if err := peer.Encode(w); err != nil {
				return err
			}
		}
	case *Publish:
		return payload.Block.Encode(w)
	case *ConfirmReq:
		return payload.Block.Encode(w)
	case *ConfirmAck:
		return payload.Vote.Encode(w)
	default:
		return errors.Errorf("wire: unknown payload type %T", m.Payload)
	}
	return nil
}

// MarshalMessage returns the encoded datagram as a byte slice, ready to
// hand to a UDP socket's WriteTo.
func MarshalMessage(m *Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMessage reads a full datagram (header and payload) from r.
func DecodeMessage(r io.Reader) (*Message, error) {
	header, err := DecodeHeader(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode header")
	}

	m := &Message{Header: header}

	switch header.Type {
	case MessageTypeKeepalive:
		var ka Keepalive
		for i := range ka.Peers {
			endpoint, err := DecodeEndpoint(r)
			if err != nil {
				return nil, errors.Wrap(err, "failed to decode keepalive endpoint")
			}
			ka.Peers[i] = endpoint
		}
		m.Payload = &ka

	case MessageTypePublish:
		block, err := DecodeBlock(header.extensionsBlockType(), r)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode publish block")
		}
		m.Payload = &Publish{Block: block}

	case MessageTypeConfirmReq:
		block, err := DecodeBlock(header.extensionsBlockType(), r)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode confirm_req block")
		}
		m.Payload = &ConfirmReq{Block: block}

	case MessageTypeConfirmAck:
		vote, err := DecodeVote(r)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode confirm_ack vote")
		}
		m.Payload = &ConfirmAck{Vote: vote}

	default:
		return nil, errors.Errorf("unsupported message type %d", header.Type)
	}

	return m, nil
}

// UnmarshalMessage decodes a full datagram from a byte slice received off
// the wire.
func UnmarshalMessage(data []byte) (*Message, error) {
	return DecodeMessage(bytes.NewReader(data))
}

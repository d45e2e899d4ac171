// Package wire implements razed's UDP wire protocol: the fixed 8-byte
// message header, the block and vote encodings, and the four message types
// the core cares about (keepalive, publish, confirm_req, confirm_ack). The
// read/write-via-io.Reader/Writer shape and the binaryserializer helpers
// are grounded on the teacher's wire package; the message set itself is
// rewritten for the block-lattice protocol rather than kaspad's block/tx
// relay messages, which have no equivalent here.
package wire

import (
	"io"

	"github.com/pkg/errors"
	"github.com/razenet/razed/config"
	"github.com/razenet/razed/util/binaryserializer"
)

// MagicByte is the fixed first byte of every header.
const MagicByte = 'R'

// MessageType identifies the payload that follows a Header.
type MessageType uint8

// The message types named in the wire protocol. Only Keepalive, Publish,
// ConfirmReq and ConfirmAck are implemented by the core; the bootstrap
// message types are reserved so the type space matches the protocol even
// though their bodies are out of scope here.
const (
	MessageTypeInvalid        MessageType = 0
	MessageTypeNotAType       MessageType = 1
	MessageTypeKeepalive      MessageType = 2
	MessageTypePublish        MessageType = 3
	MessageTypeConfirmReq     MessageType = 4
	MessageTypeConfirmAck     MessageType = 5
	MessageTypeBulkPull       MessageType = 6
	MessageTypeBulkPush       MessageType = 7
	MessageTypeFrontierReq    MessageType = 8
	MessageTypeBulkPullBlocks MessageType = 9
)

// HeaderSize is the fixed on-wire size of a Header, in bytes.
const HeaderSize = 8

// Header is the fixed framing every UDP datagram begins with.
type Header struct {
	Network      config.Network
	VersionMax   uint8
	VersionUsing uint8
	VersionMin   uint8
	Type         MessageType
	Extensions   uint16
}

// extensionsBlockType extracts the block type a publish/confirm_req message
// carries from the low byte of the header's extensions field.
func (h Header) extensionsBlockType() BlockType {
	return BlockType(h.Extensions & 0xff)
}

func newHeaderForBlockType(network config.Network, msgType MessageType, blockType BlockType, versionMax, versionUsing, versionMin uint8) Header {
	return Header{
		Network:      network,
		VersionMax:   versionMax,
		VersionUsing: versionUsing,
		VersionMin:   versionMin,
		Type:         msgType,
		Extensions:   uint16(blockType),
	}
}

// Encode writes the header to w.
func (h Header) Encode(w io.Writer) error {
	if err := binaryserializer.PutUint8(w, MagicByte); err != nil {
		return err
	}
	if err := binaryserializer.PutUint8(w, byte(h.Network)); err != nil {
		return err
	}
	if err := binaryserializer.PutUint8(w, h.VersionMax); err != nil {
		return err
	}
	if err := binaryserializer.PutUint8(w, h.VersionUsing); err != nil {
		return err
	}
	if err := binaryserializer.PutUint8(w, h.VersionMin); err != nil {
		return err
	}
	if err := binaryserializer.PutUint8(w, uint8(h.Type)); err != nil {
		return err
	}
	return binaryserializer.PutUint16(w, h.Extensions)
}

// DecodeHeader reads a Header from r.
func DecodeHeader(r io.Reader) (Header, error) {
	var h Header

	magic, err := binaryserializer.Uint8(r)
	if err != nil {
		return h, err
	}
	if magic != MagicByte {
		return h, errors.Errorf("invalid magic byte 0x%x", magic)
	}

	network, err := binaryserializer.Uint8(r)
	if err != nil {
		return h, err
	}
	h.Network = config.Network(network)

	if h.VersionMax, err = binaryserializer.Uint8(r); err != nil {
		return h, err
	}
	if h.VersionUsing, err = binaryserializer.Uint8(r); err != nil {
		return h, err
	}
	if h.VersionMin, err = binaryserializer.Uint8(r); err != nil {
		return h, err
	}

	msgType, err := binaryserializer.Uint8(r)
	if err != nil {
		return h, err
	}
	h.Type = MessageType(msgType)

	if h.Extensions, err = binaryserializer.Uint16(r); err != nil {
		return h, err
	}

	return h, nil
}

package wire

import (
	"io"
	"math/big"

	"github.com/pkg/errors"
	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/util/binaryserializer"
)

// BlockType identifies which of the four block variants a Block is.
type BlockType uint8

// The block variants, matching the low byte of a publish/confirm_req
// header's extensions field.
const (
	BlockTypeInvalid BlockType = 0
	BlockTypeNotABlock BlockType = 1
	BlockTypeSend    BlockType = 2
	BlockTypeReceive BlockType = 3
	BlockTypeOpen    BlockType = 4
	BlockTypeChange  BlockType = 5
)

func (t BlockType) String() string {
	switch t {
	case BlockTypeSend:
		return "send"
	case BlockTypeReceive:
		return "receive"
	case BlockTypeOpen:
		return "open"
	case BlockTypeChange:
		return "change"
	default:
		return "invalid"
	}
}

// Block is the common interface every block variant implements: enough to
// compute its hash, locate it in the lattice (root/previous), and carry its
// proof-of-work and signature.
type Block interface {
	Type() BlockType
	// Preimage is the canonical field concatenation hashed to produce the
	// block's hash: every field except the signature and the work value.
	Preimage() []byte
	Hash() hash.Digest
	// Root is the account's public key for an open block, and the
	// previous-block hash for every other variant.
	Root() [32]byte
	// Previous is the zero hash for an open block.
	Previous() [32]byte
	Signature() [64]byte
	Work() uint64
	Encode(w io.Writer) error
}

// SendSize, ReceiveSize, OpenSize and ChangeSize are the fixed on-wire sizes
// of each block variant.
const (
	SendSize    = 32 + 32 + 16 + 64 + 8
	ReceiveSize = 32 + 32 + 64 + 8
	OpenSize    = 32 + 32 + 32 + 64 + 8
	ChangeSize  = 32 + 32 + 64 + 8
)

// SendBlock moves funds from the sending account to destination, debiting
// its balance to the new total carried in the block.
type SendBlock struct {
	PreviousHash [32]byte
	Destination  [32]byte
	Balance      [16]byte // new account balance, big-endian u128
	Sig          [64]byte
	WorkValue    uint64
}

// BalanceBig returns the block's new balance as a big.Int.
func (b *SendBlock) BalanceBig() *big.Int {
	return new(big.Int).SetBytes(b.Balance[:])
}

func (b *SendBlock) Type() BlockType { return BlockTypeSend }
func (b *SendBlock) Preimage() []byte {
	buf := make([]byte, 0, 32+32+16)
	buf = append(buf, b.PreviousHash[:]...)
	buf = append(buf, b.Destination[:]...)
	buf = append(buf, b.Balance[:]...)
	return buf
}
func (b *SendBlock) Hash() hash.Digest    { return hash.BlockHash(b.Preimage()) }
func (b *SendBlock) Root() [32]byte       { return b.PreviousHash }
func (b *SendBlock) Previous() [32]byte   { return b.PreviousHash }
func (b *SendBlock) Signature() [64]byte  { return b.Sig }
func (b *SendBlock) Work() uint64         { return b.WorkValue }
func (b *SendBlock) Encode(w io.Writer) error {
	if _, err := w.Write(b.PreviousHash[:]); err != nil {
		return err
	}
	if _, err := w.Write(b.Destination[:]); err != nil {
		return err
	}
	if _, err := w.Write(b.Balance[:]); err != nil {
		return err
	}
	if _, err := w.Write(b.Sig[:]); err != nil {
		return err
	}
	return binaryserializer.PutUint64(w, b.WorkValue)
}

// DecodeSendBlock reads a SendBlock from r.
func DecodeSendBlock(r io.Reader) (*SendBlock, error) {
	b := &SendBlock{}
	if _, err := io.ReadFull(r, b.PreviousHash[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, b.Destination[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, b.Balance[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, b.Sig[:]); err != nil {
		return nil, err
	}
	work, err := binaryserializer.Uint64(r)
	if err != nil {
		return nil, err
	}
	b.WorkValue = work
	return b, nil
}

// ReceiveBlock credits the account with the amount sent by the block at
// Source.
type ReceiveBlock struct {
	PreviousHash [32]byte
	Source       [32]byte
	Sig          [64]byte
	WorkValue    uint64
}

func (b *ReceiveBlock) Type() BlockType { return BlockTypeReceive }
func (b *ReceiveBlock) Preimage() []byte {
	buf := make([]byte, 0, 32+32)
	buf = append(buf, b.PreviousHash[:]...)
	buf = append(buf, b.Source[:]...)
	return buf
}
func (b *ReceiveBlock) Hash() hash.Digest   { return hash.BlockHash(b.Preimage()) }
func (b *ReceiveBlock) Root() [32]byte      { return b.PreviousHash }
func (b *ReceiveBlock) Previous() [32]byte  { return b.PreviousHash }
func (b *ReceiveBlock) Signature() [64]byte { return b.Sig }
func (b *ReceiveBlock) Work() uint64        { return b.WorkValue }
func (b *ReceiveBlock) Encode(w io.Writer) error {
	if _, err := w.Write(b.PreviousHash[:]); err != nil {
		return err
	}
	if _, err := w.Write(b.Source[:]); err != nil {
		return err
	}
	if _, err := w.Write(b.Sig[:]); err != nil {
		return err
	}
	return binaryserializer.PutUint64(w, b.WorkValue)
}

// DecodeReceiveBlock reads a ReceiveBlock from r.
func DecodeReceiveBlock(r io.Reader) (*ReceiveBlock, error) {
	b := &ReceiveBlock{}
	if _, err := io.ReadFull(r, b.PreviousHash[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, b.Source[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, b.Sig[:]); err != nil {
		return nil, err
	}
	work, err := binaryserializer.Uint64(r)
	if err != nil {
		return nil, err
	}
	b.WorkValue = work
	return b, nil
}

// OpenBlock is the first block on an account's chain: it has no previous,
// and its root is the account's own public key.
type OpenBlock struct {
	Source         [32]byte
	Representative [32]byte
	Account        [32]byte
	Sig            [64]byte
	WorkValue      uint64
}

func (b *OpenBlock) Type() BlockType { return BlockTypeOpen }
func (b *OpenBlock) Preimage() []byte {
	buf := make([]byte, 0, 32+32+32)
	buf = append(buf, b.Source[:]...)
	buf = append(buf, b.Representative[:]...)
	buf = append(buf, b.Account[:]...)
	return buf
}
func (b *OpenBlock) Hash() hash.Digest   { return hash.BlockHash(b.Preimage()) }
func (b *OpenBlock) Root() [32]byte      { return b.Account }
func (b *OpenBlock) Previous() [32]byte  { return [32]byte{} }
func (b *OpenBlock) Signature() [64]byte { return b.Sig }
func (b *OpenBlock) Work() uint64        { return b.WorkValue }
func (b *OpenBlock) Encode(w io.Writer) error {
	if _, err := w.Write(b.Source[:]); err != nil {
		return err
	}
	if _, err := w.Write(b.Representative[:]); err != nil {
		return err
	}
	if _, err := w.Write(b.Account[:]); err != nil {
		return err
	}
	if _, err := w.Write(b.Sig[:]); err != nil {
		return err
	}
	return binaryserializer.PutUint64(w, b.WorkValue)
}

// DecodeOpenBlock reads an OpenBlock from r.
func DecodeOpenBlock(r io.Reader) (*OpenBlock, error) {
	b := &OpenBlock{}
	if _, err := io.ReadFull(r, b.Source[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, b.Representative[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, b.Account[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, b.Sig[:]); err != nil {
		return nil, err
	}
	work, err := binaryserializer.Uint64(r)
	if err != nil {
		return nil, err
	}
	b.WorkValue = work
	return b, nil
}

// ChangeBlock updates an account's chosen representative without moving
// funds.
type ChangeBlock struct {
	PreviousHash   [32]byte
	Representative [32]byte
	Sig            [64]byte
	WorkValue      uint64
}

func (b *ChangeBlock) Type() BlockType { return BlockTypeChange }
func (b *ChangeBlock) Preimage() []byte {
	buf := make([]byte, 0, 32+32)
	buf = append(buf, b.PreviousHash[:]...)
	buf = append(buf, b.Representative[:]...)
	return buf
}
func (b *ChangeBlock) Hash() hash.Digest   { return hash.BlockHash(b.Preimage()) }
func (b *ChangeBlock) Root() [32]byte      { return b.PreviousHash }
func (b *ChangeBlock) Previous() [32]byte  { return b.PreviousHash }
func (b *ChangeBlock) Signature() [64]byte { return b.Sig }
func (b *ChangeBlock) Work() uint64        { return b.WorkValue }
func (b *ChangeBlock) Encode(w io.Writer) error {
	if _, err := w.Write(b.PreviousHash[:]); err != nil {
		return err
	}
	if _, err := w.Write(b.Representative[:]); err != nil {
		return err
	}
	if _, err := w.Write(b.Sig[:]); err != nil {
		return err
	}
	return binaryserializer.PutUint64(w, b.WorkValue)
}

// DecodeChangeBlock reads a ChangeBlock from r.
func DecodeChangeBlock(r io.Reader) (*ChangeBlock, error) {
	b := &ChangeBlock{}
	if _, err := io.ReadFull(r, b.PreviousHash[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, b.Representative[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, b.Sig[:]); err != nil {
		return nil, err
	}
	work, err := binaryserializer.Uint64(r)
	if err != nil {
		return nil, err
	}
	b.WorkValue = work
	return b, nil
}

// DecodeBlock reads a block of the given type from r.
func DecodeBlock(blockType BlockType, r io.Reader) (Block, error) {
	switch blockType {
	case BlockTypeSend:
		return DecodeSendBlock(r)
	case BlockTypeReceive:
		return DecodeReceiveBlock(r)
	case BlockTypeOpen:
		return DecodeOpenBlock(r)
	case BlockTypeChange:
		return DecodeChangeBlock(r)
	default:
		return nil, errors.Errorf("unknown block type %d", blockType)
	}
}

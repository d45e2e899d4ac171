package ledger

import (
	"bytes"
	"io"
	"math/big"

	"github.com/pkg/errors"
	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/util/binaryserializer"
	"github.com/razenet/razed/wire"
)

// BlockRecord is what the Ledger actually stores under a block's hash: the
// block's raw encoding alongside the "sideband" bookkeeping (owning
// account, successor, and amount moved) that lets the ledger resolve a
// block's owning account from its hash alone, the way Nano-derived ledgers
// do, without a generic chain walk.
type BlockRecord struct {
	Type      wire.BlockType
	Account   [32]byte
	Successor hash.Digest // zero if this is still the chain tip
	Amount    *big.Int    // amount sent (send) or received (receive/open)
	// PrevRepresentative is the account's representative immediately
	// before this block, populated only for change blocks, so a
	// force=true rollback can restore it without a further chain walk.
	PrevRepresentative [32]byte
	Block              wire.Block
}

// Encode serializes the record: type(1), account(32), successor(32),
// amount(16 BE), prev_representative(32), then the block's own wire
// encoding.
func (r *BlockRecord) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := binaryserializer.PutUint8(&buf, uint8(r.Type)); err != nil {
		return nil, err
	}
	buf.Write(r.Account[:])
	buf.Write(r.Successor[:])

	var amount [16]byte
	if r.Amount != nil {
		b := r.Amount.Bytes()
		copy(amount[16-len(b):], b)
	}
	buf.Write(amount[:])
	buf.Write(r.PrevRepresentative[:])

	if err := r.Block.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeBlockRecord parses a BlockRecord from its on-disk form.
func DecodeBlockRecord(data []byte) (*BlockRecord, error) {
	r := bytes.NewReader(data)

	blockType, err := binaryserializer.Uint8(r)
	if err != nil {
		return nil, err
	}

	rec := &BlockRecord{Type: wire.BlockType(blockType)}
	if _, err := io.ReadFull(r, rec.Account[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, rec.Successor[:]); err != nil {
		return nil, err
	}

	var amount [16]byte
	if _, err := io.ReadFull(r, amount[:]); err != nil {
		return nil, err
	}
	rec.Amount = new(big.Int).SetBytes(amount[:])

	if _, err := io.ReadFull(r, rec.PrevRepresentative[:]); err != nil {
		return nil, err
	}

	block, err := wire.DecodeBlock(rec.Type, r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode block body")
	}
	rec.Block = block

	return rec, nil
}

package wire

import (
	"io"

	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/util/binaryserializer"
)

// VoteSize is the fixed-size prefix of a Vote, excluding the variable-sized
// embedded block.
const VoteSize = 32 + 64 + 8 + 1

// Vote is a representative's assertion that Block is the winner for its
// root. Votes from the same account are totally ordered by Sequence.
type Vote struct {
	Account   [32]byte
	Sig       [64]byte
	Sequence  uint64
	BlockType BlockType
	Block     Block
}

// SigningHash returns the digest a representative signs to produce Sig:
// Blake2b-256 over the domain separator, the sequence, and the block hash.
func (v *Vote) SigningHash() hash.Digest {
	return hash.VoteHash(v.Sequence, v.Block.Hash())
}

// VerifySignature verifies Sig was produced by Account over SigningHash.
func (v *Vote) VerifySignature() bool {
	digest := v.SigningHash()
	return hash.VerifySignature(v.Account[:], digest[:], v.Sig[:])
}

// Encode writes the vote to w.
func (v *Vote) Encode(w io.Writer) error {
	if _, err := w.Write(v.Account[:]); err != nil {
		return err
	}
	if _, err := w.Write(v.Sig[:]); err != nil {
		return err
	}
	if err := binaryserializer.PutUint64(w, v.Sequence); err != nil {
		return err
	}
	if err := binaryserializer.PutUint8(w, uint8(v.BlockType)); err != nil {
		return err
	}
	return v.Block.Encode(w)
}

// DecodeVote reads a Vote from r.
func DecodeVote(r io.Reader) (*Vote, error) {
	v := &Vote{}
	if _, err := io.ReadFull(r, v.Account[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, v.Sig[:]); err != nil {
		return nil, err
	}
	seq, err := binaryserializer.Uint64(r)
	if err != nil {
		return nil, err
	}
	v.Sequence = seq

	blockType, err := binaryserializer.Uint8(r)
	if err != nil {
		return nil, err
	}
	v.BlockType = BlockType(blockType)

	block, err := DecodeBlock(v.BlockType, r)
	if err != nil {
		return nil, err
	}
	v.Block = block

	return v, nil
}

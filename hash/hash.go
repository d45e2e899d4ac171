// Package hash provides the cryptographic primitives razed treats as
// external collaborators: Blake2b-256 digests for blocks and votes, and the
// Blake2b-64 proof-of-work value function, plus an Ed25519 verification
// wrapper. The incremental-hashing shape (io.Writer plus a Finalize call)
// is grounded on the teacher's domain/consensus/utils/hashes.HashWriter.
package hash

import (
	"crypto/ed25519"
	"encoding/binary"
	"hash"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// Size is the length in bytes of a block or vote hash.
const Size = 32

// Digest is a Blake2b-256 hash, used both as a block hash and a vote hash.
type Digest [Size]byte

// Writer incrementally hashes data without concatenating it into a single
// buffer first. The underlying function is always Blake2b-256.
type Writer struct {
	hash.Hash
}

// NewWriter creates a Writer over a fresh Blake2b-256 state.
func NewWriter() Writer {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors on a bad key length, and we pass none.
		panic(errors.Wrap(err, "blake2b.New256 with no key should never fail"))
	}
	return Writer{Hash: h}
}

// InfallibleWrite writes p, panicking on error. hash.Hash's contract
// guarantees Write never actually errors; this just avoids forcing every
// call site to check an error that can't happen.
func (w Writer) InfallibleWrite(p []byte) {
	if _, err := w.Write(p); err != nil {
		panic(errors.Wrap(err, "hash.Hash.Write must not fail"))
	}
}

// Finalize returns the resulting digest.
func (w Writer) Finalize() Digest {
	var d Digest
	copy(d[:], w.Sum(d[:0]))
	return d
}

var voteDomainSeparator = []byte("vote ")

// BlockHash returns the Blake2b-256 digest of preimage, the canonical
// field concatenation of a block excluding its signature and work.
func BlockHash(preimage []byte) Digest {
	w := NewWriter()
	w.InfallibleWrite(preimage)
	return w.Finalize()
}

// VoteHash returns the Blake2b-256 digest signed by a vote: the domain
// separator "vote ", the little-endian vote sequence, then the block hash.
func VoteHash(sequence uint64, blockHash Digest) Digest {
	var seqLE [8]byte
	binary.LittleEndian.PutUint64(seqLE[:], sequence)

	w := NewWriter()
	w.InfallibleWrite(voteDomainSeparator)
	w.InfallibleWrite(seqLE[:])
	w.InfallibleWrite(blockHash[:])
	return w.Finalize()
}

// WorkValue returns the proof-of-work value of a candidate work nonce
// against root: Blake2b-64 of (work_le || root), read back as a
// little-endian u64. Higher is "more work done".
func WorkValue(work uint64, root []byte) uint64 {
	var workLE [8]byte
	binary.LittleEndian.PutUint64(workLE[:], work)

	h, err := blake2b.New(8, nil)
	if err != nil {
		panic(errors.Wrap(err, "blake2b.New(8, nil) should never fail"))
	}
	h.Write(workLE[:])
	h.Write(root)

	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum)
}

// WorkValid reports whether work satisfies the proof-of-work threshold for
// root: WorkValue(work, root) >= threshold.
func WorkValid(work uint64, root []byte, threshold uint64) bool {
	return WorkValue(work, root) >= threshold
}

// VerifySignature verifies an Ed25519 signature of message under pubKey.
func VerifySignature(pubKey, message, sig []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pubKey, message, sig)
}

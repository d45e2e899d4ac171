package ledger

import (
	"bytes"
	"io"
	"math/big"

	"github.com/pkg/errors"
	"github.com/razenet/razed/hash"
)

// pendingKeySize is the fixed size of a pending-entry key: destination
// account (32) + source block hash (32).
const pendingKeySize = 32 + 32

// pendingValueSize is the fixed size of a pending-entry value: source
// account (32) + amount (16, big-endian u128).
const pendingValueSize = 32 + 16

// PendingKey identifies a pending receive: funds sent to Destination by the
// send block hashing to Source, not yet claimed by a receive or open.
type PendingKey struct {
	Destination [32]byte
	Source      hash.Digest
}

// Bytes renders the key in its fixed on-disk form.
func (k PendingKey) Bytes() []byte {
	var buf [pendingKeySize]byte
	copy(buf[:32], k.Destination[:])
	copy(buf[32:], k.Source[:])
	return buf[:]
}

// PendingEntry records the source account and amount of a still-unclaimed
// send.
type PendingEntry struct {
	SourceAccount [32]byte
	Amount        *big.Int
}

// Encode serializes the entry to its fixed on-disk form.
func (e *PendingEntry) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(e.SourceAccount[:])
	var amount [16]byte
	if e.Amount != nil {
		b := e.Amount.Bytes()
		copy(amount[16-len(b):], b)
	}
	buf.Write(amount[:])
	return buf.Bytes()
}

// DecodePendingEntry parses a PendingEntry from its on-disk form.
func DecodePendingEntry(data []byte) (*PendingEntry, error) {
	if len(data) != pendingValueSize {
		return nil, errors.Errorf("ledger: invalid pending entry size %d", len(data))
	}
	r := bytes.NewReader(data)

	e := &PendingEntry{}
	if _, err := io.ReadFull(r, e.SourceAccount[:]); err != nil {
		return nil, err
	}
	var amount [16]byte
	if _, err := io.ReadFull(r, amount[:]); err != nil {
		return nil, err
	}
	e.Amount = new(big.Int).SetBytes(amount[:])
	return e, nil
}

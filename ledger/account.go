package ledger

import (
	"bytes"
	"io"
	"math/big"
	"time"

	"github.com/pkg/errors"
	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/util/binaryserializer"
)

// accountRecordSize is the fixed on-disk size of an AccountState: head(32)
// + balance(16) + representative(32) + open_block(32) + block_count(8) +
// modification_time(8).
const accountRecordSize = 32 + 16 + 32 + 32 + 8 + 8

// AccountState is the Ledger's per-account bookkeeping record: the head of
// its block chain, its current balance, its chosen representative, its
// open block, and chain length and last-touched time.
type AccountState struct {
	Head              hash.Digest
	Balance           *big.Int
	Representative    [32]byte
	OpenBlock         hash.Digest
	BlockCount        uint64
	ModificationTime  time.Time
}

// balanceBytes renders Balance as 16-byte big-endian, clamping a nil
// balance to zero.
func (a *AccountState) balanceBytes() [16]byte {
	var out [16]byte
	if a.Balance == nil {
		return out
	}
	b := a.Balance.Bytes()
	if len(b) > 16 {
		panic("ledger: account balance overflows u128")
	}
	copy(out[16-len(b):], b)
	return out
}

// Encode serializes the account state to its fixed-size on-disk form.
func (a *AccountState) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(a.Head[:])
	balance := a.balanceBytes()
	buf.Write(balance[:])
	buf.Write(a.Representative[:])
	buf.Write(a.OpenBlock[:])
	_ = binaryserializer.PutUint64(&buf, a.BlockCount)
	_ = binaryserializer.PutUint64(&buf, uint64(a.ModificationTime.Unix()))
	return buf.Bytes()
}

// DecodeAccountState parses an AccountState from its on-disk form.
func DecodeAccountState(data []byte) (*AccountState, error) {
	if len(data) != accountRecordSize {
		return nil, errors.Errorf("ledger: invalid account record size %d", len(data))
	}
	r := bytes.NewReader(data)

	a := &AccountState{}
	if _, err := io.ReadFull(r, a.Head[:]); err != nil {
		return nil, err
	}
	var balance [16]byte
	if _, err := io.ReadFull(r, balance[:]); err != nil {
		return nil, err
	}
	a.Balance = new(big.Int).SetBytes(balance[:])

	if _, err := io.ReadFull(r, a.Representative[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, a.OpenBlock[:]); err != nil {
		return nil, err
	}

	blockCount, err := binaryserializer.Uint64(r)
	if err != nil {
		return nil, err
	}
	a.BlockCount = blockCount

	modTime, err := binaryserializer.Uint64(r)
	if err != nil {
		return nil, err
	}
	a.ModificationTime = time.Unix(int64(modTime), 0)

	return a, nil
}

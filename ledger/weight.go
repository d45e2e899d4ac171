package ledger

import (
	"math/big"

	"github.com/razenet/razed/store"
)

const weightRecordSize = 16

func getWeightLocked(tx *store.Transaction, rep [32]byte) (*big.Int, error) {
	data, err := tx.Get(store.TableRepresentation, rep[:])
	if err != nil {
		if isNotFound(err) {
			return new(big.Int), nil
		}
		return nil, err
	}
	if len(data) != weightRecordSize {
		return new(big.Int), nil
	}
	return new(big.Int).SetBytes(data), nil
}

func putWeightLocked(tx *store.Transaction, rep [32]byte, weight *big.Int) error {
	var buf [weightRecordSize]byte
	if weight.Sign() > 0 {
		b := weight.Bytes()
		copy(buf[weightRecordSize-len(b):], b)
	}
	return tx.Put(store.TableRepresentation, rep[:], buf[:])
}

// adjustWeight adds delta (which may be negative) to rep's tallied
// representative weight.
func adjustWeight(tx *store.Transaction, rep [32]byte, delta *big.Int) error {
	if delta.Sign() == 0 {
		return nil
	}
	current, err := getWeightLocked(tx, rep)
	if err != nil {
		return err
	}
	current.Add(current, delta)
	if current.Sign() < 0 {
		current.SetInt64(0)
	}
	return putWeightLocked(tx, rep, current)
}

// Weight returns the total ledger balance currently delegated to rep as
// its representative.
func (l *Ledger) Weight(tx *store.Transaction, rep [32]byte) (*big.Int, error) {
	return getWeightLocked(tx, rep)
}

// Supply returns the fixed total issued supply used to derive the
// active-transactions quorum and minimum thresholds.
func (l *Ledger) Supply() *big.Int {
	return new(big.Int).Set(l.supply)
}

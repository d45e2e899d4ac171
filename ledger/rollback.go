package ledger

import (
	"math/big"

	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/store"
	"github.com/razenet/razed/wire"
)

// RollbackTo undoes account's chain from its current head back to, but not
// including, toHash, restoring balances, pending entries, and
// representative weight to what they were before each undone block was
// applied. It is the force=true counterpart to Process: the block
// processor calls it to clear a root before re-applying a higher-work
// competing block. toHash may be the zero digest, meaning "roll the
// account back to never having been opened".
func (l *Ledger) RollbackTo(tx *store.Transaction, account [32]byte, toHash hash.Digest) error {
	acctState, err := getAccountState(tx, account)
	if err != nil {
		return err
	}
	if acctState == nil {
		return errNoSuchAccount
	}

	current := acctState.Head
	for current != toHash {
		rec, err := getBlockRecord(tx, current)
		if err != nil {
			return err
		}
		if rec == nil {
			return errBrokenChain
		}

		switch rec.Type {
		case wire.BlockTypeOpen:
			openBlock := rec.Block.(*wire.OpenBlock)
			if err := restorePendingEntry(tx, account, openBlock.Source, rec.Amount); err != nil {
				return err
			}
			if err := adjustWeight(tx, acctState.Representative, new(big.Int).Neg(rec.Amount)); err != nil {
				return err
			}
			if err := tx.Delete(store.TableAccounts, account[:]); err != nil {
				return err
			}
			if err := tx.Delete(store.TableBlocks, current[:]); err != nil {
				return err
			}
			return nil

		case wire.BlockTypeSend:
			sendBlock := rec.Block.(*wire.SendBlock)
			if err := deletePendingEntry(tx, PendingKey{Destination: sendBlock.Destination, Source: current}); err != nil {
				return err
			}
			acctState.Balance = new(big.Int).Add(acctState.Balance, rec.Amount)
			if err := adjustWeight(tx, acctState.Representative, rec.Amount); err != nil {
				return err
			}

		case wire.BlockTypeReceive:
			receiveBlock := rec.Block.(*wire.ReceiveBlock)
			if err := restorePendingEntry(tx, account, receiveBlock.Source, rec.Amount); err != nil {
				return err
			}
			acctState.Balance = new(big.Int).Sub(acctState.Balance, rec.Amount)
			if err := adjustWeight(tx, acctState.Representative, new(big.Int).Neg(rec.Amount)); err != nil {
				return err
			}

		case wire.BlockTypeChange:
			if err := adjustWeight(tx, rec.PrevRepresentative, acctState.Balance); err != nil {
				return err
			}
			if err := adjustWeight(tx, acctState.Representative, new(big.Int).Neg(acctState.Balance)); err != nil {
				return err
			}
			acctState.Representative = rec.PrevRepresentative

		default:
			return errBrokenChain
		}

		previous := rec.Block.Previous()
		if prevRec, err := getBlockRecord(tx, previous); err == nil && prevRec != nil {
			prevRec.Successor = hash.Digest{}
			if err := putBlockRecord(tx, previous, prevRec); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if err := tx.Delete(store.TableBlocks, current[:]); err != nil {
			return err
		}

		acctState.Head = previous
		acctState.BlockCount--
		current = previous
	}

	return putAccountState(tx, account, acctState)
}

// restorePendingEntry re-creates the pending entry a receive or open block
// consumed, looking the original sending account up from the source
// block's sideband record.
func restorePendingEntry(tx *store.Transaction, destination [32]byte, source [32]byte, amount *big.Int) error {
	var sourceDigest hash.Digest
	copy(sourceDigest[:], source[:])

	sourceRec, err := getBlockRecord(tx, sourceDigest)
	if err != nil {
		return err
	}
	var sourceAccount [32]byte
	if sourceRec != nil {
		sourceAccount = sourceRec.Account
	}

	return putPendingEntry(tx, PendingKey{Destination: destination, Source: sourceDigest}, &PendingEntry{
		SourceAccount: sourceAccount,
		Amount:        new(big.Int).Set(amount),
	})
}

// Package ledger implements the per-account block-lattice ledger: account
// state, pending-receive bookkeeping, representative weight tallying, and
// block application with fork/gap detection. It is the Ledger external
// collaborator the rest of the core (block processor, active-transactions
// engine, vote processor) reads and writes through.
//
// The record layouts are new (the teacher has no block-lattice ledger to
// ground them on); the transactional get/put idiom they're built on is
// grounded on store, itself grounded on the teacher's
// database2/ffldb/leveldb package.
package ledger

import (
	"math/big"
	"time"

	"github.com/pkg/errors"
	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/logger"
	"github.com/razenet/razed/store"
	"github.com/razenet/razed/wire"
	"github.com/syndtr/goleveldb/leveldb"
)

var log, _ = logger.Get(logger.SubsystemTags.LEDG)

// errNoSuchAccount and errBrokenChain are the internal-consistency errors
// RollbackTo returns if asked to roll back an account that was never
// opened, or if a chain's sideband records don't actually connect back to
// the requested target hash.
var (
	errNoSuchAccount = errors.New("ledger: no such account")
	errBrokenChain   = errors.New("ledger: broken chain during rollback")
)

// BurnAccount is the reserved all-zero account. Funds sent to it are
// destroyed; it can never be opened.
var BurnAccount [32]byte

// DefaultSupply is the fixed total issued supply new ledgers are
// constructed with, used to derive the active-transactions quorum and
// minimum thresholds. It mirrors a Nano-style fixed genesis issuance
// (2^128 - 1 raw units would overflow the weight accounting headroom this
// implementation keeps, so a conservative 2^120 is used instead).
var DefaultSupply = new(big.Int).Lsh(big.NewInt(1), 120)

// Ledger is the account-chain store: account state, block sideband,
// pending entries, and representative weight, all persisted through a
// store.Store.
type Ledger struct {
	store  *store.Store
	supply *big.Int
}

// New constructs a Ledger backed by s.
func New(s *store.Store) *Ledger {
	return &Ledger{store: s, supply: new(big.Int).Set(DefaultSupply)}
}

func isNotFound(err error) bool {
	return err == leveldb.ErrNotFound
}

func getAccountState(tx *store.Transaction, account [32]byte) (*AccountState, error) {
	data, err := tx.Get(store.TableAccounts, account[:])
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return DecodeAccountState(data)
}

func putAccountState(tx *store.Transaction, account [32]byte, state *AccountState) error {
	return tx.Put(store.TableAccounts, account[:], state.Encode())
}

func getBlockRecord(tx *store.Transaction, blockHash hash.Digest) (*BlockRecord, error) {
	data, err := tx.Get(store.TableBlocks, blockHash[:])
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return DecodeBlockRecord(data)
}

func putBlockRecord(tx *store.Transaction, blockHash hash.Digest, rec *BlockRecord) error {
	data, err := rec.Encode()
	if err != nil {
		return err
	}
	return tx.Put(store.TableBlocks, blockHash[:], data)
}

func getPendingEntry(tx *store.Transaction, key PendingKey) (*PendingEntry, error) {
	data, err := tx.Get(store.TablePending, key.Bytes())
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return DecodePendingEntry(data)
}

func putPendingEntry(tx *store.Transaction, key PendingKey, entry *PendingEntry) error {
	return tx.Put(store.TablePending, key.Bytes(), entry.Encode())
}

func deletePendingEntry(tx *store.Transaction, key PendingKey) error {
	return tx.Delete(store.TablePending, key.Bytes())
}

func verifyBlockSignature(account [32]byte, block wire.Block) bool {
	digest := block.Hash()
	sig := block.Signature()
	return hash.VerifySignature(account[:], digest[:], sig[:])
}

// Process applies block to the ledger under tx, returning the outcome the
// block processor dispatches on. Process never returns an error for a
// malformed or conflicting block; malformed/conflicting input is reported
// through the returned Outcome's Result, not via the error return, which
// is reserved for store failures.
func (l *Ledger) Process(tx *store.Transaction, block wire.Block) (*Outcome, error) {
	blockHash := block.Hash()

	existing, err := getBlockRecord(tx, blockHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return l.processOld(tx, blockHash, existing, block)
	}

	switch b := block.(type) {
	case *wire.OpenBlock:
		return l.processOpen(tx, blockHash, b)
	case *wire.SendBlock:
		return l.processSend(tx, blockHash, b)
	case *wire.ReceiveBlock:
		return l.processReceive(tx, blockHash, b)
	case *wire.ChangeBlock:
		return l.processChange(tx, blockHash, b)
	default:
		return &Outcome{Result: BadSignature}, nil
	}
}

func (l *Ledger) processOld(tx *store.Transaction, blockHash hash.Digest, existing *BlockRecord, block wire.Block) (*Outcome, error) {
	root := block.Root()
	beatsExisting := hash.WorkValue(block.Work(), root[:]) > hash.WorkValue(existing.Block.Work(), root[:])
	if beatsExisting && verifyBlockSignature(existing.Account, block) {
		existing.Block = block
		if err := putBlockRecord(tx, blockHash, existing); err != nil {
			return nil, err
		}
		log.Debugf("replaced block %x with higher-work copy", blockHash[:8])
	}
	return &Outcome{Result: Old, Account: existing.Account}, nil
}

func (l *Ledger) processOpen(tx *store.Transaction, blockHash hash.Digest, block *wire.OpenBlock) (*Outcome, error) {
	if block.Account == BurnAccount {
		return &Outcome{Result: OpenedBurnAccount}, nil
	}

	existingAccount, err := getAccountState(tx, block.Account)
	if err != nil {
		return nil, err
	}
	if existingAccount != nil {
		return &Outcome{Result: Fork, Account: block.Account}, nil
	}

	if !verifyBlockSignature(block.Account, block) {
		return &Outcome{Result: BadSignature}, nil
	}

	sourceRec, err := getBlockRecord(tx, block.Source)
	if err != nil {
		return nil, err
	}
	if sourceRec == nil {
		return &Outcome{Result: GapSource}, nil
	}
	if sourceRec.Type != wire.BlockTypeSend {
		return &Outcome{Result: NotReceiveFromSend}, nil
	}

	pendingKey := PendingKey{Destination: block.Account, Source: block.Source}
	pendingEntry, err := getPendingEntry(tx, pendingKey)
	if err != nil {
		return nil, err
	}
	if pendingEntry == nil {
		return &Outcome{Result: Unreceivable}, nil
	}

	if err := deletePendingEntry(tx, pendingKey); err != nil {
		return nil, err
	}

	state := &AccountState{
		Head:             blockHash,
		Balance:          pendingEntry.Amount,
		Representative:   block.Representative,
		OpenBlock:        blockHash,
		BlockCount:       1,
		ModificationTime: time.Now(),
	}
	if err := putAccountState(tx, block.Account, state); err != nil {
		return nil, err
	}

	rec := &BlockRecord{Type: wire.BlockTypeOpen, Account: block.Account, Amount: pendingEntry.Amount, Block: block}
	if err := putBlockRecord(tx, blockHash, rec); err != nil {
		return nil, err
	}

	if err := adjustWeight(tx, block.Representative, pendingEntry.Amount); err != nil {
		return nil, err
	}

	return &Outcome{Result: Progress, Account: block.Account, Amount: pendingEntry.Amount.Bytes()}, nil
}

// lookupOwner resolves the owning account and fork/gap status of a
// send/receive/change block from its previous hash, shared by all three
// non-open variants.
func (l *Ledger) lookupOwner(tx *store.Transaction, previous hash.Digest) (*BlockRecord, *AccountState, *Outcome, error) {
	prevRec, err := getBlockRecord(tx, previous)
	if err != nil {
		return nil, nil, nil, err
	}
	if prevRec == nil {
		return nil, nil, &Outcome{Result: GapPrevious}, nil
	}
	if prevRec.Successor != (hash.Digest{}) {
		return nil, nil, &Outcome{Result: Fork, Account: prevRec.Account}, nil
	}

	acctState, err := getAccountState(tx, prevRec.Account)
	if err != nil {
		return nil, nil, nil, err
	}
	if acctState == nil || acctState.Head != previous {
		return nil, nil, &Outcome{Result: AccountMismatch, Account: prevRec.Account}, nil
	}

	return prevRec, acctState, nil, nil
}

func (l *Ledger) processSend(tx *store.Transaction, blockHash hash.Digest, block *wire.SendBlock) (*Outcome, error) {
	prevRec, acctState, bail, err := l.lookupOwner(tx, block.PreviousHash)
	if err != nil || bail != nil {
		return bail, err
	}

	account := prevRec.Account
	if !verifyBlockSignature(account, block) {
		return &Outcome{Result: BadSignature}, nil
	}

	newBalance := block.BalanceBig()
	if newBalance.Cmp(acctState.Balance) >= 0 {
		return &Outcome{Result: NegativeSpend, Account: account}, nil
	}
	amountSent := new(big.Int).Sub(acctState.Balance, newBalance)

	acctState.Head = blockHash
	acctState.Balance = newBalance
	acctState.BlockCount++
	acctState.ModificationTime = time.Now()
	if err := putAccountState(tx, account, acctState); err != nil {
		return nil, err
	}

	prevRec.Successor = blockHash
	if err := putBlockRecord(tx, block.PreviousHash, prevRec); err != nil {
		return nil, err
	}

	rec := &BlockRecord{Type: wire.BlockTypeSend, Account: account, Amount: amountSent, Block: block}
	if err := putBlockRecord(tx, blockHash, rec); err != nil {
		return nil, err
	}

	pendingKey := PendingKey{Destination: block.Destination, Source: blockHash}
	pendingEntry := &PendingEntry{SourceAccount: account, Amount: amountSent}
	if err := putPendingEntry(tx, pendingKey, pendingEntry); err != nil {
		return nil, err
	}

	if err := adjustWeight(tx, acctState.Representative, new(big.Int).Neg(amountSent)); err != nil {
		return nil, err
	}

	return &Outcome{
		Result:        Progress,
		Account:       account,
		Amount:        amountSent.Bytes(),
		PendingCreate: true,
		PendingFor:    block.Destination,
	}, nil
}

func (l *Ledger) processReceive(tx *store.Transaction, blockHash hash.Digest, block *wire.ReceiveBlock) (*Outcome, error) {
	prevRec, acctState, bail, err := l.lookupOwner(tx, block.PreviousHash)
	if err != nil || bail != nil {
		return bail, err
	}

	account := prevRec.Account
	if !verifyBlockSignature(account, block) {
		return &Outcome{Result: BadSignature}, nil
	}

	sourceRec, err := getBlockRecord(tx, block.Source)
	if err != nil {
		return nil, err
	}
	if sourceRec == nil {
		return &Outcome{Result: GapSource}, nil
	}
	if sourceRec.Type != wire.BlockTypeSend {
		return &Outcome{Result: NotReceiveFromSend}, nil
	}

	pendingKey := PendingKey{Destination: account, Source: block.Source}
	pendingEntry, err := getPendingEntry(tx, pendingKey)
	if err != nil {
		return nil, err
	}
	if pendingEntry == nil {
		return &Outcome{Result: Unreceivable}, nil
	}
	if err := deletePendingEntry(tx, pendingKey); err != nil {
		return nil, err
	}

	acctState.Head = blockHash
	acctState.Balance = new(big.Int).Add(acctState.Balance, pendingEntry.Amount)
	acctState.BlockCount++
	acctState.ModificationTime = time.Now()
	if err := putAccountState(tx, account, acctState); err != nil {
		return nil, err
	}

	prevRec.Successor = blockHash
	if err := putBlockRecord(tx, block.PreviousHash, prevRec); err != nil {
		return nil, err
	}

	rec := &BlockRecord{Type: wire.BlockTypeReceive, Account: account, Amount: pendingEntry.Amount, Block: block}
	if err := putBlockRecord(tx, blockHash, rec); err != nil {
		return nil, err
	}

	if err := adjustWeight(tx, acctState.Representative, pendingEntry.Amount); err != nil {
		return nil, err
	}

	return &Outcome{Result: Progress, Account: account, Amount: pendingEntry.Amount.Bytes()}, nil
}

func (l *Ledger) processChange(tx *store.Transaction, blockHash hash.Digest, block *wire.ChangeBlock) (*Outcome, error) {
	prevRec, acctState, bail, err := l.lookupOwner(tx, block.PreviousHash)
	if err != nil || bail != nil {
		return bail, err
	}

	account := prevRec.Account
	if !verifyBlockSignature(account, block) {
		return &Outcome{Result: BadSignature}, nil
	}

	oldRep := acctState.Representative

	acctState.Head = blockHash
	acctState.Representative = block.Representative
	acctState.BlockCount++
	acctState.ModificationTime = time.Now()
	if err := putAccountState(tx, account, acctState); err != nil {
		return nil, err
	}

	prevRec.Successor = blockHash
	if err := putBlockRecord(tx, block.PreviousHash, prevRec); err != nil {
		return nil, err
	}

	rec := &BlockRecord{Type: wire.BlockTypeChange, Account: account, Amount: new(big.Int), PrevRepresentative: oldRep, Block: block}
	if err := putBlockRecord(tx, blockHash, rec); err != nil {
		return nil, err
	}

	if oldRep != block.Representative {
		if err := adjustWeight(tx, oldRep, new(big.Int).Neg(acctState.Balance)); err != nil {
			return nil, err
		}
		if err := adjustWeight(tx, block.Representative, acctState.Balance); err != nil {
			return nil, err
		}
	}

	return &Outcome{Result: Progress, Account: account}, nil
}

// AccountState returns account's current state, or nil if it has not been
// opened.
func (l *Ledger) AccountState(tx *store.Transaction, account [32]byte) (*AccountState, error) {
	return getAccountState(tx, account)
}

// BlockRecord returns the sideband record stored under blockHash, or nil
// if unknown to the ledger.
func (l *Ledger) BlockRecord(tx *store.Transaction, blockHash hash.Digest) (*BlockRecord, error) {
	return getBlockRecord(tx, blockHash)
}

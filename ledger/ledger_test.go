package ledger

import (
	"crypto/ed25519"
	"math/big"
	"testing"

	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/store"
	"github.com/razenet/razed/wire"
	"github.com/stretchr/testify/require"
)

type testAccount struct {
	pub  [32]byte
	priv ed25519.PrivateKey
}

func newTestAccount(t *testing.T) testAccount {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var a testAccount
	copy(a.pub[:], pub)
	a.priv = priv
	return a
}

func (a testAccount) sign(block wire.Block) [64]byte {
	digest := block.Hash()
	var sig [64]byte
	copy(sig[:], ed25519.Sign(a.priv, digest[:]))
	return sig
}

func balance16(amount int64) [16]byte {
	var out [16]byte
	b := big.NewInt(amount).Bytes()
	copy(out[16-len(b):], b)
	return out
}

func openLedgerTx(t *testing.T) (*Ledger, *store.Transaction) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	l := New(s)
	tx, err := s.Begin()
	require.NoError(t, err)
	t.Cleanup(func() { tx.Commit() })
	return l, tx
}

func (rec *BlockRecord) mustEncode(t *testing.T) []byte {
	t.Helper()
	data, err := rec.Encode()
	require.NoError(t, err)
	return data
}

func TestOpenAccountRequiresPendingEntry(t *testing.T) {
	l, tx := openLedgerTx(t)
	acct := newTestAccount(t)

	open := &wire.OpenBlock{Account: acct.pub, Representative: acct.pub}
	open.Sig = acct.sign(open)

	outcome, err := l.Process(tx, open)
	require.NoError(t, err)
	require.Equal(t, GapSource, outcome.Result)
}

func TestOpenAccountSucceedsWithPendingEntry(t *testing.T) {
	l, tx := openLedgerTx(t)
	acct := newTestAccount(t)

	sourceHash := hash.BlockHash([]byte("fake send block"))
	require.NoError(t, tx.Put(store.TableBlocks, sourceHash[:], (&BlockRecord{
		Type:    wire.BlockTypeSend,
		Account: [32]byte{0xEE},
		Amount:  big.NewInt(1000),
		Block:   &wire.SendBlock{},
	}).mustEncode(t)))

	pendingKey := PendingKey{Destination: acct.pub, Source: sourceHash}
	require.NoError(t, tx.Put(store.TablePending, pendingKey.Bytes(), (&PendingEntry{
		SourceAccount: [32]byte{0xEE},
		Amount:        big.NewInt(1000),
	}).Encode()))

	open := &wire.OpenBlock{Account: acct.pub, Representative: acct.pub, Source: sourceHash}
	open.Sig = acct.sign(open)

	outcome, err := l.Process(tx, open)
	require.NoError(t, err)
	require.Equal(t, Progress, outcome.Result)

	state, err := l.AccountState(tx, acct.pub)
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, big.NewInt(1000), state.Balance)
	require.Equal(t, uint64(1), state.BlockCount)

	weight, err := l.Weight(tx, acct.pub)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), weight)

	// Replaying the same open block a second time must report Old, not
	// re-open the account.
	outcome2, err := l.Process(tx, open)
	require.NoError(t, err)
	require.Equal(t, Old, outcome2.Result)
}

func TestOpenBurnAccountRejected(t *testing.T) {
	l, tx := openLedgerTx(t)

	open := &wire.OpenBlock{Account: BurnAccount}
	outcome, err := l.Process(tx, open)
	require.NoError(t, err)
	require.Equal(t, OpenedBurnAccount, outcome.Result)
}

func TestSendThenReceiveFlow(t *testing.T) {
	l, tx := openLedgerTx(t)

	alice := newTestAccount(t)
	bob := newTestAccount(t)

	// Seed alice's account directly (skipping the genesis ceremony, which
	// is outside the ledger's own contract) with an opening balance.
	aliceOpen := &wire.OpenBlock{Account: alice.pub, Representative: alice.pub}
	aliceOpenHash := aliceOpen.Hash()
	require.NoError(t, putAccountState(tx, alice.pub, &AccountState{
		Head:           aliceOpenHash,
		Balance:        big.NewInt(1000),
		Representative: alice.pub,
		OpenBlock:      aliceOpenHash,
		BlockCount:     1,
	}))
	require.NoError(t, putBlockRecord(tx, aliceOpenHash, &BlockRecord{
		Type: wire.BlockTypeOpen, Account: alice.pub, Amount: big.NewInt(1000), Block: aliceOpen,
	}))
	require.NoError(t, adjustWeight(tx, alice.pub, big.NewInt(1000)))

	send := &wire.SendBlock{PreviousHash: aliceOpenHash, Destination: bob.pub, Balance: balance16(400)}
	send.Sig = alice.sign(send)

	outcome, err := l.Process(tx, send)
	require.NoError(t, err)
	require.Equal(t, Progress, outcome.Result)
	require.True(t, outcome.PendingCreate)
	require.Equal(t, bob.pub, outcome.PendingFor)

	aliceState, err := l.AccountState(tx, alice.pub)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(400), aliceState.Balance)

	aliceWeight, err := l.Weight(tx, alice.pub)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(400), aliceWeight)

	sendHash := send.Hash()
	bobOpen := &wire.OpenBlock{Account: bob.pub, Representative: bob.pub, Source: sendHash}
	bobOpen.Sig = bob.sign(bobOpen)

	outcome2, err := l.Process(tx, bobOpen)
	require.NoError(t, err)
	require.Equal(t, Progress, outcome2.Result)

	bobState, err := l.AccountState(tx, bob.pub)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(600), bobState.Balance)
}

func TestSendRejectsNegativeSpend(t *testing.T) {
	l, tx := openLedgerTx(t)
	alice := newTestAccount(t)

	aliceOpen := &wire.OpenBlock{Account: alice.pub, Representative: alice.pub}
	aliceOpenHash := aliceOpen.Hash()
	require.NoError(t, putAccountState(tx, alice.pub, &AccountState{
		Head: aliceOpenHash, Balance: big.NewInt(100), Representative: alice.pub, OpenBlock: aliceOpenHash, BlockCount: 1,
	}))
	require.NoError(t, putBlockRecord(tx, aliceOpenHash, &BlockRecord{
		Type: wire.BlockTypeOpen, Account: alice.pub, Amount: big.NewInt(100), Block: aliceOpen,
	}))

	send := &wire.SendBlock{PreviousHash: aliceOpenHash, Balance: balance16(200)}
	send.Sig = alice.sign(send)

	outcome, err := l.Process(tx, send)
	require.NoError(t, err)
	require.Equal(t, NegativeSpend, outcome.Result)
}

func TestSendGapPreviousWhenUnknown(t *testing.T) {
	l, tx := openLedgerTx(t)
	alice := newTestAccount(t)

	send := &wire.SendBlock{}
	unknownHash := hash.BlockHash([]byte("unknown"))
	copy(send.PreviousHash[:], unknownHash[:])
	send.Sig = alice.sign(send)

	outcome, err := l.Process(tx, send)
	require.NoError(t, err)
	require.Equal(t, GapPrevious, outcome.Result)
}

func TestVoteValidateRejectsBadSignature(t *testing.T) {
	l, tx := openLedgerTx(t)
	acct := newTestAccount(t)
	other := newTestAccount(t)

	block := &wire.OpenBlock{Account: acct.pub, Representative: acct.pub}
	vote := &wire.Vote{Account: acct.pub, Sequence: 1, BlockType: wire.BlockTypeOpen, Block: block}
	digest := vote.SigningHash()
	copy(vote.Sig[:], ed25519.Sign(other.priv, digest[:]))

	code, _, err := l.VoteValidate(tx, vote)
	require.NoError(t, err)
	require.Equal(t, VoteInvalid, code)
}

func TestVoteValidateAcceptsThenReplays(t *testing.T) {
	l, tx := openLedgerTx(t)
	acct := newTestAccount(t)

	block := &wire.OpenBlock{Account: acct.pub, Representative: acct.pub}
	vote := signedVote(acct, block, 5)

	code, _, err := l.VoteValidate(tx, vote)
	require.NoError(t, err)
	require.Equal(t, VoteOK, code)

	replay := signedVote(acct, block, 3)
	code2, _, err := l.VoteValidate(tx, replay)
	require.NoError(t, err)
	require.Equal(t, VoteReplay, code2)

	higher := signedVote(acct, block, 6)
	code3, _, err := l.VoteValidate(tx, higher)
	require.NoError(t, err)
	require.Equal(t, VoteOK, code3)
}

func signedVote(acct testAccount, block wire.Block, seq uint64) *wire.Vote {
	v := &wire.Vote{Account: acct.pub, Sequence: seq, BlockType: block.Type(), Block: block}
	digest := v.SigningHash()
	var sig [64]byte
	copy(sig[:], ed25519.Sign(acct.priv, digest[:]))
	v.Sig = sig
	return v
}

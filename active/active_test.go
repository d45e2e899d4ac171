package active

import (
	"bytes"
	"crypto/ed25519"
	"math/big"
	"sync"
	"testing"

	"github.com/razenet/razed/alarm"
	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/ledger"
	"github.com/razenet/razed/store"
	"github.com/razenet/razed/wire"
	"github.com/stretchr/testify/require"
)

type syncExecutor struct{}

func (syncExecutor) Post(f func()) { f() }

type recordingSubmitter struct {
	mu      sync.Mutex
	blocks  []wire.Block
	forces  []bool
}

func (s *recordingSubmitter) Submit(block wire.Block, force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, block)
	s.forces = append(s.forces, force)
}

type noopAnnouncer struct{}

func (noopAnnouncer) BroadcastWinner(root hash.Digest, winner wire.Block) {}
func (noopAnnouncer) RequestBootstrap(root hash.Digest)                  {}

func newTestAccount(t *testing.T) (pub [32]byte, priv ed25519.PrivateKey) {
	t.Helper()
	pk, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	copy(pub[:], pk)
	return pub, sk
}

func signedVoteFor(priv ed25519.PrivateKey, account [32]byte, block wire.Block, seq uint64) *wire.Vote {
	v := &wire.Vote{Account: account, Sequence: seq, BlockType: block.Type(), Block: block}
	digest := v.SigningHash()
	var sig [64]byte
	copy(sig[:], ed25519.Sign(priv, digest[:]))
	v.Sig = sig
	return v
}

func openLedgerTx(t *testing.T) (*ledger.Ledger, *store.Transaction, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	l := ledger.New(s)
	tx, err := s.Begin()
	require.NoError(t, err)
	t.Cleanup(func() { tx.Commit() })
	return l, tx, s
}

func TestHandleVoteConfirmsAtQuorum(t *testing.T) {
	l, tx, _ := openLedgerTx(t)
	rep, priv := newTestAccount(t)

	// Weight the representative directly in the representation table so
	// the election sees a quorum-crossing vote without needing a full
	// send/receive setup.
	supply := big.NewInt(1000)
	require.NoError(t, creditWeight(tx, rep, big.NewInt(600)))

	submitter := &recordingSubmitter{}
	var confirmedCount int
	at := New(l, submitter, noopAnnouncer{}, alarm.New(syncExecutor{}), supply,
		func(wire.Block, bool) {}, func(wire.Block) { confirmedCount++ })

	block := &wire.OpenBlock{Account: rep, Representative: rep}
	vote := signedVoteFor(priv, rep, block, 1)

	require.NoError(t, at.HandleVote(tx, vote))

	require.Equal(t, 0, at.Elections(), "confirmed election should be retired")
	require.Len(t, submitter.blocks, 1)
	require.True(t, submitter.forces[0])
	require.Equal(t, 1, confirmedCount)
}

func TestHandleVoteBelowQuorumKeepsElectionOpen(t *testing.T) {
	l, tx, _ := openLedgerTx(t)
	rep, priv := newTestAccount(t)

	supply := big.NewInt(1000)
	require.NoError(t, creditWeight(tx, rep, big.NewInt(100)))

	submitter := &recordingSubmitter{}
	at := New(l, submitter, noopAnnouncer{}, alarm.New(syncExecutor{}), supply, nil, nil)

	block := &wire.OpenBlock{Account: rep, Representative: rep}
	vote := signedVoteFor(priv, rep, block, 1)

	require.NoError(t, at.HandleVote(tx, vote))

	require.Equal(t, 1, at.Elections())
	require.Empty(t, submitter.blocks)
}

func TestElectionHigherSequenceSupersedes(t *testing.T) {
	e := newElection([32]byte{1})
	rep, priv := newTestAccount(t)

	old := &wire.OpenBlock{Account: rep, Representative: rep}
	newer := &wire.ChangeBlock{PreviousHash: [32]byte{9}}

	v1 := signedVoteFor(priv, rep, old, 1)
	v2 := signedVoteFor(priv, rep, newer, 2)

	e.AddVote(v1, big.NewInt(10))
	e.AddVote(v2, big.NewInt(10))

	require.Equal(t, newer.Hash(), e.topHash)

	// A stale, lower-sequence vote must not supersede the stored one.
	stale := signedVoteFor(priv, rep, old, 1)
	e.AddVote(stale, big.NewInt(10))
	require.Equal(t, newer.Hash(), e.topHash)
}

func TestStartSeedsElectionBeforeAnyVote(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	l := ledger.New(s)

	at := New(l, &recordingSubmitter{}, noopAnnouncer{}, alarm.New(syncExecutor{}), big.NewInt(1000), nil, nil)

	block := &wire.OpenBlock{Account: [32]byte{7}, Representative: [32]byte{7}}
	root := hash.Digest(block.Root())

	require.Equal(t, 0, at.Elections())
	at.Start(root, block)

	require.Equal(t, 1, at.Elections())
	election := at.elections[root]
	require.Equal(t, block.Hash(), election.LeaderBlock().Hash())

	// Starting again for the same root with the same block must not
	// create a second election or disturb the seeded leader.
	at.Start(root, block)
	require.Equal(t, 1, at.Elections())
}

func TestElectionTieBreaksOnLowerBlockHash(t *testing.T) {
	rep1, priv1 := newTestAccount(t)
	rep2, priv2 := newTestAccount(t)

	blockA := &wire.OpenBlock{Account: [32]byte{1}, Representative: [32]byte{1}}
	blockB := &wire.OpenBlock{Account: [32]byte{2}, Representative: [32]byte{2}}
	hashA, hashB := blockA.Hash(), blockB.Hash()
	require.NotEqual(t, hashA, hashB, "test blocks must hash to distinct values")

	lower := hashA
	if bytes.Compare(hashB[:], hashA[:]) < 0 {
		lower = hashB
	}

	voteA := signedVoteFor(priv1, rep1, blockA, 1)
	voteB := signedVoteFor(priv2, rep2, blockB, 1)

	// Equal weight on both candidates: the tally is a tie, and the
	// winner must be the lower block hash regardless of which vote was
	// recorded first.
	forward := newElection([32]byte{3})
	forward.AddVote(voteA, big.NewInt(10))
	forward.AddVote(voteB, big.NewInt(10))
	require.Equal(t, lower, forward.topHash)

	reverse := newElection([32]byte{3})
	reverse.AddVote(voteB, big.NewInt(10))
	reverse.AddVote(voteA, big.NewInt(10))
	require.Equal(t, lower, reverse.topHash)
}

func TestConfirmOnceRunsExactlyOnce(t *testing.T) {
	e := newElection([32]byte{1})
	rep, priv := newTestAccount(t)

	block := &wire.OpenBlock{Account: rep, Representative: rep}
	vote := signedVoteFor(priv, rep, block, 1)
	e.AddVote(vote, big.NewInt(900))

	var submitCount int
	submit := func(wire.Block) { submitCount++ }

	e.ConfirmOnce(big.NewInt(16), submit, nil, nil)
	e.ConfirmOnce(big.NewInt(16), submit, nil, nil)

	require.Equal(t, 1, submitCount)
	require.True(t, e.Confirmed())
}

// creditWeight adjusts rep's tallied representative weight directly,
// standing in for the balance-moving block that would normally produce
// it, since these tests exercise the election machinery in isolation.
func creditWeight(tx *store.Transaction, rep [32]byte, amount *big.Int) error {
	return tx.Put(store.TableRepresentation, rep[:], padWeight(amount))
}

func padWeight(amount *big.Int) []byte {
	var buf [16]byte
	b := amount.Bytes()
	copy(buf[16-len(b):], b)
	return buf[:]
}

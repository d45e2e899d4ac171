package repcrawler

import (
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/razenet/razed/alarm"
	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/ledger"
	"github.com/razenet/razed/store"
	"github.com/razenet/razed/wire"
	"github.com/stretchr/testify/require"
)

type syncExecutor struct{}

func (syncExecutor) Post(f func()) { f() }

type fakePeerSource struct {
	mu      sync.Mutex
	peers   []PeerCandidate
	marked  []wire.Endpoint
}

func (f *fakePeerSource) OldestRepRequests(n int) []PeerCandidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.peers) {
		n = len(f.peers)
	}
	return append([]PeerCandidate(nil), f.peers[:n]...)
}

func (f *fakePeerSource) MarkRepRequested(endpoint wire.Endpoint, when time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, endpoint)
}

type fakeRequester struct {
	mu    sync.Mutex
	sent  []hash.Digest
}

func (f *fakeRequester) SendConfirmReq(to wire.Endpoint, blockHash hash.Digest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, blockHash)
}

type fakeRegistry struct {
	mu       sync.Mutex
	marked   []wire.Endpoint
	accounts [][32]byte
	weights  []*big.Int
}

func (f *fakeRegistry) MarkRepresentative(endpoint wire.Endpoint, account [32]byte, weight *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, endpoint)
	f.accounts = append(f.accounts, account)
	f.weights = append(f.weights, weight)
}

func newTestCrawler(t *testing.T, peers PeerSource, requester Requester, registry RepresentativeRegistry) (*Crawler, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	l := ledger.New(s)
	a := alarm.New(syncExecutor{})
	return New(s, l, peers, requester, registry, a), s
}

func seedBlock(t *testing.T, s *store.Store, blockHash hash.Digest) {
	t.Helper()
	tx, err := s.Begin()
	require.NoError(t, err)
	rec := &ledger.BlockRecord{Type: wire.BlockTypeOpen, Account: [32]byte{0x1}, Amount: big.NewInt(1), Block: &wire.OpenBlock{}}
	data, err := rec.Encode()
	require.NoError(t, err)
	require.NoError(t, tx.Put(store.TableBlocks, blockHash[:], data))
	require.NoError(t, tx.Commit())
}

func TestProbeRoundSendsToAllGivenPeers(t *testing.T) {
	peerEndpoint := wire.Endpoint{Port: 7075}
	peers := &fakePeerSource{peers: []PeerCandidate{{Endpoint: peerEndpoint}}}
	requester := &fakeRequester{}
	crawler, s := newTestCrawler(t, peers, requester, nil)

	blockHash := hash.BlockHash([]byte("probe target"))
	seedBlock(t, s, blockHash)

	crawler.probeRound()

	require.Len(t, requester.sent, 1)
	require.Equal(t, blockHash, requester.sent[0])
	require.Len(t, peers.marked, 1)
	require.Equal(t, peerEndpoint, peers.marked[0])
}

func TestObserveVotePromotesActiveHash(t *testing.T) {
	peers := &fakePeerSource{}
	requester := &fakeRequester{}
	registry := &fakeRegistry{}
	crawler, s := newTestCrawler(t, peers, requester, registry)

	blockHash := hash.BlockHash([]byte("active probe"))
	seedBlock(t, s, blockHash)
	crawler.probeRound()
	require.Len(t, requester.sent, 1)

	account := [32]byte{0x2}
	vote := &wire.Vote{Account: account, Block: blockForHash(blockHash)}

	tx, err := s.Begin()
	require.NoError(t, err)
	defer tx.Commit()

	require.NoError(t, crawler.ObserveVote(tx, vote, wire.Endpoint{Port: 555}))
	require.Len(t, registry.marked, 1)
	require.Equal(t, uint16(555), registry.marked[0].Port)
	require.Equal(t, account, registry.accounts[0])
}

// blockForHash builds a block whose Hash() equals h, sidestepping the
// need to reverse-engineer a preimage: a fixed-zero OpenBlock with Source
// set to h's bytes would not hash to h, so tests exercise ObserveVote via
// a fake block whose Hash() returns h directly.
func blockForHash(h hash.Digest) wire.Block {
	return &fakeHashBlock{h: h}
}

type fakeHashBlock struct{ h hash.Digest }

func (b *fakeHashBlock) Type() wire.BlockType  { return wire.BlockTypeOpen }
func (b *fakeHashBlock) Preimage() []byte      { return b.h[:] }
func (b *fakeHashBlock) Hash() hash.Digest     { return b.h }
func (b *fakeHashBlock) Root() [32]byte        { return b.h }
func (b *fakeHashBlock) Previous() [32]byte    { return [32]byte{} }
func (b *fakeHashBlock) Signature() [64]byte   { return [64]byte{} }
func (b *fakeHashBlock) Work() uint64          { return 0 }
func (b *fakeHashBlock) Encode(w io.Writer) error {
	_, err := w.Write(b.h[:])
	return err
}

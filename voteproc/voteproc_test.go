package voteproc

import (
	"crypto/ed25519"
	"sync"
	"testing"

	"github.com/razenet/razed/ledger"
	"github.com/razenet/razed/observer"
	"github.com/razenet/razed/store"
	"github.com/razenet/razed/wire"
	"github.com/stretchr/testify/require"
)

type recordingReplier struct {
	mu   sync.Mutex
	to   []wire.Endpoint
	vote []*wire.Vote
}

func (r *recordingReplier) SendConfirmAck(to wire.Endpoint, vote *wire.Vote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.to = append(r.to, to)
	r.vote = append(r.vote, vote)
}

func newAccount(t *testing.T) (pub [32]byte, priv ed25519.PrivateKey) {
	t.Helper()
	pk, sk, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	copy(pub[:], pk)
	return pub, sk
}

func makeVote(t *testing.T, priv ed25519.PrivateKey, acct [32]byte, seq uint64) *wire.Vote {
	t.Helper()
	block := &wire.OpenBlock{Account: acct, Representative: acct}
	v := &wire.Vote{Account: acct, Sequence: seq, BlockType: block.Type(), Block: block}
	digest := v.SigningHash()
	var sig [64]byte
	copy(sig[:], ed25519.Sign(priv, digest[:]))
	v.Sig = sig
	return v
}

func newTestVoteProcessor(t *testing.T, replier Replier) (*VoteProcessor, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	l := ledger.New(s)
	obs := observer.New()
	return New(s, l, obs, replier), s
}

func TestProcessFiresVoteObservedOnAccept(t *testing.T) {
	vp, _ := newTestVoteProcessor(t, nil)
	acct, priv := newAccount(t)
	vote := makeVote(t, priv, acct, 1)

	var gotCode ledger.VoteCode
	observed := make(chan struct{})
	vp.observers.OnVoteObserved(func(v *wire.Vote, code ledger.VoteCode, from wire.Endpoint) {
		gotCode = code
		close(observed)
	})

	require.NoError(t, vp.Process(vote, wire.Endpoint{}))

	select {
	case <-observed:
	default:
		t.Fatal("vote_observed was not fired")
	}
	require.Equal(t, ledger.VoteOK, gotCode)
}

func TestProcessDropsInvalidSignature(t *testing.T) {
	vp, _ := newTestVoteProcessor(t, nil)
	acct, _ := newAccount(t)
	_, otherPriv := newAccount(t)
	vote := makeVote(t, otherPriv, acct, 1)

	fired := false
	vp.observers.OnVoteObserved(func(*wire.Vote, ledger.VoteCode, wire.Endpoint) { fired = true })

	require.NoError(t, vp.Process(vote, wire.Endpoint{}))
	require.False(t, fired)
}

func TestProcessSendsReplayAssistBeyondThreshold(t *testing.T) {
	replier := &recordingReplier{}
	vp, _ := newTestVoteProcessor(t, replier)
	acct, priv := newAccount(t)

	high := makeVote(t, priv, acct, ledger.ReplayThreshold+50)
	require.NoError(t, vp.Process(high, wire.Endpoint{}))

	stale := makeVote(t, priv, acct, 1)
	require.NoError(t, vp.Process(stale, wire.Endpoint{Port: 7075}))

	require.Len(t, replier.vote, 1)
	require.Equal(t, high.Sequence, replier.vote[0].Sequence)
	require.Equal(t, uint16(7075), replier.to[0].Port)
}

func TestProcessSkipsReplayReplyWithinThreshold(t *testing.T) {
	replier := &recordingReplier{}
	vp, _ := newTestVoteProcessor(t, replier)
	acct, priv := newAccount(t)

	first := makeVote(t, priv, acct, 100)
	require.NoError(t, vp.Process(first, wire.Endpoint{}))

	close := makeVote(t, priv, acct, 99)
	require.NoError(t, vp.Process(close, wire.Endpoint{}))

	require.Empty(t, replier.vote)
}

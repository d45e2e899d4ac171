package network

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/razenet/razed/alarm"
	"github.com/razenet/razed/blockarrival"
	"github.com/razenet/razed/config"
	"github.com/razenet/razed/ledger"
	"github.com/razenet/razed/observer"
	"github.com/razenet/razed/wire"
	"github.com/stretchr/testify/require"
)

type syncExecutor struct{}

func (syncExecutor) Post(f func()) { f() }

type recordingSubmitter struct {
	mu     sync.Mutex
	blocks []wire.Block
}

func (s *recordingSubmitter) Submit(block wire.Block, force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, block)
}

func (s *recordingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}

type recordingVoteHandler struct {
	mu    sync.Mutex
	votes []*wire.Vote
}

func (v *recordingVoteHandler) Process(vote *wire.Vote, from wire.Endpoint) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.votes = append(v.votes, vote)
	return nil
}

func (v *recordingVoteHandler) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.votes)
}

func newLoopbackNetwork(t *testing.T, processor BlockSubmitter, votes VoteHandler) (*Network, *net.UDPAddr) {
	t.Helper()
	table := NewPeerTable(config.NetworkTest, observer.New())
	a := alarm.New(syncExecutor{})
	n := New(config.NetworkTest, table, processor, votes, nil, nil, nil, a, blockarrival.New())

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	require.NoError(t, n.Listen(addr))
	t.Cleanup(n.Stop)

	n.Run()
	return n, n.conn.LocalAddr().(*net.UDPAddr)
}

func sendRaw(t *testing.T, to *net.UDPAddr, data []byte) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, to)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func TestReceiveLoopDispatchesPublishToSubmitter(t *testing.T) {
	submitter := &recordingSubmitter{}
	votes := &recordingVoteHandler{}
	_, addr := newLoopbackNetwork(t, submitter, votes)

	block := &wire.OpenBlock{Account: [32]byte{0x1}, Representative: [32]byte{0x1}}
	msg := wire.NewPublishMessage(config.NetworkTest, block)
	data, err := wire.MarshalMessage(msg)
	require.NoError(t, err)

	sendRaw(t, addr, data)

	require.Eventually(t, func() bool { return submitter.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestReceiveLoopMarksBlockArrived(t *testing.T) {
	submitter := &recordingSubmitter{}
	votes := &recordingVoteHandler{}
	n, addr := newLoopbackNetwork(t, submitter, votes)

	block := &wire.OpenBlock{Account: [32]byte{0x6}, Representative: [32]byte{0x6}}
	msg := wire.NewPublishMessage(config.NetworkTest, block)
	data, err := wire.MarshalMessage(msg)
	require.NoError(t, err)

	sendRaw(t, addr, data)

	require.Eventually(t, func() bool { return n.arrival.Recent(block.Hash()) }, 2*time.Second, 10*time.Millisecond)
}

func TestReceiveLoopDispatchesConfirmAckToVoteHandler(t *testing.T) {
	submitter := &recordingSubmitter{}
	votes := &recordingVoteHandler{}
	_, addr := newLoopbackNetwork(t, submitter, votes)

	block := &wire.OpenBlock{Account: [32]byte{0x2}, Representative: [32]byte{0x2}}
	vote := &wire.Vote{Account: [32]byte{0x2}, Sequence: 1, BlockType: block.Type(), Block: block}
	msg := wire.NewConfirmAckMessage(config.NetworkTest, vote)
	data, err := wire.MarshalMessage(msg)
	require.NoError(t, err)

	sendRaw(t, addr, data)

	require.Eventually(t, func() bool { return votes.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRepublishVoteSkipsReplayAndLowWeight(t *testing.T) {
	submitter := &recordingSubmitter{}
	votes := &recordingVoteHandler{}
	n, _ := newLoopbackNetwork(t, submitter, votes)

	block := &wire.OpenBlock{Account: [32]byte{0x3}, Representative: [32]byte{0x3}}
	vote := &wire.Vote{Account: [32]byte{0x3}, Sequence: 1, BlockType: block.Type(), Block: block}

	// No weight lookup wired, so even a non-replay vote is skipped.
	n.RepublishVote(vote, ledger.VoteOK)
	n.RepublishVote(vote, ledger.VoteReplay)
}

func TestAcceptWorkRejectsInsufficientWork(t *testing.T) {
	table := NewPeerTable(config.NetworkLive, observer.New())
	a := alarm.New(syncExecutor{})
	n := New(config.NetworkLive, table, &recordingSubmitter{}, &recordingVoteHandler{}, nil, nil, nil, a, nil)

	// Live network's threshold is high enough that an unworked block's
	// nonce (zero) essentially never clears it.
	block := &wire.OpenBlock{Account: [32]byte{0x4}, Representative: [32]byte{0x4}}
	from := wire.NewEndpoint(net.ParseIP("127.0.0.1"), 7075)

	require.False(t, n.acceptWork(block, from))
	require.Equal(t, uint64(1), n.DroppedInsufficientWork())
}

func TestAcceptWorkAcceptsWorkAboveThreshold(t *testing.T) {
	table := NewPeerTable(config.NetworkTest, observer.New())
	a := alarm.New(syncExecutor{})
	n := New(config.NetworkTest, table, &recordingSubmitter{}, &recordingVoteHandler{}, nil, nil, nil, a, nil)

	// Test network's threshold is low enough that any nonce clears it.
	block := &wire.OpenBlock{Account: [32]byte{0x5}, Representative: [32]byte{0x5}}
	from := wire.NewEndpoint(net.ParseIP("127.0.0.1"), 17075)

	require.True(t, n.acceptWork(block, from))
	require.Equal(t, uint64(0), n.DroppedInsufficientWork())
}

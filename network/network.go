package network

import (
	"math"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/razenet/razed/alarm"
	"github.com/razenet/razed/blockarrival"
	"github.com/razenet/razed/config"
	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/ledger"
	"github.com/razenet/razed/logger"
	"github.com/razenet/razed/util/panics"
	"github.com/razenet/razed/wallet"
	"github.com/razenet/razed/wire"
)

var log, _ = logger.Get(logger.SubsystemTags.NETW)
var spawn = panics.GoroutineWrapperFunc(log)

// MaxDatagramSize bounds a single UDP read; every message this protocol
// defines (the largest being a confirm_ack carrying an open block,
// 8 + 105 + 168 bytes) fits within it.
const MaxDatagramSize = 512

// SocketErrorPause is how long the receive loop waits, via the alarm,
// before retrying after a socket error.
const SocketErrorPause = 5 * time.Second

// RepublishVoteInterval is the minimum spacing between two republishes of
// a vote for the same election root.
const RepublishVoteInterval = 1 * time.Second

// razeUnit is 10^24 base units, chosen so the fixed 2^120 DefaultSupply
// (see ledger.DefaultSupply) comfortably exceeds a few hundred million
// raze, matching Nano-style unit magnitudes. Mraze (10^6 raze) is the
// unit the republish_vote weight-floor rule is expressed in.
var razeUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

// MrazeWeightFloor is the rep_weight(vote.account) > 256 * Mraze
// threshold from republish_vote's rate-limiting rules.
var MrazeWeightFloor = new(big.Int).Mul(new(big.Int).Mul(razeUnit, big.NewInt(1_000_000)), big.NewInt(256))

// BlockSubmitter is the block processor's submission surface. Defined
// locally to avoid an import cycle with blockprocessor.
type BlockSubmitter interface {
	Submit(block wire.Block, force bool)
}

// VoteHandler is the vote processor's entry point. Defined locally to
// avoid an import cycle with voteproc.
type VoteHandler interface {
	Process(vote *wire.Vote, from wire.Endpoint) error
}

// WeightLookup resolves a representative's current tallied weight, used
// by republish_vote's rate-limiting rule.
type WeightLookup interface {
	Weight(account [32]byte) *big.Int
}

// BlockLookup resolves a block by hash, used to fill in a confirm_req's
// block payload when the rep crawler only has the hash to probe with.
// Defined locally to avoid an import cycle with ledger/store.
type BlockLookup interface {
	Block(blockHash hash.Digest) (wire.Block, error)
}

// Network owns the single UDP socket, the peer table, and the
// square-root fanout republish logic.
type Network struct {
	mu       sync.Mutex
	conn     *net.UDPConn
	stopped  bool
	sequence map[[32]byte]uint64

	lastVoteRepublish map[hash.Digest]time.Time

	droppedInsufficientWork uint64

	cfg       config.Network
	peers     *PeerTable
	processor BlockSubmitter
	votes     VoteHandler
	wallet    wallet.Signer
	weights   WeightLookup
	blocks    BlockLookup
	alarm     *alarm.Alarm
	arrival   *blockarrival.Set
}

// New constructs a Network. wallet and weights may be nil if this node
// holds no representative keys (republish_block then always sends
// unsigned publish, and republish_vote's weight-floor check always
// fails closed). blocks may be nil if the rep crawler's confirm_req
// requests are not wired; SendConfirmReq then drops them. arrival is
// the node-wide blockarrival.Set every gossip-carried block is marked
// against, mirroring process_active's block_arrival.add on every
// publish/confirm_req/confirm_ack.
func New(cfg config.Network, peers *PeerTable, processor BlockSubmitter, votes VoteHandler,
	w wallet.Signer, weights WeightLookup, blocks BlockLookup, a *alarm.Alarm, arrival *blockarrival.Set) *Network {
	return &Network{
		sequence:          make(map[[32]byte]uint64),
		lastVoteRepublish: make(map[hash.Digest]time.Time),
		cfg:               cfg,
		peers:             peers,
		processor:         processor,
		votes:             votes,
		wallet:            w,
		weights:           weights,
		blocks:            blocks,
		alarm:             a,
		arrival:           arrival,
	}
}

// Listen binds the UDP peering socket.
func (n *Network) Listen(addr *net.UDPAddr) error {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return errors.Wrap(err, "failed to bind peering socket")
	}
	n.conn = conn
	return nil
}

// Run starts the receive loop goroutine.
func (n *Network) Run() {
	spawn(n.receiveLoop)
}

// Stop closes the socket, unblocking any in-flight read.
func (n *Network) Stop() {
	n.mu.Lock()
	n.stopped = true
	n.mu.Unlock()
	if n.conn != nil {
		n.conn.Close()
	}
}

func (n *Network) isStopped() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stopped
}

func (n *Network) receiveLoop() {
	buf := make([]byte, MaxDatagramSize)
	for {
		if n.isStopped() {
			return
		}

		read, addr, err := n.conn.ReadFromUDP(buf)
		if err != nil {
			if n.isStopped() {
				return
			}
			log.Errorf("network: socket read failed: %s", err)
			resume := make(chan struct{})
			n.alarm.AddAfter(SocketErrorPause, func() { close(resume) })
			<-resume
			continue
		}

		n.handleDatagram(append([]byte(nil), buf[:read]...), addr)
	}
}

func (n *Network) handleDatagram(data []byte, addr *net.UDPAddr) {
	senderIP := addr.IP
	if IsReservedAddress(senderIP, n.cfg) {
		return
	}

	msg, err := wire.UnmarshalMessage(data)
	if err != nil {
		log.Debugf("network: failed to parse datagram from %s: %s", addr, err)
		return
	}

	sender := wire.NewEndpoint(senderIP, uint16(addr.Port))
	n.peers.Contacted(sender, msg.Header.VersionUsing)

	switch payload := msg.Payload.(type) {
	case *wire.Keepalive:
		for _, endpoint := range payload.Peers {
			if !endpoint.IsZero() {
				n.peers.Insert(endpoint, msg.Header.VersionUsing)
			}
		}

	case *wire.Publish:
		if !n.acceptWork(payload.Block, sender) {
			return
		}
		n.markArrived(payload.Block)
		n.processor.Submit(payload.Block, false)

	case *wire.ConfirmReq:
		if !n.acceptWork(payload.Block, sender) {
			return
		}
		n.markArrived(payload.Block)
		n.processor.Submit(payload.Block, false)
		n.handleConfirmReq(payload.Block, sender)

	case *wire.ConfirmAck:
		n.markArrived(payload.Vote.Block)
		if err := n.votes.Process(payload.Vote, sender); err != nil {
			log.Errorf("network: vote processing failed: %s", err)
		}
	}
}

// acceptWork reports whether block's proof of work clears this network's
// threshold for its root, logging and counting the drop otherwise. This
// is the anti-spam gate every inbound block carrying a publish or
// confirm_req payload must pass before it reaches the block processor.
func (n *Network) acceptWork(block wire.Block, from wire.Endpoint) bool {
	root := block.Root()
	if hash.WorkValid(block.Work(), root[:], n.cfg.WorkThreshold()) {
		return true
	}
	atomic.AddUint64(&n.droppedInsufficientWork, 1)
	blockHash := block.Hash()
	log.Debugf("network: dropping block %x from %s: insufficient work", blockHash[:8], from.UDPAddr())
	return false
}

// DroppedInsufficientWork returns the number of inbound blocks dropped
// for failing the proof-of-work threshold since this Network started.
func (n *Network) DroppedInsufficientWork() uint64 {
	return atomic.LoadUint64(&n.droppedInsufficientWork)
}

// markArrived records block as having just arrived over UDP, so the
// block processor's dedup window and fork-vs-bootstrap decision see it
// as gossip-fresh. block may be nil (a confirm_ack's embedded block is
// not always populated) or arrival may be nil in tests that don't wire
// one.
func (n *Network) markArrived(block wire.Block) {
	if n.arrival == nil || block == nil {
		return
	}
	n.arrival.Add(block.Hash())
}

// handleConfirmReq replies with a signed confirm_ack for block if this
// node holds any representative key, per the protocol's "reps vote on
// request" behavior that republish_block mirrors for self-originated
// blocks.
func (n *Network) handleConfirmReq(block wire.Block, to wire.Endpoint) {
	account, ok := n.firstHeldRepresentative()
	if !ok {
		return
	}

	seq := n.nextSequence(account)
	vote, err := n.wallet.Sign(account, seq, block)
	if err != nil {
		log.Errorf("network: failed to sign confirm_ack: %s", err)
		return
	}
	n.sendMessage(wire.NewConfirmAckMessage(n.cfg, vote), to)
}

// firstHeldRepresentative reports whether this node holds any
// representative key at all — "any wallet-held key qualifies" per
// republish_block's rule — and returns the first one found.
func (n *Network) firstHeldRepresentative() ([32]byte, bool) {
	if n.wallet == nil {
		return [32]byte{}, false
	}
	reps := n.wallet.Representatives()
	if len(reps) == 0 {
		return [32]byte{}, false
	}
	return reps[0], true
}

func (n *Network) nextSequence(account [32]byte) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sequence[account]++
	return n.sequence[account]
}

func (n *Network) sendMessage(msg *wire.Message, to wire.Endpoint) {
	data, err := wire.MarshalMessage(msg)
	if err != nil {
		log.Errorf("network: failed to marshal message: %s", err)
		return
	}
	if _, err := n.conn.WriteToUDP(data, to.UDPAddr()); err != nil {
		log.Errorf("network: send to %s failed: %s", to.UDPAddr(), err)
	}
}

// fanoutPeers returns ceil(sqrt(peerCount))*2 random peers.
func (n *Network) fanoutPeers() ([]wire.Endpoint, error) {
	count := n.peers.Count()
	fanout := int(math.Ceil(math.Sqrt(float64(count)))) * 2
	return n.peers.RandomSet(fanout)
}

// RepublishBlock implements republish_block: a new block is announced to
// the fanout set either as an unsigned publish, or — if this node holds
// any representative key — as a signed confirm_ack vote instead.
func (n *Network) RepublishBlock(block wire.Block) {
	fanout, err := n.fanoutPeers()
	if err != nil {
		log.Errorf("network: failed to select fanout peers: %s", err)
		return
	}

	var msg *wire.Message
	if repAccount, ok := n.firstHeldRepresentative(); ok {
		seq := n.nextSequence(repAccount)
		vote, err := n.wallet.Sign(repAccount, seq, block)
		if err != nil {
			log.Errorf("network: failed to sign republish vote: %s", err)
			return
		}
		msg = wire.NewConfirmAckMessage(n.cfg, vote)
	} else {
		msg = wire.NewPublishMessage(n.cfg, block)
	}

	for _, peer := range fanout {
		n.sendMessage(msg, peer)
	}
}

// RepublishVote implements republish_vote's rate-limiting rules: the
// previous republish of this election's root was over a second ago, the
// voting account's weight exceeds the Mraze floor, and the vote was not
// already classified as a replay.
func (n *Network) RepublishVote(vote *wire.Vote, code ledger.VoteCode) {
	if code == ledger.VoteReplay {
		return
	}

	root := hash.Digest(vote.Block.Root())
	now := time.Now()

	n.mu.Lock()
	last, ok := n.lastVoteRepublish[root]
	if ok && now.Sub(last) <= RepublishVoteInterval {
		n.mu.Unlock()
		return
	}
	n.lastVoteRepublish[root] = now
	n.mu.Unlock()

	if n.weights == nil {
		return
	}
	weight := n.weights.Weight(vote.Account)
	if weight == nil || weight.Cmp(MrazeWeightFloor) <= 0 {
		return
	}

	fanout, err := n.fanoutPeers()
	if err != nil {
		log.Errorf("network: failed to select fanout peers for vote republish: %s", err)
		return
	}
	msg := wire.NewConfirmAckMessage(n.cfg, vote)
	for _, peer := range fanout {
		n.sendMessage(msg, peer)
	}
}

// BroadcastWinner implements active.Announcer: republishing an
// election's current leader is the same fanout publish RepublishBlock
// performs for any freshly-accepted block.
func (n *Network) BroadcastWinner(root hash.Digest, winner wire.Block) {
	n.RepublishBlock(winner)
}

// RequestBootstrap implements active.Announcer and gapcache's
// BootstrapRequester shape; Network has no bootstrap subsystem of its
// own to hand this to yet, so it only logs. node wires a real
// Bootstrapper in once one exists.
func (n *Network) RequestBootstrap(root hash.Digest) {
	log.Debugf("network: bootstrap requested for root %x (no bootstrap subsystem wired)", root[:8])
}

// PeerTable exposes the underlying peer table, for node wiring
// (rep crawler, keepalive sender).
func (n *Network) PeerTable() *PeerTable {
	return n.peers
}

// SendConfirmReq implements repcrawler.Requester: asks to a single peer
// to vote on blockHash, looking up the block's current encoding to fill
// the request payload.
func (n *Network) SendConfirmReq(to wire.Endpoint, blockHash hash.Digest) {
	if n.blocks == nil {
		return
	}
	block, err := n.blocks.Block(blockHash)
	if err != nil || block == nil {
		log.Debugf("network: confirm_req lookup for %x failed: %s", blockHash[:8], err)
		return
	}
	n.sendMessage(wire.NewConfirmReqMessage(n.cfg, block), to)
}

// SendConfirmAck implements voteproc.Replier: a one-shot replay-assist
// reply handing the sender the ledger's current higher-sequence vote.
func (n *Network) SendConfirmAck(to wire.Endpoint, vote *wire.Vote) {
	n.sendMessage(wire.NewConfirmAckMessage(n.cfg, vote), to)
}

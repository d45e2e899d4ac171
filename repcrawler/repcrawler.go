// Package repcrawler implements representative discovery: every 16
// seconds it probes a handful of peers with a confirm_req for a randomly
// chosen block, tracks the probed hash in an active set for 5 seconds,
// and promotes any peer whose vote lands on a hash still in that set to a
// known representative with weight = ledger.weight(vote.account). The
// periodic-probe-then-expire shape is grounded on the teacher's
// addrmgr/knownaddress.go selection-by-staleness idiom, generalized from
// address-book refresh to vote solicitation.
package repcrawler

import (
	"math/big"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/razenet/razed/alarm"
	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/ledger"
	"github.com/razenet/razed/logger"
	"github.com/razenet/razed/store"
	"github.com/razenet/razed/util/random"
	"github.com/razenet/razed/wire"
)

var errNoBlocks = errors.New("rep crawler: no blocks in store to probe")

var log, _ = logger.Get(logger.SubsystemTags.REPC)

const (
	// ProbeInterval is how often the crawler fires a new round of probes.
	ProbeInterval = 16 * time.Second
	// PeersPerRound is the maximum number of peers probed each round.
	PeersPerRound = 8
	// ActiveHashTTL is how long a probed hash stays eligible for
	// representative promotion.
	ActiveHashTTL = 5 * time.Second
)

// PeerCandidate is the subset of peer-table state the crawler needs to
// pick probe targets.
type PeerCandidate struct {
	Endpoint        wire.Endpoint
	LastRepRequest  time.Time
}

// PeerSource selects up to n peers ordered by LastRepRequest ascending,
// and records that a peer was just probed.
type PeerSource interface {
	OldestRepRequests(n int) []PeerCandidate
	MarkRepRequested(endpoint wire.Endpoint, when time.Time)
}

// Requester sends a confirm_req for blockHash to a peer.
type Requester interface {
	SendConfirmReq(to wire.Endpoint, blockHash hash.Digest)
}

// RepresentativeRegistry receives representative promotions.
type RepresentativeRegistry interface {
	MarkRepresentative(endpoint wire.Endpoint, account [32]byte, weight *big.Int)
}

// Crawler runs the periodic rep-discovery probe loop and tracks the
// active set of recently-probed hashes.
type Crawler struct {
	mu     sync.Mutex
	active map[hash.Digest]time.Time

	store     *store.Store
	ledger    *ledger.Ledger
	peers     PeerSource
	requester Requester
	registry  RepresentativeRegistry
	alarm     *alarm.Alarm

	probeInterval time.Duration
	peersPerRound int
	activeTTL     time.Duration

	stopped bool
}

// New constructs a Crawler.
func New(s *store.Store, l *ledger.Ledger, peers PeerSource, requester Requester,
	registry RepresentativeRegistry, a *alarm.Alarm) *Crawler {
	return &Crawler{
		active:        make(map[hash.Digest]time.Time),
		store:         s,
		ledger:        l,
		peers:         peers,
		requester:     requester,
		registry:      registry,
		alarm:         a,
		probeInterval: ProbeInterval,
		peersPerRound: PeersPerRound,
		activeTTL:     ActiveHashTTL,
	}
}

// Run schedules the first probe round.
func (c *Crawler) Run() {
	c.alarm.AddAfter(c.probeInterval, c.probeRound)
}

// Stop prevents further probe rounds from rescheduling.
func (c *Crawler) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

func (c *Crawler) probeRound() {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return
	}

	blockHash, err := c.randomBlockHash()
	if err != nil {
		log.Debugf("rep crawler: no block available to probe: %s", err)
	} else {
		peers := c.peers.OldestRepRequests(c.peersPerRound)
		now := time.Now()

		c.mu.Lock()
		c.active[blockHash] = now
		c.mu.Unlock()

		for _, peer := range peers {
			c.requester.SendConfirmReq(peer.Endpoint, blockHash)
			c.peers.MarkRepRequested(peer.Endpoint, now)
		}

		c.alarm.Add(now.Add(c.activeTTL), func() { c.expire(blockHash) })
	}

	c.alarm.AddAfter(c.probeInterval, c.probeRound)
}

func (c *Crawler) expire(blockHash hash.Digest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, blockHash)
}

// ObserveVote is called for every vote_observed event; if the vote's
// block hash is in the active set, the sending peer is promoted to a
// known representative.
func (c *Crawler) ObserveVote(tx *store.Transaction, vote *wire.Vote, from wire.Endpoint) error {
	blockHash := vote.Block.Hash()

	c.mu.Lock()
	_, active := c.active[blockHash]
	c.mu.Unlock()
	if !active {
		return nil
	}

	weight, err := c.ledger.Weight(tx, vote.Account)
	if err != nil {
		return err
	}
	if c.registry != nil {
		c.registry.MarkRepresentative(from, vote.Account, weight)
	}
	return nil
}

// randomBlockHash picks a uniformly random block hash from the store
// using reservoir sampling over a single table scan.
func (c *Crawler) randomBlockHash() (hash.Digest, error) {
	tx, err := c.store.Begin()
	if err != nil {
		return hash.Digest{}, err
	}
	defer tx.Commit()

	it, err := tx.Iterate(store.TableBlocks)
	if err != nil {
		return hash.Digest{}, err
	}
	defer it.Release()

	var chosen hash.Digest
	found := false
	count := 0
	for it.Next() {
		count++
		n, err := random.Intn(count)
		if err != nil {
			return hash.Digest{}, err
		}
		if n == 0 {
			copy(chosen[:], it.Key())
			found = true
		}
	}
	if err := it.Error(); err != nil {
		return hash.Digest{}, err
	}
	if !found {
		return hash.Digest{}, errNoBlocks
	}
	return chosen, nil
}

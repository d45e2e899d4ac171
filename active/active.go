// Package active implements the active-transactions engine: one Election
// per disputed root, vote tallying against quorum/minimum supply-fraction
// thresholds, and the periodic announcement loop that broadcasts each
// election's current leader, forces a cutoff after a bounded number of
// rounds, and retires confirmed roots. The periodic-loop-over-a-shared-
// map shape, and posting the loop's own continuation back onto the
// alarm, are grounded on the teacher's connmgr periodic-maintenance
// pattern, generalized from address-book upkeep to election upkeep.
package active

import (
	"math/big"
	"sync"
	"time"

	"github.com/razenet/razed/alarm"
	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/ledger"
	"github.com/razenet/razed/logger"
	"github.com/razenet/razed/store"
	"github.com/razenet/razed/wire"
)

var log, _ = logger.Get(logger.SubsystemTags.ACTV)

// Configuration constants from the spec.
const (
	AnnounceInterval         = 16 * time.Second
	ContiguousAnnouncements  = 4
	AnnouncementsPerInterval = 20
)

// Submitter is the block processor's submission surface, satisfied by
// *blockprocessor.Processor; defined here rather than imported to avoid
// a dependency cycle (the block processor has no need to know about
// elections).
type Submitter interface {
	Submit(block wire.Block, force bool)
}

// Announcer is the network layer's broadcast surface: republishing an
// election's current leader, and requesting a bootstrap pull when a
// root is starved for representative votes.
type Announcer interface {
	BroadcastWinner(root hash.Digest, winner wire.Block)
	RequestBootstrap(root hash.Digest)
}

// ActiveTransactions owns one Election per currently-disputed root,
// tallies incoming votes against it, and runs the periodic announcement
// loop that drives each election to a terminal confirmation.
type ActiveTransactions struct {
	mu        sync.Mutex
	elections map[hash.Digest]*Election
	order     []hash.Digest

	ledger    *ledger.Ledger
	submitter Submitter
	announcer Announcer
	alarm     *alarm.Alarm

	quorumThreshold  *big.Int
	minimumThreshold *big.Int

	onConfirmation   func(winner wire.Block, exceededMin bool)
	processConfirmed func(winner wire.Block)

	announceInterval         time.Duration
	contiguousAnnouncements  int
	announcementsPerInterval int
}

// New constructs an ActiveTransactions engine. supply is the ledger's
// total issued supply, used to derive quorum_threshold = supply/2 and
// minimum_threshold = supply/16.
func New(l *ledger.Ledger, submitter Submitter, announcer Announcer, a *alarm.Alarm, supply *big.Int,
	onConfirmation func(wire.Block, bool), processConfirmed func(wire.Block)) *ActiveTransactions {
	return &ActiveTransactions{
		elections:                make(map[hash.Digest]*Election),
		ledger:                   l,
		submitter:                submitter,
		announcer:                announcer,
		alarm:                    a,
		quorumThreshold:          new(big.Int).Div(supply, big.NewInt(2)),
		minimumThreshold:         new(big.Int).Div(supply, big.NewInt(16)),
		onConfirmation:           onConfirmation,
		processConfirmed:         processConfirmed,
		announceInterval:         AnnounceInterval,
		contiguousAnnouncements:  ContiguousAnnouncements,
		announcementsPerInterval: AnnouncementsPerInterval,
	}
}

// Run schedules the first announcement tick on the alarm.
func (at *ActiveTransactions) Run() {
	at.alarm.AddAfter(at.announceInterval, at.announceVotes)
}

// Start seeds the election for root with a freshly-accepted block,
// establishing it as the live tally leader until any vote displaces it.
// Called from the block-accepted observer for every gossip-fresh
// arrival, mirroring the original implementation's unconditional
// active.start from its block_accepted observer.
func (at *ActiveTransactions) Start(root hash.Digest, block wire.Block) {
	election := at.getOrCreateElection(root)
	election.seed(block)
}

func (at *ActiveTransactions) getOrCreateElection(root hash.Digest) *Election {
	at.mu.Lock()
	defer at.mu.Unlock()

	election, ok := at.elections[root]
	if !ok {
		election = newElection(root)
		at.elections[root] = election
		at.order = append(at.order, root)
	}
	return election
}

func (at *ActiveTransactions) removeElection(root hash.Digest) {
	at.mu.Lock()
	defer at.mu.Unlock()

	delete(at.elections, root)
	for i, r := range at.order {
		if r == root {
			at.order = append(at.order[:i], at.order[i+1:]...)
			break
		}
	}
}

func (at *ActiveTransactions) submitWinner(block wire.Block) {
	at.submitter.Submit(block, true)
}

// HandleVote tallies vote into the election for its block's root,
// creating the election if this is the first vote seen for that root,
// and runs confirm_once if the tally leader now exceeds quorum.
func (at *ActiveTransactions) HandleVote(tx *store.Transaction, vote *wire.Vote) error {
	weight, err := at.ledger.Weight(tx, vote.Account)
	if err != nil {
		return err
	}

	root := hash.Digest(vote.Block.Root())
	election := at.getOrCreateElection(root)
	topWeight := election.AddVote(vote, weight)

	if topWeight.Cmp(at.quorumThreshold) > 0 {
		election.ConfirmOnce(at.minimumThreshold, at.submitWinner, at.processConfirmed, at.onConfirmation)
		at.removeElection(root)
	}
	return nil
}

// announceVotes is the periodic 16-second tick: it broadcasts up to
// announcementsPerInterval elections' current leaders in insertion
// order, force-cutting-off and retiring any that have been announced
// contiguousAnnouncements times, and resetting the counter on roots
// beyond this tick's service limit (DoS protection against fork
// floods).
func (at *ActiveTransactions) announceVotes() {
	at.mu.Lock()
	roots := append([]hash.Digest(nil), at.order...)
	at.mu.Unlock()

	for i, root := range roots {
		at.mu.Lock()
		election, ok := at.elections[root]
		at.mu.Unlock()
		if !ok {
			continue
		}

		if i >= at.announcementsPerInterval {
			election.ResetAnnouncements()
			continue
		}

		if winner := election.LeaderBlock(); winner != nil && at.announcer != nil {
			at.announcer.BroadcastWinner(root, winner)
		}

		announcements, cutoff := election.BumpAnnouncements(at.contiguousAnnouncements)
		if cutoff {
			election.ConfirmOnce(at.minimumThreshold, at.submitWinner, at.processConfirmed, at.onConfirmation)
			at.removeElection(root)
			continue
		}

		if announcements > 1 && election.RepresentativeCount() < 2 && at.announcer != nil {
			at.announcer.RequestBootstrap(root)
		}
	}

	at.alarm.AddAfter(at.announceInterval, at.announceVotes)
}

// Elections returns the number of currently-disputed roots, for tests
// and diagnostics.
func (at *ActiveTransactions) Elections() int {
	at.mu.Lock()
	defer at.mu.Unlock()
	return len(at.elections)
}

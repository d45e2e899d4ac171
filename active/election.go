package active

import (
	"bytes"
	"math/big"
	"sync"

	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/wire"
)

// state is an election's position in the Started -> Announcing ->
// Confirmed state machine. A quorum-reaching vote jumps directly to
// Confirmed from any state.
type state int

const (
	stateStarted state = iota
	stateAnnouncing
	stateConfirmed
)

type voteRecord struct {
	vote   *wire.Vote
	weight *big.Int
}

// Election tracks the competing blocks proposed for a single disputed
// root: one vote per representative (highest sequence wins), tallied by
// candidate block hash. The votes-by-block tally shape is grounded on
// the teacher's VoteSet (blockberries-leaderberry engine/vote_tracker.go),
// generalized from 2/3-majority-of-validator-set to the quorum/minimum
// supply-fraction thresholds this network uses.
type Election struct {
	mu sync.Mutex

	root   hash.Digest
	votes  map[[32]byte]*voteRecord
	blocks map[hash.Digest]wire.Block

	topHash   hash.Digest
	topWeight *big.Int

	// currentWinner is the block this election has actually force-
	// submitted to the block processor. It only changes inside
	// ConfirmOnce, distinct from topHash which tracks the live tally
	// leader on every vote.
	currentWinner hash.Digest
	confirmedOnce bool
	announcements int
	electionState state
}

func newElection(root hash.Digest) *Election {
	return &Election{
		root:      root,
		votes:     make(map[[32]byte]*voteRecord),
		blocks:    make(map[hash.Digest]wire.Block),
		topWeight: new(big.Int),
	}
}

// seed registers block as a candidate for this election and, if no vote
// has yet been tallied, makes it the live leader, so LeaderBlock has
// something sane to announce before any vote arrives.
func (e *Election) seed(block wire.Block) {
	e.mu.Lock()
	defer e.mu.Unlock()

	blockHash := block.Hash()
	if _, ok := e.blocks[blockHash]; !ok {
		e.blocks[blockHash] = block
	}
	if len(e.votes) == 0 {
		e.topHash = blockHash
	}
}

// AddVote records vote if it supersedes the representative's last known
// vote (by sequence), then retallies the candidate blocks. Returns the
// new tally leader's weight so the caller can check it against quorum.
func (e *Election) AddVote(vote *wire.Vote, weight *big.Int) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, ok := e.votes[vote.Account]
	if ok && existing.vote.Sequence >= vote.Sequence {
		return new(big.Int).Set(e.topWeight)
	}

	e.votes[vote.Account] = &voteRecord{vote: vote, weight: new(big.Int).Set(weight)}
	e.blocks[vote.Block.Hash()] = vote.Block
	if e.electionState == stateStarted {
		e.electionState = stateAnnouncing
	}

	e.retallyLocked()
	return new(big.Int).Set(e.topWeight)
}

func (e *Election) retallyLocked() {
	tally := make(map[hash.Digest]*big.Int)
	for _, vr := range e.votes {
		blockHash := vr.vote.Block.Hash()
		if tally[blockHash] == nil {
			tally[blockHash] = new(big.Int)
		}
		tally[blockHash].Add(tally[blockHash], vr.weight)
	}

	var best hash.Digest
	bestWeight := new(big.Int)
	first := true
	for blockHash, weight := range tally {
		cmp := weight.Cmp(bestWeight)
		if first || cmp > 0 || (cmp == 0 && bytes.Compare(blockHash[:], best[:]) < 0) {
			best = blockHash
			bestWeight = weight
			first = false
		}
	}

	e.topHash = best
	e.topWeight = bestWeight
}

// RepresentativeCount returns the number of distinct representatives
// that have voted on this root.
func (e *Election) RepresentativeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.votes)
}

// LeaderBlock returns the block this election should broadcast as its
// current winner: the confirmed pick once ConfirmOnce has run, or the
// live tally leader until then.
func (e *Election) LeaderBlock() wire.Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentWinner != (hash.Digest{}) {
		return e.blocks[e.currentWinner]
	}
	return e.blocks[e.topHash]
}

// BumpAnnouncements advances the announcement counter, reporting whether
// this round forces a cutoff (the election has been announced
// contiguousAnnouncements-1 times already).
func (e *Election) BumpAnnouncements(contiguousAnnouncements int) (count int, cutoff bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.announcements >= contiguousAnnouncements-1 {
		return e.announcements, true
	}
	e.announcements++
	return e.announcements, false
}

// ResetAnnouncements zeros the announcement counter, used when a root
// falls outside this tick's per-interval service limit.
func (e *Election) ResetAnnouncements() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.announcements = 0
}

// ConfirmOnce runs the confirm_once reaction exactly once per election,
// no-opping on every subsequent call regardless of caller. winner is the
// tally leader at the moment of the first call; if its weight exceeds
// minimumThreshold and it differs from the confirmed pick so far, it is
// submitted to the block processor with force=true and becomes the
// election's permanent currentWinner.
func (e *Election) ConfirmOnce(minimumThreshold *big.Int, submit func(wire.Block),
	processConfirmed func(wire.Block), onConfirmation func(wire.Block, bool)) {
	e.mu.Lock()
	if e.confirmedOnce {
		e.mu.Unlock()
		return
	}
	e.confirmedOnce = true
	e.electionState = stateConfirmed

	winnerHash := e.topHash
	winnerBlock := e.blocks[winnerHash]
	exceededMin := e.topWeight.Cmp(minimumThreshold) > 0

	if exceededMin && winnerHash != e.currentWinner {
		e.currentWinner = winnerHash
	}
	confirmedBlock := e.blocks[e.currentWinner]
	e.mu.Unlock()

	if exceededMin && winnerBlock != nil && submit != nil {
		submit(winnerBlock)
	}
	if processConfirmed != nil {
		processConfirmed(confirmedBlock)
	}
	if onConfirmation != nil {
		onConfirmation(winnerBlock, exceededMin)
	}
}

// Confirmed reports whether ConfirmOnce has already run for this
// election.
func (e *Election) Confirmed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confirmedOnce
}

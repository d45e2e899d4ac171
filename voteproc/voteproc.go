// Package voteproc implements vote_process: validating an incoming vote
// against the ledger's stored-vote table, dispatching the vote_observed
// event on acceptance, and replying once with the stored vote when a
// lagging representative's sequence counter has fallen far behind (so it
// can resynchronize without us amplifying an attacker's traffic). The
// single validate-then-react shape is grounded on the teacher's p2p
// message-handler dispatch (peer/peer.go's OnX callback table),
// generalized from kaspad's block/tx relay messages to this network's
// vote classification codes.
package voteproc

import (
	"github.com/razenet/razed/ledger"
	"github.com/razenet/razed/logger"
	"github.com/razenet/razed/observer"
	"github.com/razenet/razed/store"
	"github.com/razenet/razed/wire"
)

var log, _ = logger.Get(logger.SubsystemTags.VOTP)

// Replier sends a single confirm_ack back to a peer, used only for the
// replay-assist reply. Defined locally so this package has no compile-time
// dependency on the network package.
type Replier interface {
	SendConfirmAck(to wire.Endpoint, vote *wire.Vote)
}

// VoteProcessor validates incoming votes and reacts to their
// classification.
type VoteProcessor struct {
	store     *store.Store
	ledger    *ledger.Ledger
	observers *observer.Observers
	replier   Replier
}

// New constructs a VoteProcessor. replier may be nil, in which case
// replay-assist replies are skipped (logged only).
func New(s *store.Store, l *ledger.Ledger, observers *observer.Observers, replier Replier) *VoteProcessor {
	return &VoteProcessor{store: s, ledger: l, observers: observers, replier: replier}
}

// Process validates vote, dispatches vote_observed on acceptance, and
// sends a replay-assist confirm_ack when appropriate. fromEndpoint is the
// peer the vote arrived from.
func (vp *VoteProcessor) Process(vote *wire.Vote, fromEndpoint wire.Endpoint) error {
	tx, err := vp.store.Begin()
	if err != nil {
		return err
	}

	code, effective, err := vp.ledger.VoteValidate(tx, vote)
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	switch code {
	case ledger.VoteOK, ledger.VoteOK2:
		vp.observers.FireVoteObserved(vote, code, fromEndpoint)

	case ledger.VoteReplay:
		if effective == nil {
			return nil
		}
		if effective.Sequence > vote.Sequence+ledger.ReplayThreshold {
			if vp.replier != nil {
				vp.replier.SendConfirmAck(fromEndpoint, effective)
			} else {
				log.Debugf("vote processor: no replier wired, dropping replay-assist reply to %x", fromEndpoint.Addr[:4])
			}
		}

	case ledger.VoteInvalid:
		log.Debugf("vote processor: dropped invalid vote from account %x", vote.Account[:8])
	}

	return nil
}

package ledger

import (
	"bytes"

	"github.com/razenet/razed/store"
	"github.com/razenet/razed/wire"
)

// VoteCode is the result of validating an incoming vote against the
// store's last-seen sequence for that representative.
type VoteCode int

const (
	// VoteInvalid means the signature did not verify.
	VoteInvalid VoteCode = iota
	// VoteReplay means the sequence is not higher than one already seen
	// for this account.
	VoteReplay
	// VoteOK means the vote was accepted and is now the stored vote for
	// this account.
	VoteOK
	// VoteOK2 means the vote was accepted and superseded a previous vote
	// for a *different* root from the same account (a rep moving its
	// vote to a new election).
	VoteOK2
)

func (c VoteCode) String() string {
	switch c {
	case VoteInvalid:
		return "invalid"
	case VoteReplay:
		return "replay"
	case VoteOK:
		return "vote"
	case VoteOK2:
		return "vote2"
	default:
		return "unknown"
	}
}

// storedVoteHeaderSize is the fixed size of a stored vote record's header:
// root(32) + sequence(8), followed by the vote's own wire encoding.
const storedVoteHeaderSize = 32 + 8

// storedVoteKey is the representative account a stored vote is keyed by.
func storedVoteKey(account [32]byte) []byte {
	return account[:]
}

func encodeStoredVote(root [32]byte, vote *wire.Vote) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(root[:])
	var seq [8]byte
	for i := 0; i < 8; i++ {
		seq[i] = byte(vote.Sequence >> (8 * i))
	}
	buf.Write(seq[:])

	if err := vote.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReplayThreshold is the sequence-gap above which a replay response is
// worth sending: if the stored vote's sequence exceeds the incoming vote's
// by more than this, the sender likely lost its sequence counter.
const ReplayThreshold = 10000

// VoteValidate validates an incoming vote against the stored vote (if any)
// for its account, returning the classification code and the vote that
// should now be treated as authoritative: the incoming vote on vote/vote2;
// on replay, the stored vote when it is for the same root and its sequence
// is more than ReplayThreshold ahead, and nil otherwise. An invalid
// signature yields VoteInvalid and nil.
func (l *Ledger) VoteValidate(tx *store.Transaction, vote *wire.Vote) (VoteCode, *wire.Vote, error) {
	if !vote.VerifySignature() {
		return VoteInvalid, nil, nil
	}

	root := vote.Block.Root()

	data, err := tx.Get(store.TableVote, storedVoteKey(vote.Account))
	if err != nil {
		if isNotFound(err) {
			return l.acceptVote(tx, root, vote)
		}
		return VoteInvalid, nil, err
	}

	if len(data) < storedVoteHeaderSize {
		return l.acceptVote(tx, root, vote)
	}

	var storedRoot [32]byte
	copy(storedRoot[:], data[:32])
	storedSeq := uint64(0)
	for i := 0; i < 8; i++ {
		storedSeq |= uint64(data[32+i]) << (8 * i)
	}

	if vote.Sequence <= storedSeq {
		if storedRoot == root && storedSeq-vote.Sequence > ReplayThreshold {
			storedVote, decodeErr := wire.DecodeVote(bytes.NewReader(data[storedVoteHeaderSize:]))
			if decodeErr != nil {
				return VoteReplay, nil, nil
			}
			return VoteReplay, storedVote, nil
		}
		return VoteReplay, nil, nil
	}

	code := VoteOK
	if storedRoot != root {
		code = VoteOK2
	}
	if _, _, err := l.acceptVote(tx, root, vote); err != nil {
		return code, vote, err
	}
	return code, vote, nil
}

func (l *Ledger) acceptVote(tx *store.Transaction, root [32]byte, vote *wire.Vote) (VoteCode, *wire.Vote, error) {
	encoded, err := encodeStoredVote(root, vote)
	if err != nil {
		return VoteInvalid, nil, err
	}
	if err := tx.Put(store.TableVote, storedVoteKey(vote.Account), encoded); err != nil {
		return VoteInvalid, nil, err
	}
	return VoteOK, vote, nil
}

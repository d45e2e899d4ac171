package ledger

// ProcessResult is the outcome of Ledger.Process for a single block,
// matching the reaction table the block processor dispatches on.
type ProcessResult int

const (
	// Progress means the block extended the ledger.
	Progress ProcessResult = iota
	// Old means the block's hash was already present.
	Old
	// GapPrevious means the block's previous/root predecessor is unknown.
	GapPrevious
	// GapSource means a receive/open's referenced send block is unknown.
	GapSource
	// Fork means another block already occupies this root.
	Fork
	// BadSignature means the signature does not verify for the owning
	// account.
	BadSignature
	// NegativeSpend means a send block's new balance is not less than the
	// account's previous balance.
	NegativeSpend
	// Unreceivable means a receive/open references a source with no
	// matching pending entry.
	Unreceivable
	// NotReceiveFromSend means the referenced source block is not a send.
	NotReceiveFromSend
	// AccountMismatch means the predecessor block's recorded owning
	// account is inconsistent with the ledger's account-head bookkeeping.
	AccountMismatch
	// OpenedBurnAccount means an open block claims the reserved burn
	// account.
	OpenedBurnAccount
)

func (r ProcessResult) String() string {
	switch r {
	case Progress:
		return "progress"
	case Old:
		return "old"
	case GapPrevious:
		return "gap_previous"
	case GapSource:
		return "gap_source"
	case Fork:
		return "fork"
	case BadSignature:
		return "bad_signature"
	case NegativeSpend:
		return "negative_spend"
	case Unreceivable:
		return "unreceivable"
	case NotReceiveFromSend:
		return "not_receive_from_send"
	case AccountMismatch:
		return "account_mismatch"
	case OpenedBurnAccount:
		return "opened_burn_account"
	default:
		return "unknown"
	}
}

// Outcome carries a Process result alongside everything the block
// processor's observer dispatch needs: the affected account, the amount
// moved, and whether a pending entry was created.
type Outcome struct {
	Result        ProcessResult
	Account       [32]byte
	Amount        []byte // big-endian u128, nil if not applicable
	PendingCreate bool
	PendingFor    [32]byte // destination account, if PendingCreate
}

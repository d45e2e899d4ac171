// Package observer implements the process-wide publish/subscribe fan-out
// the Node composite owns: block-accepted, account-balance,
// endpoint-discovered, vote-observed and peer-disconnect events. Handlers
// for a single event fire sequentially in registration order, matching
// the concurrency model's ordering guarantee. The registry shape has no
// direct teacher analogue (kaspad fans out through gRPC notification
// streams instead); it is a small, idiomatic callback-slice pattern.
package observer

import (
	"math/big"
	"sync"

	"github.com/razenet/razed/ledger"
	"github.com/razenet/razed/wire"
)

// BlockAcceptedHandler is called once per accepted block.
type BlockAcceptedHandler func(block wire.Block, account [32]byte, amount *big.Int)

// AccountBalanceHandler is called once per balance-affecting outcome,
// pending=true for the destination side of a newly created pending entry.
type AccountBalanceHandler func(account [32]byte, pending bool)

// EndpointDiscoveredHandler is called the first time a peer endpoint is
// inserted into the peer table.
type EndpointDiscoveredHandler func(endpoint wire.Endpoint)

// VoteObservedHandler is called for every vote classified as vote or
// vote2 by Ledger.VoteValidate.
type VoteObservedHandler func(vote *wire.Vote, code ledger.VoteCode, from wire.Endpoint)

// DisconnectHandler is called when a purge_list pass evicts peers.
type DisconnectHandler func(evicted []wire.Endpoint)

// Observers is the Node-owned event hub every subsystem registers
// handlers on and fires events through.
type Observers struct {
	mu sync.Mutex

	blockAccepted      []BlockAcceptedHandler
	accountBalance     []AccountBalanceHandler
	endpointDiscovered []EndpointDiscoveredHandler
	voteObserved       []VoteObservedHandler
	disconnect         []DisconnectHandler
}

// New creates an empty Observers hub.
func New() *Observers {
	return &Observers{}
}

// OnBlockAccepted registers a block-accepted handler.
func (o *Observers) OnBlockAccepted(h BlockAcceptedHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blockAccepted = append(o.blockAccepted, h)
}

// OnAccountBalance registers an account-balance handler.
func (o *Observers) OnAccountBalance(h AccountBalanceHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.accountBalance = append(o.accountBalance, h)
}

// OnEndpointDiscovered registers an endpoint-discovered handler.
func (o *Observers) OnEndpointDiscovered(h EndpointDiscoveredHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.endpointDiscovered = append(o.endpointDiscovered, h)
}

// OnVoteObserved registers a vote-observed handler.
func (o *Observers) OnVoteObserved(h VoteObservedHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.voteObserved = append(o.voteObserved, h)
}

// OnDisconnect registers a disconnect handler.
func (o *Observers) OnDisconnect(h DisconnectHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.disconnect = append(o.disconnect, h)
}

func (o *Observers) snapshot() (blockAccepted []BlockAcceptedHandler, accountBalance []AccountBalanceHandler,
	endpointDiscovered []EndpointDiscoveredHandler, voteObserved []VoteObservedHandler, disconnect []DisconnectHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]BlockAcceptedHandler(nil), o.blockAccepted...),
		append([]AccountBalanceHandler(nil), o.accountBalance...),
		append([]EndpointDiscoveredHandler(nil), o.endpointDiscovered...),
		append([]VoteObservedHandler(nil), o.voteObserved...),
		append([]DisconnectHandler(nil), o.disconnect...)
}

// FireBlockAccepted dispatches a block-accepted event to every registered
// handler, sequentially, in registration order.
func (o *Observers) FireBlockAccepted(block wire.Block, account [32]byte, amount *big.Int) {
	handlers, _, _, _, _ := o.snapshot()
	for _, h := range handlers {
		h(block, account, amount)
	}
}

// FireAccountBalance dispatches an account-balance event.
func (o *Observers) FireAccountBalance(account [32]byte, pending bool) {
	_, handlers, _, _, _ := o.snapshot()
	for _, h := range handlers {
		h(account, pending)
	}
}

// FireEndpointDiscovered dispatches an endpoint-discovered event.
func (o *Observers) FireEndpointDiscovered(endpoint wire.Endpoint) {
	_, _, handlers, _, _ := o.snapshot()
	for _, h := range handlers {
		h(endpoint)
	}
}

// FireVoteObserved dispatches a vote-observed event.
func (o *Observers) FireVoteObserved(vote *wire.Vote, code ledger.VoteCode, from wire.Endpoint) {
	_, _, _, handlers, _ := o.snapshot()
	for _, h := range handlers {
		h(vote, code, from)
	}
}

// FireDisconnect dispatches a disconnect event.
func (o *Observers) FireDisconnect(evicted []wire.Endpoint) {
	_, _, _, _, handlers := o.snapshot()
	for _, h := range handlers {
		h(evicted)
	}
}

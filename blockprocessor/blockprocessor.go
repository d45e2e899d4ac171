// Package blockprocessor implements the single-threaded consumer loop
// that serializes every ledger mutation: it absorbs submitted blocks,
// drives unchecked-dependency unwinding, and carries out the force=true
// rollback-and-replace path the active-transactions engine uses to flip
// a losing fork. The mutex/condition-variable/queue shape and the
// drain-until-empty-or-cutoff batching are grounded on the teacher's
// blockdag validation-result switch (domain/consensus/processes/
// blockprocessor/blockprocessor.go) generalized from its per-block
// ValidateAndInsertBlock dispatch to this package's per-result reaction
// table, combined with the alarm package's guarded-queue idiom.
package blockprocessor

import (
	"container/list"
	"math/big"
	"sync"
	"time"

	"github.com/razenet/razed/blockarrival"
	"github.com/razenet/razed/gapcache"
	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/ledger"
	"github.com/razenet/razed/logger"
	"github.com/razenet/razed/observer"
	"github.com/razenet/razed/store"
	"github.com/razenet/razed/util/panics"
	"github.com/razenet/razed/wire"
)

var log, _ = logger.Get(logger.SubsystemTags.BLKP)
var spawn = panics.GoroutineWrapperFunc(log)

// DefaultBatchCutoff is the default wall-clock bound on a single drain
// batch's write transaction.
const DefaultBatchCutoff = 500 * time.Millisecond

// BootstrapRequester is invoked when a fork is seen that did not arrive
// recently via gossip, asking the bootstrap subsystem to pull and
// resolve it.
type BootstrapRequester func(blockHash hash.Digest)

type submission struct {
	block wire.Block
	force bool
}

// Processor is the block processor: a single-threaded consumer loop
// draining a FIFO queue of submitted blocks under one ledger write
// transaction per batch.
type Processor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   *list.List
	stopped bool

	store       *store.Store
	ledger      *ledger.Ledger
	arrival     *blockarrival.Set
	gapCache    *gapcache.Cache
	observers   *observer.Observers
	bootstrap   BootstrapRequester
	batchCutoff time.Duration
}

// New constructs a Processor. arrival is the node-wide blockarrival.Set
// the network layer marks on every gossip receipt; bootstrap may be nil
// if no bootstrap subsystem is wired (forks are then only logged).
func New(s *store.Store, l *ledger.Ledger, arrival *blockarrival.Set, gapCache *gapcache.Cache,
	observers *observer.Observers, bootstrap BootstrapRequester) *Processor {
	p := &Processor{
		queue:       list.New(),
		store:       s,
		ledger:      l,
		arrival:     arrival,
		gapCache:    gapCache,
		observers:   observers,
		bootstrap:   bootstrap,
		batchCutoff: DefaultBatchCutoff,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Run starts the consumer loop goroutine.
func (p *Processor) Run() {
	spawn(p.consumeLoop)
}

// Stop signals the consumer loop to drain no further batches and return
// once its current batch (if any) completes.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.cond.Signal()
}

// Submit enqueues block for processing. It is idempotent per hash within
// arrival's dedup window unless force is set.
func (p *Processor) Submit(block wire.Block, force bool) {
	blockHash := block.Hash()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if !force && p.arrival.Recent(blockHash) {
		return
	}
	p.queue.PushBack(&submission{block: block, force: force})
	p.cond.Signal()
}

// pushFront re-queues a dependency-unwound block ahead of everything
// else, so the DAG unwinding completes within the same batch where
// possible.
func (p *Processor) pushFront(block wire.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.PushFront(&submission{block: block, force: false})
	p.cond.Signal()
}

func (p *Processor) consumeLoop() {
	for {
		p.mu.Lock()
		for p.queue.Len() == 0 && !p.stopped {
			p.cond.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		p.drainBatch()

		p.mu.Lock()
		done := p.stopped
		p.mu.Unlock()
		if done {
			return
		}
	}
}

type acceptedBlock struct {
	block         wire.Block
	account       [32]byte
	amount        *big.Int
	pendingCreate bool
	pendingFor    [32]byte
}

func (p *Processor) drainBatch() {
	tx, err := p.store.Begin()
	if err != nil {
		log.Errorf("block processor: failed to begin transaction: %s", err)
		return
	}

	start := time.Now()
	var accepted []acceptedBlock

	for {
		p.mu.Lock()
		if p.queue.Len() == 0 {
			p.mu.Unlock()
			break
		}
		elem := p.queue.Front()
		item := p.queue.Remove(elem).(*submission)
		p.mu.Unlock()
		if rec := p.processOne(tx, item); rec != nil {
			accepted = append(accepted, *rec)
		}

		if time.Since(start) >= p.batchCutoff {
			break
		}
	}

	if err := tx.Commit(); err != nil {
		log.Errorf("block processor: failed to commit batch: %s", err)
		return
	}

	for _, rec := range accepted {
		p.observers.FireBlockAccepted(rec.block, rec.account, rec.amount)
		p.observers.FireAccountBalance(rec.account, false)
		if rec.pendingCreate {
			p.observers.FireAccountBalance(rec.pendingFor, true)
		}
	}
}

// processOne applies a single submission to the ledger and reacts to its
// outcome, returning a non-nil acceptedBlock only for Progress.
func (p *Processor) processOne(tx *store.Transaction, item *submission) *acceptedBlock {
	block := item.block
	blockHash := block.Hash()

	if item.force {
		if err := p.applyForce(tx, block); err != nil {
			log.Errorf("block processor: force rollback failed for %x: %s", blockHash[:8], err)
			return nil
		}
	}

	outcome, err := p.ledger.Process(tx, block)
	if err != nil {
		log.Errorf("block processor: ledger process failed for %x: %s", blockHash[:8], err)
		return nil
	}

	switch outcome.Result {
	case ledger.Progress:
		p.unwindChildren(tx, blockHash)
		return &acceptedBlock{
			block:         block,
			account:       outcome.Account,
			amount:        new(big.Int).SetBytes(outcome.Amount),
			pendingCreate: outcome.PendingCreate,
			pendingFor:    outcome.PendingFor,
		}

	case ledger.Old:
		// Dependency unwinding applies on both Progress and Old: a
		// higher-work resubmission of an already-accepted block can
		// still be the dependency children further down the lattice
		// were waiting on.
		p.unwindChildren(tx, blockHash)

	case ledger.GapPrevious:
		missing := hash.Digest(block.Previous())
		if err := putUnchecked(tx, missing, block); err != nil {
			log.Errorf("block processor: failed to store unchecked block: %s", err)
			return nil
		}
		p.gapCache.Add(blockHash, missing)

	case ledger.GapSource:
		missing := sourceOf(block)
		if err := putUnchecked(tx, missing, block); err != nil {
			log.Errorf("block processor: failed to store unchecked block: %s", err)
			return nil
		}
		p.gapCache.Add(blockHash, missing)

	case ledger.Fork:
		log.Warnf("fork detected at root for block %x (account %x)", blockHash[:8], outcome.Account[:8])
		if !p.arrival.Recent(blockHash) && p.bootstrap != nil {
			p.bootstrap(blockHash)
		}

	default:
		log.Debugf("dropped block %x: %s", blockHash[:8], outcome.Result)
	}

	return nil
}

// applyForce implements the force=true path: if a different block
// already occupies the submission's root, roll back the existing chain
// to just before it so Process can re-apply the submitted block
// cleanly.
func (p *Processor) applyForce(tx *store.Transaction, block wire.Block) error {
	if openBlock, ok := block.(*wire.OpenBlock); ok {
		existing, err := p.ledger.AccountState(tx, openBlock.Account)
		if err != nil {
			return err
		}
		if existing != nil && existing.OpenBlock != openBlock.Hash() {
			return p.ledger.RollbackTo(tx, openBlock.Account, hash.Digest{})
		}
		return nil
	}

	root := hash.Digest(block.Root())
	prevRec, err := p.ledger.BlockRecord(tx, root)
	if err != nil {
		return err
	}
	if prevRec != nil && prevRec.Successor != (hash.Digest{}) && prevRec.Successor != block.Hash() {
		return p.ledger.RollbackTo(tx, prevRec.Account, root)
	}
	return nil
}

// unwindChildren requeues, at the front of the work queue, every block
// that had been waiting on dependencyHash.
func (p *Processor) unwindChildren(tx *store.Transaction, dependencyHash hash.Digest) {
	children, err := drainUnchecked(tx, dependencyHash)
	if err != nil {
		log.Errorf("block processor: failed to drain unchecked children of %x: %s", dependencyHash[:8], err)
		return
	}
	for _, child := range children {
		p.pushFront(child)
	}
}

func sourceOf(block wire.Block) hash.Digest {
	switch b := block.(type) {
	case *wire.ReceiveBlock:
		return b.Source
	case *wire.OpenBlock:
		return b.Source
	default:
		return hash.Digest{}
	}
}

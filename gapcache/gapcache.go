// Package gapcache tracks blocks that arrived with a missing dependency
// (previous or source), accumulating the vote weight observed for them so
// a sufficiently-requested gap can trigger a bootstrap attempt rather than
// waiting indefinitely for the missing block to arrive by gossip. Entries
// also age out on a fixed purge interval. The guarded-map-plus-eviction
// shape is grounded on the teacher's addrmgr knownAddress bookkeeping,
// generalized here from address aging to gap aging.
package gapcache

import (
	"math/big"
	"sync"
	"time"

	"github.com/razenet/razed/alarm"
	"github.com/razenet/razed/config"
	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/logger"
)

var log, _ = logger.Get(logger.SubsystemTags.GAPC)

// PurgeAge is how long a gap entry is kept before Purge evicts it.
const PurgeAge = 10 * time.Second

// BootstrapDelay is how long after a gap's vote weight crosses the
// bootstrap threshold we wait before checking whether the block is still
// missing and, if so, kicking off a bootstrap attempt.
const BootstrapDelay = 5 * time.Second

// TestBootstrapDelay is BootstrapDelay's test-network equivalent, so
// tests never have to wait out a multi-second timer, the same way
// config.Network.WorkThreshold drops to a trivial value on NetworkTest.
const TestBootstrapDelay = 5 * time.Millisecond

// Entry is a single gap: a block that arrived (or was voted for) before
// its dependency did.
type Entry struct {
	ArrivalTime          time.Time
	MissingPredecessor   hash.Digest
	Votes                map[[32]byte]*big.Int // voter account -> weight last seen
	bootstrapScheduled   bool
}

func newEntry(missing hash.Digest) *Entry {
	return &Entry{
		ArrivalTime:        time.Now(),
		MissingPredecessor: missing,
		Votes:              make(map[[32]byte]*big.Int),
	}
}

func (e *Entry) totalWeight() *big.Int {
	total := new(big.Int)
	for _, w := range e.Votes {
		total.Add(total, w)
	}
	return total
}

// BootstrapRequester is called when a gap's accumulated vote weight trips
// the bootstrap threshold and the block is still missing BootstrapDelay
// later. It is the network/bootstrap subsystem's pull-request hook.
type BootstrapRequester func(missingPredecessor hash.Digest)

// Cache maps a block's hash to the gap it is waiting on, bounded in size
// and aged out on a timer.
type Cache struct {
	mu       sync.Mutex
	entries  map[hash.Digest]*Entry
	capacity int

	alarm          *alarm.Alarm
	bootstrap      BootstrapRequester
	threshold      *big.Int // weight that triggers a bootstrap attempt
	bootstrapDelay time.Duration
}

// New creates a Cache bounded at capacity entries. bootstrapFractionNumerator
// is the config's fraction (over 256) of supply that triggers a bootstrap
// attempt, per the spec's gap-cache threshold (`supply / 256 * numerator`).
// network selects BootstrapDelay vs TestBootstrapDelay, per the spec's "5s
// timer (5ms on test network)".
func New(capacity int, a *alarm.Alarm, supply *big.Int, bootstrapFractionNumerator uint64,
	network config.Network, requester BootstrapRequester) *Cache {
	threshold := new(big.Int).Mul(supply, new(big.Int).SetUint64(bootstrapFractionNumerator))
	threshold.Div(threshold, big.NewInt(256))

	delay := BootstrapDelay
	if network == config.NetworkTest {
		delay = TestBootstrapDelay
	}

	return &Cache{
		entries:        make(map[hash.Digest]*Entry),
		capacity:       capacity,
		alarm:          a,
		bootstrap:      requester,
		threshold:      threshold,
		bootstrapDelay: delay,
	}
}

// Add upserts the gap entry for blockHash, refreshing its arrival time. If
// the cache is now over capacity, the oldest entry (by ArrivalTime) is
// evicted — but never the entry just inserted.
func (c *Cache) Add(blockHash, missingPredecessor hash.Digest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[blockHash]
	if !ok {
		entry = newEntry(missingPredecessor)
		c.entries[blockHash] = entry
	} else {
		entry.ArrivalTime = time.Now()
		entry.MissingPredecessor = missingPredecessor
	}

	c.evictOverCapacityLocked(blockHash)
}

func (c *Cache) evictOverCapacityLocked(justInserted hash.Digest) {
	for len(c.entries) > c.capacity {
		var oldestHash hash.Digest
		var oldestTime time.Time
		first := true
		for h, e := range c.entries {
			if h == justInserted {
				continue
			}
			if first || e.ArrivalTime.Before(oldestTime) {
				oldestHash = h
				oldestTime = e.ArrivalTime
				first = false
			}
		}
		if first {
			// Only the just-inserted entry remains; nothing more to evict.
			return
		}
		delete(c.entries, oldestHash)
	}
}

// Vote accumulates voter's weight against the gap for blockHash. If no gap
// is tracked for blockHash, the vote is ignored (there is nothing waiting
// on it). Once the tallied weight crosses the bootstrap threshold, a
// one-shot BootstrapDelay timer is scheduled.
func (c *Cache) Vote(blockHash hash.Digest, voter [32]byte, weight *big.Int) {
	c.mu.Lock()
	entry, ok := c.entries[blockHash]
	if !ok {
		c.mu.Unlock()
		return
	}
	entry.Votes[voter] = new(big.Int).Set(weight)

	shouldSchedule := !entry.bootstrapScheduled && entry.totalWeight().Cmp(c.threshold) >= 0
	if shouldSchedule {
		entry.bootstrapScheduled = true
	}
	missing := entry.MissingPredecessor
	c.mu.Unlock()

	if shouldSchedule && c.alarm != nil {
		c.alarm.AddAfter(c.bootstrapDelay, func() {
			c.checkAndBootstrap(blockHash, missing)
		})
	}
}

func (c *Cache) checkAndBootstrap(blockHash, missing hash.Digest) {
	c.mu.Lock()
	_, stillMissing := c.entries[blockHash]
	c.mu.Unlock()

	if stillMissing && c.bootstrap != nil {
		log.Debugf("gap %x still missing predecessor %x after bootstrap delay, requesting pull",
			blockHash[:8], missing[:8])
		c.bootstrap(missing)
	}
}

// Remove deletes the gap entry for blockHash, e.g. once the predecessor
// has arrived and the block has been re-submitted.
func (c *Cache) Remove(blockHash hash.Digest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, blockHash)
}

// Purge evicts every entry older than PurgeAge.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-PurgeAge)
	for h, e := range c.entries {
		if e.ArrivalTime.Before(cutoff) {
			delete(c.entries, h)
		}
	}
}

// Len returns the number of tracked gap entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Package network implements the UDP gossip layer: the peer table
// (insert/contacted/reachout/purge_list/random_set), the receive loop
// and message dispatch, square-root fanout republish, and the rate-limited
// republish_block/republish_vote helpers. The peer table's time-ordered
// staleness bookkeeping is grounded on the teacher's addrmgr
// knownaddress.go (attempts/lastattempt/lastsuccess aging), generalized
// from TCP connection candidates to UDP gossip peers; the receive loop
// itself is grounded on gengruizhang-prestigebft's vconn.go single
// ListenUDP/ReadFromUDP goroutine idiom.
package network

import (
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/razenet/razed/config"
	"github.com/razenet/razed/observer"
	"github.com/razenet/razed/repcrawler"
	"github.com/razenet/razed/util/random"
	"github.com/razenet/razed/wire"
)

// PeerCutoff is how long a peer may go unheard-from before purge_list
// evicts it.
const PeerCutoff = 5 * time.Minute

// peerRecord is the peer table's per-endpoint bookkeeping.
type peerRecord struct {
	id             uuid.UUID // stable diagnostic identifier, survives the endpoint's lifetime in the table
	endpoint       wire.Endpoint
	version        uint8
	lastContact    time.Time
	lastRepRequest time.Time
	keepaliveUntil time.Time // non-zero while an outbound keepalive attempt is outstanding
}

// PeerTable is the guarded set of known peer endpoints. All fields are
// covered by a single mutex, per the concurrency model's "shared
// resources" rule.
type PeerTable struct {
	mu      sync.Mutex
	peers   map[wire.Endpoint]*peerRecord
	network config.Network

	observers *observer.Observers
}

// NewPeerTable constructs an empty PeerTable.
func NewPeerTable(network config.Network, observers *observer.Observers) *PeerTable {
	return &PeerTable{
		peers:     make(map[wire.Endpoint]*peerRecord),
		network:   network,
		observers: observers,
	}
}

// Insert upserts endpoint with the given protocol version. IPv4 addresses
// are expected already mapped to v6 by the caller (wire.NewEndpoint does
// this). Reserved addresses are rejected outright. New entries fire the
// endpoint_discovered observer; existing entries have last_contact bumped.
func (t *PeerTable) Insert(endpoint wire.Endpoint, version uint8) {
	if IsReservedAddress(endpoint.IP(), t.network) {
		return
	}

	t.mu.Lock()
	rec, existed := t.peers[endpoint]
	now := time.Now()
	if existed {
		rec.lastContact = now
		rec.version = version
		t.mu.Unlock()
		return
	}
	t.peers[endpoint] = &peerRecord{id: uuid.New(), endpoint: endpoint, version: version, lastContact: now}
	t.mu.Unlock()

	if t.observers != nil {
		t.observers.FireEndpointDiscovered(endpoint)
	}
}

// Contacted is an idempotent upsert invoked on every received message,
// bumping last_contact. It is Insert, so a previously unknown endpoint
// also fires endpoint_discovered.
func (t *PeerTable) Contacted(endpoint wire.Endpoint, version uint8) {
	t.Insert(endpoint, version)
}

// Reachout reports whether the caller should NOT initiate contact with
// endpoint (true = skip): either it's already known, or it already has an
// outstanding keepalive attempt. Otherwise it records a keepalive-attempt
// placeholder that expires with the peer cutoff, and returns false.
func (t *PeerTable) Reachout(endpoint wire.Endpoint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	rec, ok := t.peers[endpoint]
	if ok {
		if !rec.lastContact.IsZero() || rec.keepaliveUntil.After(now) {
			return true
		}
		rec.keepaliveUntil = now.Add(PeerCutoff)
		return false
	}

	t.peers[endpoint] = &peerRecord{id: uuid.New(), endpoint: endpoint, keepaliveUntil: now.Add(PeerCutoff)}
	return false
}

// PurgeList evicts every peer whose last_contact is before cutoff,
// returning the evicted endpoints. Firing disconnect only happens when
// the eviction list is non-empty, per spec.
func (t *PeerTable) PurgeList(cutoff time.Time) []wire.Endpoint {
	t.mu.Lock()
	var evicted []wire.Endpoint
	for endpoint, rec := range t.peers {
		if rec.lastContact.Before(cutoff) {
			evicted = append(evicted, endpoint)
			delete(t.peers, endpoint)
		}
	}
	t.mu.Unlock()

	if len(evicted) > 0 && t.observers != nil {
		t.observers.FireDisconnect(evicted)
	}
	return evicted
}

// RandomSet samples up to n distinct peers uniformly. If n is at least the
// number of known peers, every known peer is returned, in map order.
func (t *PeerTable) RandomSet(n int) ([]wire.Endpoint, error) {
	t.mu.Lock()
	all := make([]wire.Endpoint, 0, len(t.peers))
	for endpoint := range t.peers {
		all = append(all, endpoint)
	}
	t.mu.Unlock()

	if n >= len(all) {
		return all, nil
	}

	if err := random.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] }); err != nil {
		return nil, err
	}
	return all[:n], nil
}

// PeerID returns the table's stable diagnostic identifier for endpoint, or
// false if it is not currently known.
func (t *PeerTable) PeerID(endpoint wire.Endpoint) (uuid.UUID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.peers[endpoint]
	if !ok {
		return uuid.UUID{}, false
	}
	return rec.id, true
}

// Count returns the number of known peers.
func (t *PeerTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// OldestRepRequests implements repcrawler.PeerSource: up to n peers
// ordered by last_rep_request ascending.
func (t *PeerTable) OldestRepRequests(n int) []repcrawler.PeerCandidate {
	t.mu.Lock()
	defer t.mu.Unlock()

	candidates := make([]repcrawler.PeerCandidate, 0, len(t.peers))
	for _, rec := range t.peers {
		candidates = append(candidates, repcrawler.PeerCandidate{
			Endpoint:       rec.endpoint,
			LastRepRequest: rec.lastRepRequest,
		})
	}
	// Simple insertion sort: the candidate set is small (peer counts in
	// the hundreds at most) and this runs once every 16 seconds.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].LastRepRequest.Before(candidates[j-1].LastRepRequest); j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
	if n < len(candidates) {
		candidates = candidates[:n]
	}
	return candidates
}

// MarkRepRequested implements repcrawler.PeerSource.
func (t *PeerTable) MarkRepRequested(endpoint wire.Endpoint, when time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.peers[endpoint]; ok {
		rec.lastRepRequest = when
	}
}

// RepresentativeRegistry implements repcrawler.RepresentativeRegistry. The
// peer table itself only needs to know a peer voted; weight-keyed
// representative bookkeeping for UI/diagnostics purposes lives in a map
// keyed by account so repeated sightings from different peers merge.
type RepresentativeRegistry struct {
	mu    sync.Mutex
	known map[[32]byte]*big.Int
}

// NewRepresentativeRegistry constructs an empty registry.
func NewRepresentativeRegistry() *RepresentativeRegistry {
	return &RepresentativeRegistry{known: make(map[[32]byte]*big.Int)}
}

// MarkRepresentative records account as an observed representative with
// the given weight, superseding any previously recorded weight.
func (r *RepresentativeRegistry) MarkRepresentative(endpoint wire.Endpoint, account [32]byte, weight *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.known[account] = new(big.Int).Set(weight)
}

// Weight returns the last-observed weight for account, or nil if it has
// never been seen voting.
func (r *RepresentativeRegistry) Weight(account [32]byte) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.known[account]
}

// Count returns the number of distinct representatives observed.
func (r *RepresentativeRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.known)
}

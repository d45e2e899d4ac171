// Package distwork implements proof-of-work generation: racing a
// snapshot of configured HTTP work peers in parallel, falling back to a
// local CPU worker pool when no peer is configured or none returns valid
// work. The nonce-incrementing local pool loop is grounded on the
// teacher's cmd/kaspaminer/mineloop.go mining loop (mineNextBlock's
// nonce++ until CheckProofOfWork), generalized from kaspad's block
// header nonce to this protocol's blake2b_64(work||root) threshold
// check; the peer race is an HTTP analogue of kaspaminer's RPC client,
// using net/http directly since the protocol's work peers speak a tiny
// bespoke JSON action API rather than kaspad's gRPC-ish router.
package distwork

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/logger"
)

var log, _ = logger.Get(logger.SubsystemTags.DWRK)

// DefaultLocalWorkers is the default number of local PoW worker
// goroutines when no count is configured, one per spec.md's "CPU threads
// computing Blake2b preimages".
const DefaultLocalWorkers = 4

// HTTPTimeout bounds a single work peer round trip.
const HTTPTimeout = 10 * time.Second

type workGenerateRequest struct {
	Action string `json:"action"`
	Hash   string `json:"hash"`
}

type workGenerateResponse struct {
	Work string `json:"work"`
}

// Generator produces proof-of-work nonces for a given root, racing the
// configured HTTP work peers and falling back to a local worker pool.
type Generator struct {
	peers     []string
	threshold uint64
	workers   int
	client    *http.Client
}

// New constructs a Generator. peers is the configured list of
// "host:port" distributed-work HTTP endpoints; an empty list always uses
// the local pool. workers <= 0 uses DefaultLocalWorkers.
func New(peers []string, threshold uint64, workers int) *Generator {
	if workers <= 0 {
		workers = DefaultLocalWorkers
	}
	return &Generator{
		peers:     append([]string(nil), peers...),
		threshold: threshold,
		workers:   workers,
		client:    &http.Client{Timeout: HTTPTimeout},
	}
}

// Generate produces a work value satisfying
// hash.WorkValid(work, root[:], threshold) for root, racing the
// configured work peers first and falling back to the local pool if
// every peer fails or returns invalid work. Blocks until a result is
// found or ctx is cancelled.
func (g *Generator) Generate(ctx context.Context, root hash.Digest) (uint64, error) {
	if len(g.peers) == 0 {
		return g.generateLocal(ctx, root)
	}

	work, ok := g.racePeers(ctx, root)
	if ok {
		return work, nil
	}
	log.Debugf("distributed work: all peers failed or returned invalid work for root %x, falling back to local pool", root[:8])
	return g.generateLocal(ctx, root)
}

// racePeers opens one HTTP request per peer in parallel. The first
// response that parses and validates invokes the one-shot latch; every
// configured peer, the winner included, is then sent work_cancel.
func (g *Generator) racePeers(ctx context.Context, root hash.Digest) (uint64, bool) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		work uint64
		ok   bool
	}
	resultCh := make(chan result, 1)
	var latch sync.Once
	var eg errgroup.Group

	for _, peer := range g.peers {
		peer := peer
		eg.Go(func() error {
			work, err := g.requestWork(raceCtx, peer, root)
			if err != nil {
				return nil
			}
			if !hash.WorkValid(work, root[:], g.threshold) {
				return nil
			}
			latch.Do(func() {
				resultCh <- result{work: work, ok: true}
				cancel()
			})
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		eg.Wait()
		close(done)
	}()

	select {
	case r := <-resultCh:
		g.cancelAll(root)
		return r.work, r.ok
	case <-done:
		select {
		case r := <-resultCh:
			g.cancelAll(root)
			return r.work, r.ok
		default:
			return 0, false
		}
	case <-ctx.Done():
		return 0, false
	}
}

func (g *Generator) requestWork(ctx context.Context, peer string, root hash.Digest) (uint64, error) {
	body, err := json.Marshal(workGenerateRequest{Action: "work_generate", Hash: hex.EncodeToString(root[:])})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peerURL(peer), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("distributed work: peer %s returned status %d", peer, resp.StatusCode)
	}

	var parsed workGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, err
	}
	workBytes, err := hex.DecodeString(parsed.Work)
	if err != nil || len(workBytes) != 8 {
		return 0, errors.Errorf("distributed work: peer %s returned malformed work", peer)
	}
	return binary.LittleEndian.Uint64(workBytes), nil
}

// cancelAll sends work_cancel to every configured peer, fire-and-forget,
// per the concurrency model's "all network sends are fire-and-forget"
// rule.
func (g *Generator) cancelAll(root hash.Digest) {
	body, err := json.Marshal(workGenerateRequest{Action: "work_cancel", Hash: hex.EncodeToString(root[:])})
	if err != nil {
		return
	}
	for _, peer := range g.peers {
		go func(peer string) {
			req, err := http.NewRequest(http.MethodPost, peerURL(peer), bytes.NewReader(body))
			if err != nil {
				return
			}
			resp, err := g.client.Do(req)
			if err != nil {
				log.Debugf("distributed work: work_cancel to %s failed: %s", peer, err)
				return
			}
			resp.Body.Close()
		}(peer)
	}
}

func peerURL(peer string) string {
	return "http://" + peer + "/"
}

// generateLocal runs g.workers goroutines incrementing independent nonce
// ranges until one finds a work value clearing the threshold, or ctx is
// cancelled.
func (g *Generator) generateLocal(ctx context.Context, root hash.Digest) (uint64, error) {
	localCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan uint64, 1)
	var latch sync.Once
	var eg errgroup.Group

	for i := 0; i < g.workers; i++ {
		seed, err := randomUint64()
		if err != nil {
			return 0, err
		}
		eg.Go(func() error {
			nonce := seed
			for {
				select {
				case <-localCtx.Done():
					return nil
				default:
				}
				nonce++
				if hash.WorkValue(nonce, root[:]) >= g.threshold {
					latch.Do(func() {
						resultCh <- nonce
						cancel()
					})
					return nil
				}
			}
		})
	}

	done := make(chan struct{})
	go func() {
		eg.Wait()
		close(done)
	}()

	select {
	case work := <-resultCh:
		return work, nil
	case <-ctx.Done():
		<-done
		return 0, ctx.Err()
	}
}

func randomUint64() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, errors.Wrap(err, "distributed work: failed to seed local worker nonce")
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

package distwork

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/razenet/razed/hash"
)

// lowTestThreshold is low enough that the local pool finds a satisfying
// nonce almost immediately, so these tests never block on real grinding.
const lowTestThreshold = 1 << 4

func testRoot() hash.Digest {
	var root hash.Digest
	root[0] = 0x42
	return root
}

func TestGenerateLocalFallbackWhenNoPeersConfigured(t *testing.T) {
	g := New(nil, lowTestThreshold, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	root := testRoot()
	work, err := g.Generate(ctx, root)
	require.NoError(t, err)
	require.True(t, hash.WorkValid(work, root[:], lowTestThreshold))
}

func TestGenerateUsesFirstValidPeerResponse(t *testing.T) {
	root := testRoot()
	work := findValidWork(t, root, lowTestThreshold)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req workGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "work_generate", req.Action)

		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], work)
		resp := workGenerateResponse{Work: hex.EncodeToString(buf[:])}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	g := New([]string{server.Listener.Addr().String()}, lowTestThreshold, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := g.Generate(ctx, root)
	require.NoError(t, err)
	require.Equal(t, work, got)
}

func TestGenerateFallsBackWhenPeerReturnsInvalidWork(t *testing.T) {
	root := testRoot()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], 0)
		resp := workGenerateResponse{Work: hex.EncodeToString(buf[:])}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	g := New([]string{server.Listener.Addr().String()}, lowTestThreshold, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	work, err := g.Generate(ctx, root)
	require.NoError(t, err)
	require.True(t, hash.WorkValid(work, root[:], lowTestThreshold))
}

func TestGenerateFallsBackWhenPeerUnreachable(t *testing.T) {
	root := testRoot()
	g := New([]string{"127.0.0.1:1"}, lowTestThreshold, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	work, err := g.Generate(ctx, root)
	require.NoError(t, err)
	require.True(t, hash.WorkValid(work, root[:], lowTestThreshold))
}

func findValidWork(t *testing.T, root hash.Digest, threshold uint64) uint64 {
	t.Helper()
	for nonce := uint64(1); nonce < 1<<20; nonce++ {
		if hash.WorkValue(nonce, root[:]) >= threshold {
			return nonce
		}
	}
	t.Fatal("no valid work found in search bound")
	return 0
}

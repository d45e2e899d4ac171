package hash

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockHashDeterministic(t *testing.T) {
	preimage := []byte("some canonical block preimage")
	h1 := BlockHash(preimage)
	h2 := BlockHash(preimage)
	require.Equal(t, h1, h2)
	require.NotEqual(t, Digest{}, h1)
}

func TestBlockHashDiffersByInput(t *testing.T) {
	h1 := BlockHash([]byte("a"))
	h2 := BlockHash([]byte("b"))
	require.NotEqual(t, h1, h2)
}

func TestVoteHashIncludesSequenceAndBlock(t *testing.T) {
	block := BlockHash([]byte("block"))
	v1 := VoteHash(1, block)
	v2 := VoteHash(2, block)
	require.NotEqual(t, v1, v2)

	otherBlock := BlockHash([]byte("other"))
	v3 := VoteHash(1, otherBlock)
	require.NotEqual(t, v1, v3)
}

func TestWorkValidThreshold(t *testing.T) {
	root := []byte("root-account-public-key-32bytes")
	var work uint64
	var value uint64
	for work = 0; work < 1<<20; work++ {
		value = WorkValue(work, root)
		if value > 0 {
			break
		}
	}
	require.True(t, WorkValid(work, root, 0))
	require.False(t, WorkValid(work, root, value+1))
}

func TestVerifySignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	message := []byte("hello razed")
	sig := ed25519.Sign(priv, message)

	require.True(t, VerifySignature(pub, message, sig))
	require.False(t, VerifySignature(pub, []byte("tampered"), sig))
}

func TestVerifySignatureRejectsBadLengths(t *testing.T) {
	require.False(t, VerifySignature([]byte("short"), []byte("msg"), []byte("sig")))
}

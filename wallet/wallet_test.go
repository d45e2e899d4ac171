package wallet

import (
	"crypto/ed25519"
	"testing"

	"github.com/razenet/razed/wire"
	"github.com/stretchr/testify/require"
)

func TestSealUnlockRoundTrips(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	enc, err := Seal([]byte("hunter2"), priv)
	require.NoError(t, err)

	w := New()
	require.NoError(t, w.Unlock([]byte("hunter2"), enc))

	var pubFixed [32]byte
	copy(pubFixed[:], pub)
	require.True(t, w.HasKey(pubFixed))
}

func TestUnlockRejectsWrongPassword(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	enc, err := Seal([]byte("correct"), priv)
	require.NoError(t, err)

	w := New()
	require.Error(t, w.Unlock([]byte("incorrect"), enc))
}

func TestSignProducesVerifiableVote(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	enc, err := Seal([]byte("pw"), priv)
	require.NoError(t, err)

	w := New()
	require.NoError(t, w.Unlock([]byte("pw"), enc))

	var pubFixed [32]byte
	copy(pubFixed[:], pub)

	block := &wire.OpenBlock{Account: pubFixed, Representative: pubFixed}
	vote, err := w.Sign(pubFixed, 1, block)
	require.NoError(t, err)
	require.True(t, vote.VerifySignature())
}

func TestSignFailsForUnheldAccount(t *testing.T) {
	w := New()
	var account [32]byte
	_, err := w.Sign(account, 1, &wire.OpenBlock{})
	require.Error(t, err)
}

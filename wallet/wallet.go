// Package wallet implements the minimal contract the node needs from a
// wallet: "do I hold this representative's key" and "sign with this
// key", password-protected at rest with the same argon2/chacha20poly1305
// KDF-then-AEAD shape the teacher's cmd/kaspawallet/keys/keys.go uses to
// encrypt mnemonics. Key derivation, mnemonic handling and the on-disk
// JSON format are out of scope (see spec.md's Non-goals); this package
// only carries enough of the teacher's encryption idiom to give the
// Signer contract a real implementation instead of a bare stub.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/wire"
)

// saltSize is the random salt length fed to argon2 alongside the wallet
// password to derive the chacha20poly1305 key that encrypts each stored
// private key at rest.
const saltSize = 16

// Signer is the contract the network and active-transactions layers
// need from a wallet: whether a representative key is held locally, and
// producing a signed vote with it. Defined here so callers never need
// the concrete Wallet type.
type Signer interface {
	HasKey(account [32]byte) bool
	Sign(account [32]byte, sequence uint64, block wire.Block) (*wire.Vote, error)
	Representatives() []hash.Digest
}

type storedKey struct {
	public  [32]byte
	private ed25519.PrivateKey
}

// Wallet holds a small set of representative keys, each individually
// encrypted at rest with a key derived from the wallet password via
// argon2id, following the teacher's keys.go encryption shape.
type Wallet struct {
	mu   sync.RWMutex
	keys map[[32]byte]*storedKey
}

// New creates an empty Wallet. Keys are added via Unlock.
func New() *Wallet {
	return &Wallet{keys: make(map[[32]byte]*storedKey)}
}

// deriveAEAD derives a chacha20poly1305 AEAD from password and salt using
// the teacher's argon2id parameters (1 pass, 64 MiB, NumCPU lanes, 32-byte
// key).
func deriveAEAD(password, salt []byte) (aeadCipher, error) {
	key := argon2.IDKey(password, salt, 1, 64*1024, uint8(runtime.NumCPU()), chacha20poly1305.KeySize)
	return chacha20poly1305.NewX(key)
}

type aeadCipher interface {
	NonceSize() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// EncryptedKey is a representative private key sealed at rest.
type EncryptedKey struct {
	Salt       [saltSize]byte
	Nonce      []byte
	Ciphertext []byte
}

// Seal encrypts priv under password, ready for on-disk storage.
func Seal(password []byte, priv ed25519.PrivateKey) (*EncryptedKey, error) {
	var salt [saltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, errors.Wrap(err, "failed to generate salt")
	}
	aead, err := deriveAEAD(password, salt[:])
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive wallet key")
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}
	ciphertext := aead.Seal(nil, nonce, priv, nil)
	return &EncryptedKey{Salt: salt, Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Unlock decrypts enc under password and loads the resulting key into the
// wallet, keyed by its Ed25519 public half.
func (w *Wallet) Unlock(password []byte, enc *EncryptedKey) error {
	aead, err := deriveAEAD(password, enc.Salt[:])
	if err != nil {
		return errors.Wrap(err, "failed to derive wallet key")
	}
	plaintext, err := aead.Open(nil, enc.Nonce, enc.Ciphertext, nil)
	if err != nil {
		return errors.Wrap(err, "wrong wallet password or corrupt key")
	}

	priv := ed25519.PrivateKey(plaintext)
	var pub [32]byte
	copy(pub[:], priv.Public().(ed25519.PublicKey))

	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys[pub] = &storedKey{public: pub, private: priv}
	return nil
}

// HasKey reports whether this wallet holds account's private key.
func (w *Wallet) HasKey(account [32]byte) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.keys[account]
	return ok
}

// Sign produces a signed vote for block on behalf of account, at the
// given sequence number. Returns an error if the key is not held.
func (w *Wallet) Sign(account [32]byte, sequence uint64, block wire.Block) (*wire.Vote, error) {
	w.mu.RLock()
	key, ok := w.keys[account]
	w.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("wallet: no key held for account %x", account[:8])
	}

	vote := &wire.Vote{
		Account:   account,
		Sequence:  sequence,
		BlockType: block.Type(),
		Block:     block,
	}
	digest := vote.SigningHash()
	sig := ed25519.Sign(key.private, digest[:])
	var fixed [64]byte
	copy(fixed[:], sig)
	vote.Sig = fixed
	return vote, nil
}

// Representatives returns the public keys of every account this wallet
// holds, for republish_block's "any wallet-held key qualifies" check.
func (w *Wallet) Representatives() []hash.Digest {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]hash.Digest, 0, len(w.keys))
	for pub := range w.keys {
		out = append(out, hash.Digest(pub))
	}
	return out
}

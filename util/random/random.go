// Package random provides cryptographically secure random helpers used
// by razed for peer selection (network) and probe-block selection
// (repcrawler).
package random

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Uint64 returns a cryptographically random uint64.
func Uint64() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, errors.Wrap(err, "failed to read random bytes")
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Intn returns a random integer in [0, n). n must be positive.
func Intn(n int) (int, error) {
	if n <= 0 {
		return 0, errors.Errorf("Intn: invalid argument %d", n)
	}
	v, err := Uint64()
	if err != nil {
		return 0, err
	}
	return int(v % uint64(n)), nil
}

// Shuffle performs an in-place Fisher-Yates shuffle of indices [0, n) calling
// swap(i, j) for every transposition, mirroring the standard library's
// math/rand.Shuffle signature but backed by crypto/rand.
func Shuffle(n int, swap func(i, j int)) error {
	for i := n - 1; i > 0; i-- {
		j, err := Intn(i + 1)
		if err != nil {
			return err
		}
		swap(i, j)
	}
	return nil
}

package blockprocessor

import (
	"bytes"

	"github.com/razenet/razed/hash"
	"github.com/razenet/razed/store"
	"github.com/razenet/razed/wire"
)

// uncheckedKey lays a block out under its missing dependency so a single
// IteratePrefix scoped to that dependency's hash yields exactly the
// blocks waiting on it.
func uncheckedKey(missing hash.Digest, blockHash hash.Digest) []byte {
	key := make([]byte, 0, 64)
	key = append(key, missing[:]...)
	key = append(key, blockHash[:]...)
	return key
}

func putUnchecked(tx *store.Transaction, missing hash.Digest, block wire.Block) error {
	var buf bytes.Buffer
	buf.WriteByte(byte(block.Type()))
	if err := block.Encode(&buf); err != nil {
		return err
	}
	blockHash := block.Hash()
	return tx.Put(store.TableUnchecked, uncheckedKey(missing, blockHash), buf.Bytes())
}

// drainUnchecked returns and deletes every block waiting on missing.
func drainUnchecked(tx *store.Transaction, missing hash.Digest) ([]wire.Block, error) {
	it, err := tx.IteratePrefix(store.TableUnchecked, missing[:])
	if err != nil {
		return nil, err
	}
	defer it.Release()

	var blocks []wire.Block
	var keys [][]byte
	for it.Next() {
		data := it.Value()
		blockType := wire.BlockType(data[0])
		block, err := wire.DecodeBlock(blockType, bytes.NewReader(data[1:]))
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)

		key := make([]byte, len(it.Key()))
		copy(key, it.Key())
		keys = append(keys, key)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	for _, key := range keys {
		if err := tx.Delete(store.TableUnchecked, key); err != nil {
			return nil, err
		}
	}
	return blocks, nil
}

package ledger

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// Block is a sealed batch of transactions. Index is the block's height in the
// chain, PreviousHash links it to its parent, and Nonce is the proof-of-work
// solution found for the given Difficulty.
type Block struct {
	Index           uint64
	PreviousHash    *Hash
	TimestampMillis int64
	Difficulty      uint32
	Nonce           uint64
	Transactions    []*Transaction

	// SealedHash is the header hash recorded when the block was sealed.
	// Chain validation recomputes the header hash and compares it against
	// this record, so tampering with a stored block is pinned to the block
	// itself rather than surfacing as a broken link one block later.
	SealedHash *Hash

	cachedHash *Hash
}

// TransactionDigest computes an order-significant digest over the block's
// transaction IDs by pairwise hashing up a binary tree. An odd leaf at any
// level is paired with itself. Reordering, inserting or removing any
// transaction changes the digest and therefore the block hash.
func (block *Block) TransactionDigest() (*Hash, error) {
	if len(block.Transactions) == 0 {
		zero := zeroHash
		return &zero, nil
	}

	level := make([]*Hash, len(block.Transactions))
	for i, tx := range block.Transactions {
		id, err := tx.ID()
		if err != nil {
			return nil, err
		}
		level[i] = id
	}

	for len(level) > 1 {
		next := make([]*Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			combined := make([]byte, 0, HashSize*2)
			combined = append(combined, left.ByteSlice()...)
			combined = append(combined, right.ByteSlice()...)
			next = append(next, HashData(combined))
		}
		level = next
	}
	return level[0], nil
}

// HeaderHash computes the block's hash: the digest of the canonical encoding
// of (index, previous hash, transaction digest, timestamp, difficulty,
// nonce). The proof-of-work check and the chain link both operate on this
// hash.
func (block *Block) HeaderHash() (*Hash, error) {
	txDigest, err := block.TransactionDigest()
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	if err := writeUint64(buf, block.Index); err != nil {
		return nil, err
	}
	if err := writeHash(buf, block.PreviousHash); err != nil {
		return nil, err
	}
	if err := writeHash(buf, txDigest); err != nil {
		return nil, err
	}
	if err := writeInt64(buf, block.TimestampMillis); err != nil {
		return nil, err
	}
	if err := writeUint32(buf, block.Difficulty); err != nil {
		return nil, err
	}
	if err := writeUint64(buf, block.Nonce); err != nil {
		return nil, err
	}
	return HashData(buf.Bytes()), nil
}

// Hash returns the block's header hash, computing and caching it on first
// call. Callers must not mutate a block after the first call to Hash.
func (block *Block) Hash() (*Hash, error) {
	if block.cachedHash != nil {
		return block.cachedHash, nil
	}
	hash, err := block.HeaderHash()
	if err != nil {
		return nil, err
	}
	block.cachedHash = hash
	return hash, nil
}

// invalidateHash drops the cached header hash. Used by the miner while
// iterating nonces on a candidate block.
func (block *Block) invalidateHash() {
	block.cachedHash = nil
}

// seal records the block's current header hash as its sealed hash.
func (block *Block) seal() error {
	hash, err := block.HeaderHash()
	if err != nil {
		return err
	}
	block.SealedHash = hash
	return nil
}

// Serialize returns the full canonical encoding of the block.
func (block *Block) Serialize() ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := block.serialize(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (block *Block) serialize(w io.Writer) error {
	if err := writeUint64(w, block.Index); err != nil {
		return err
	}
	if err := writeHash(w, block.PreviousHash); err != nil {
		return err
	}
	if err := writeInt64(w, block.TimestampMillis); err != nil {
		return err
	}
	if err := writeUint32(w, block.Difficulty); err != nil {
		return err
	}
	if err := writeUint64(w, block.Nonce); err != nil {
		return err
	}
	if block.SealedHash == nil {
		return errors.New("cannot serialize a block that has not been sealed")
	}
	if err := writeHash(w, block.SealedHash); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(len(block.Transactions))); err != nil {
		return err
	}
	for _, tx := range block.Transactions {
		if err := tx.serialize(w); err != nil {
			return err
		}
	}
	return nil
}

// DeserializeBlock parses a block out of its canonical encoding.
func DeserializeBlock(data []byte) (*Block, error) {
	block := &Block{}
	if err := block.deserialize(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return block, nil
}

func (block *Block) deserialize(r io.Reader) (err error) {
	if block.Index, err = readUint64(r); err != nil {
		return err
	}
	if block.PreviousHash, err = readHash(r); err != nil {
		return err
	}
	if block.TimestampMillis, err = readInt64(r); err != nil {
		return err
	}
	if block.Difficulty, err = readUint32(r); err != nil {
		return err
	}
	if block.Nonce, err = readUint64(r); err != nil {
		return err
	}
	if block.SealedHash, err = readHash(r); err != nil {
		return err
	}
	txCount, err := readUint64(r)
	if err != nil {
		return err
	}
	if txCount > maxStringLength {
		return errors.Errorf("transaction count %d exceeds the maximum of %d",
			txCount, maxStringLength)
	}
	block.Transactions = make([]*Transaction, txCount)
	for i := range block.Transactions {
		tx := &Transaction{}
		if err := tx.deserialize(r); err != nil {
			return err
		}
		block.Transactions[i] = tx
	}
	return nil
}

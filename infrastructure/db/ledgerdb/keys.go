package ledgerdb

import "encoding/binary"

// Key prefixes for the buckets kept in the store. Block and outbox keys embed
// a big-endian uint64 so that leveldb's lexicographic ordering matches the
// numeric ordering.
var (
	blockKeyPrefix    = []byte("block:")
	contractKeyPrefix = []byte("contract:")
	outboxKeyPrefix   = []byte("outbox:")
	tipKey            = []byte("meta:tip")
	outboxSeqKey      = []byte("meta:outboxseq")
)

// BlockKey returns the store key of the block at the given chain index.
func BlockKey(index uint64) []byte {
	return appendUint64(blockKeyPrefix, index)
}

// BlockKeyPrefix returns the prefix under which all block records are stored.
func BlockKeyPrefix() []byte {
	return blockKeyPrefix
}

// ContractKey returns the store key of the contract registry record with the
// given contract ID.
func ContractKey(contractID string) []byte {
	return append(contractKeyPrefix[:len(contractKeyPrefix):len(contractKeyPrefix)], contractID...)
}

// ContractKeyPrefix returns the prefix under which all contract registry
// records are stored.
func ContractKeyPrefix() []byte {
	return contractKeyPrefix
}

// OutboxKey returns the store key of the outbox entry with the given sequence
// number.
func OutboxKey(seq uint64) []byte {
	return appendUint64(outboxKeyPrefix, seq)
}

// OutboxKeyPrefix returns the prefix under which all outbox entries are stored.
func OutboxKeyPrefix() []byte {
	return outboxKeyPrefix
}

// OutboxSequence parses the sequence number out of an outbox entry key.
func OutboxSequence(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(outboxKeyPrefix):])
}

// TipKey returns the store key of the chain tip pointer.
func TipKey() []byte {
	return tipKey
}

// OutboxSequenceKey returns the store key of the next outbox sequence number.
func OutboxSequenceKey() []byte {
	return outboxSeqKey
}

func appendUint64(prefix []byte, value uint64) []byte {
	var serialized [8]byte
	binary.BigEndian.PutUint64(serialized[:], value)
	return append(prefix[:len(prefix):len(prefix)], serialized[:]...)
}

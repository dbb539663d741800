package ledger

import (
	"math/big"
)

// MaxDifficulty is the largest difficulty for which a target can be derived.
// At 255 leading zero bits the target is 1 and only the all-zero hash would
// satisfy it.
const MaxDifficulty = 255

// TargetFromDifficulty derives the proof-of-work target for the given
// difficulty: a hash satisfies the proof when, interpreted as a big-endian
// unsigned integer, it is strictly below 2^(256-difficulty). Each difficulty
// step doubles the expected nonce search work.
func TargetFromDifficulty(difficulty uint32) *big.Int {
	if difficulty > MaxDifficulty {
		difficulty = MaxDifficulty
	}
	return new(big.Int).Lsh(big.NewInt(1), uint(256-difficulty))
}

// hashToBig converts a Hash into a big.Int, treating the hash bytes as a
// big-endian unsigned integer.
func hashToBig(hash *Hash) *big.Int {
	return new(big.Int).SetBytes(hash.ByteSlice())
}

// checkProofOfWork returns whether the block's header hash satisfies its
// declared difficulty.
func checkProofOfWork(block *Block) (bool, error) {
	hash, err := block.Hash()
	if err != nil {
		return false, err
	}
	target := TargetFromDifficulty(block.Difficulty)
	return hashToBig(hash).Cmp(target) < 0, nil
}

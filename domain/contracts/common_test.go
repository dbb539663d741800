package contracts

import (
	"testing"
	"time"

	"github.com/bookchain/bookchaind/domain/ledger"
)

// Helpers for building chain snapshots directly. Blocks built this way are
// never validated, so they don't need proof of work or real signatures.

func testTx(payload ledger.Payload, at time.Time) *ledger.Transaction {
	return &ledger.Transaction{
		TxKind:          payload.Kind(),
		TimestampMillis: timeToMillis(at),
		Payload:         payload,
		PublicKey:       make([]byte, ledger.PublicKeySize),
		Signature:       make([]byte, ledger.SignatureSize),
	}
}

func testBlockAt(index uint64, at time.Time, transactions ...*ledger.Transaction) *ledger.Block {
	prev := ledger.HashData([]byte{byte(index)})
	return &ledger.Block{
		Index:           index,
		PreviousHash:    prev,
		TimestampMillis: timeToMillis(at),
		Transactions:    transactions,
	}
}

func testSnapshot(blocks ...*ledger.Block) *ledger.Snapshot {
	return &ledger.Snapshot{Blocks: blocks}
}

func mustTxID(t *testing.T, tx *ledger.Transaction) string {
	id, err := tx.ID()
	if err != nil {
		t.Fatalf("failed computing a transaction ID: %s", err)
	}
	return id.String()
}

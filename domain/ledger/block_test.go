package ledger

import (
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func testBlock(t *testing.T) *Block {
	invoice := &Transaction{
		TxKind:          KindInvoice,
		TimestampMillis: 1706745600000,
		Payload: &InvoicePayload{
			ClientID:      "client-7",
			InvoiceNumber: "INV-20240201-test",
			Amount:        125000,
			Currency:      "USD",
			DueDateMillis: 1709337600000,
			LineItems: []LineItem{
				{Description: "consulting", Quantity: 10, Rate: 12500},
			},
			ClientTaxID: "12-3456789",
		},
		PublicKey: make([]byte, PublicKeySize),
		Signature: make([]byte, SignatureSize),
	}
	payment := &Transaction{
		TxKind:          KindPayment,
		TimestampMillis: 1706745601000,
		Payload: &PaymentPayload{
			InvoiceID: "abc123",
			Amount:    125000,
			Currency:  "USD",
			Method:    "bank_transfer",
			State:     "NY",
		},
		PublicKey: make([]byte, PublicKeySize),
		Signature: make([]byte, SignatureSize),
	}

	prev := HashData([]byte("previous block"))
	block := &Block{
		Index:           5,
		PreviousHash:    prev,
		TimestampMillis: 1706745602000,
		Difficulty:      16,
		Nonce:           424242,
		Transactions:    []*Transaction{invoice, payment},
	}
	if err := block.seal(); err != nil {
		t.Fatalf("failed sealing the test block: %s", err)
	}
	return block
}

func TestBlockSerializationRoundTrip(t *testing.T) {
	block := testBlock(t)
	serialized, err := block.Serialize()
	if err != nil {
		t.Fatalf("TestBlockSerializationRoundTrip: failed serializing: %s", err)
	}

	deserialized, err := DeserializeBlock(serialized)
	if err != nil {
		t.Fatalf("TestBlockSerializationRoundTrip: failed deserializing: %s", err)
	}

	originalHash, err := block.HeaderHash()
	if err != nil {
		t.Fatalf("TestBlockSerializationRoundTrip: failed hashing original: %s", err)
	}
	roundTripHash, err := deserialized.HeaderHash()
	if err != nil {
		t.Fatalf("TestBlockSerializationRoundTrip: failed hashing round trip: %s", err)
	}
	if !originalHash.Equal(roundTripHash) {
		t.Fatalf("TestBlockSerializationRoundTrip: hash changed across the round "+
			"trip. Original: %s, round trip: %s", originalHash, roundTripHash)
	}
	if !deserialized.SealedHash.Equal(block.SealedHash) {
		t.Fatalf("TestBlockSerializationRoundTrip: sealed hash changed across the round trip")
	}

	reserialized, err := deserialized.Serialize()
	if err != nil {
		t.Fatalf("TestBlockSerializationRoundTrip: failed reserializing: %s", err)
	}
	if !reflect.DeepEqual(serialized, reserialized) {
		t.Fatalf("TestBlockSerializationRoundTrip: encodings differ.\nFirst: %s\nSecond: %s",
			spew.Sdump(serialized), spew.Sdump(reserialized))
	}
}

func TestTransactionDigestIsOrderSignificant(t *testing.T) {
	block := testBlock(t)
	originalDigest, err := block.TransactionDigest()
	if err != nil {
		t.Fatalf("TestTransactionDigestIsOrderSignificant: %s", err)
	}

	block.Transactions[0], block.Transactions[1] = block.Transactions[1], block.Transactions[0]
	swappedDigest, err := block.TransactionDigest()
	if err != nil {
		t.Fatalf("TestTransactionDigestIsOrderSignificant: %s", err)
	}
	if originalDigest.Equal(swappedDigest) {
		t.Fatalf("TestTransactionDigestIsOrderSignificant: digest did not change " +
			"when transactions were reordered")
	}
}

func TestTransactionIDExcludesSignature(t *testing.T) {
	block := testBlock(t)
	tx := block.Transactions[0]
	originalID, err := tx.ID()
	if err != nil {
		t.Fatalf("TestTransactionIDExcludesSignature: %s", err)
	}

	resigned := *tx
	resigned.cachedID = nil
	resigned.Signature = make([]byte, SignatureSize)
	resigned.Signature[0] = 0xff
	resignedID, err := resigned.ID()
	if err != nil {
		t.Fatalf("TestTransactionIDExcludesSignature: %s", err)
	}
	if !originalID.Equal(resignedID) {
		t.Fatalf("TestTransactionIDExcludesSignature: ID changed when only the "+
			"signature changed. Original: %s, resigned: %s", originalID, resignedID)
	}

	// The ID must change when the payload does.
	tampered := *tx
	tampered.cachedID = nil
	tampered.Payload = &InvoicePayload{
		ClientID:      "client-7",
		InvoiceNumber: "INV-20240201-test",
		Amount:        125001,
		Currency:      "USD",
		DueDateMillis: 1709337600000,
		LineItems: []LineItem{
			{Description: "consulting", Quantity: 10, Rate: 12500},
		},
		ClientTaxID: "12-3456789",
	}
	tamperedID, err := tampered.ID()
	if err != nil {
		t.Fatalf("TestTransactionIDExcludesSignature: %s", err)
	}
	if originalID.Equal(tamperedID) {
		t.Fatalf("TestTransactionIDExcludesSignature: ID did not change when the payload changed")
	}
}

package contracts

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bookchain/bookchaind/domain/ledger"
	"github.com/bookchain/bookchaind/domain/outbox"
	"github.com/bookchain/bookchaind/domain/signer"
	"github.com/bookchain/bookchaind/infrastructure/db/ledgerdb"
	"github.com/pkg/errors"
)

// stubContract lets the engine tests script trigger and execution behavior.
type stubContract struct {
	id      string
	execute func(snapshot *ledger.Snapshot, now time.Time) (*Execution, error)
}

func (c *stubContract) ID() string { return c.id }

func (c *stubContract) Kind() Kind { return KindAuditEnforcement }

func (c *stubContract) ShouldTrigger(_ *ledger.Snapshot, _ time.Time) bool { return true }

func (c *stubContract) Execute(snapshot *ledger.Snapshot, now time.Time) (*Execution, error) {
	return c.execute(snapshot, now)
}

func (c *stubContract) configJSON() (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

type engineHarness struct {
	engine  *Engine
	ledger  *ledger.Ledger
	outbox  *outbox.Outbox
	db      *ledgerdb.LedgerDB
	keyPair *signer.KeyPair
	now     time.Time
}

func newEngineHarness(t *testing.T, budget time.Duration) (*engineHarness, func()) {
	db, err := ledgerdb.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed opening the test store: %s", err)
	}

	harness := &engineHarness{
		db:  db,
		now: time.Date(2024, 2, 2, 12, 0, 0, 0, time.UTC),
	}
	l, err := ledger.New(&ledger.Config{
		Difficulty:     0,
		GenesisMessage: "engine test chain",
		TimeSource:     func() time.Time { return harness.now },
	}, db)
	if err != nil {
		db.Close()
		t.Fatalf("failed opening the test ledger: %s", err)
	}
	keyPair, err := signer.GenerateKeyPair()
	if err != nil {
		db.Close()
		t.Fatalf("failed generating the test key pair: %s", err)
	}
	ob := outbox.New(db)
	engine, err := NewEngine(&Config{
		Ledger:          l,
		KeyPair:         keyPair,
		DB:              db,
		Outbox:          ob,
		ExecutionBudget: budget,
	})
	if err != nil {
		db.Close()
		t.Fatalf("failed building the test engine: %s", err)
	}

	harness.engine = engine
	harness.ledger = l
	harness.outbox = ob
	harness.keyPair = keyPair
	return harness, func() { db.Close() }
}

func pendingEvents(snapshot *ledger.Snapshot) []*ledger.ContractEventPayload {
	var events []*ledger.ContractEventPayload
	for _, tx := range snapshot.Pending {
		if payload, ok := tx.Payload.(*ledger.ContractEventPayload); ok {
			events = append(events, payload)
		}
	}
	return events
}

func TestEngineRecordsFailedContracts(t *testing.T) {
	harness, teardown := newEngineHarness(t, time.Second)
	defer teardown()

	// The failing contract must not keep the one behind it from running.
	harness.engine.contracts = []persistable{
		&stubContract{
			id: "failing",
			execute: func(_ *ledger.Snapshot, _ time.Time) (*Execution, error) {
				return nil, errors.New("ledger state made no sense")
			},
		},
		&stubContract{
			id: "healthy",
			execute: func(_ *ledger.Snapshot, _ time.Time) (*Execution, error) {
				return &Execution{Action: "noop"}, nil
			},
		},
	}

	harness.engine.OnBlockPersisted(&ledger.Block{TimestampMillis: timeToMillis(harness.now)}, nil)

	events := pendingEvents(harness.ledger.Snapshot())
	if len(events) != 2 {
		t.Fatalf("TestEngineRecordsFailedContracts: expected 2 events, got %d", len(events))
	}
	if events[0].ContractID != "failing" || events[0].Succeeded {
		t.Fatalf("TestEngineRecordsFailedContracts: first event is %+v, expected a failure", events[0])
	}
	if !strings.Contains(events[0].FailureReason, "made no sense") {
		t.Fatalf("TestEngineRecordsFailedContracts: unexpected failure reason %q",
			events[0].FailureReason)
	}
	if events[1].ContractID != "healthy" || !events[1].Succeeded || events[1].Action != "noop" {
		t.Fatalf("TestEngineRecordsFailedContracts: second event is %+v, expected a success", events[1])
	}

	entry, err := harness.outbox.Peek()
	if err != nil {
		t.Fatalf("TestEngineRecordsFailedContracts: outbox peek failed: %s", err)
	}
	if entry == nil || entry.Body["contract"] != "failing" || entry.Body["failureReason"] == "" {
		t.Fatalf("TestEngineRecordsFailedContracts: unexpected outbox entry %+v", entry)
	}
}

func TestEngineTreatsNilExecutionAsFailure(t *testing.T) {
	harness, teardown := newEngineHarness(t, time.Second)
	defer teardown()

	harness.engine.contracts = []persistable{
		&stubContract{
			id: "empty-handed",
			execute: func(_ *ledger.Snapshot, _ time.Time) (*Execution, error) {
				return nil, nil
			},
		},
	}

	harness.engine.OnBlockPersisted(&ledger.Block{TimestampMillis: timeToMillis(harness.now)}, nil)

	events := pendingEvents(harness.ledger.Snapshot())
	if len(events) != 1 {
		t.Fatalf("TestEngineTreatsNilExecutionAsFailure: expected 1 event, got %d", len(events))
	}
	if events[0].Succeeded || !strings.Contains(events[0].FailureReason, "no execution result") {
		t.Fatalf("TestEngineTreatsNilExecutionAsFailure: unexpected event %+v", events[0])
	}
}

func TestEngineExecutionBudget(t *testing.T) {
	harness, teardown := newEngineHarness(t, 50*time.Millisecond)
	defer teardown()

	harness.engine.contracts = []persistable{
		&stubContract{
			id: "hanging",
			execute: func(_ *ledger.Snapshot, _ time.Time) (*Execution, error) {
				time.Sleep(2 * time.Second)
				return &Execution{Action: "too_late"}, nil
			},
		},
	}

	harness.engine.OnBlockPersisted(&ledger.Block{TimestampMillis: timeToMillis(harness.now)}, nil)

	events := pendingEvents(harness.ledger.Snapshot())
	if len(events) != 1 {
		t.Fatalf("TestEngineExecutionBudget: expected 1 event, got %d", len(events))
	}
	if events[0].Succeeded || !strings.Contains(events[0].FailureReason, "budget") {
		t.Fatalf("TestEngineExecutionBudget: unexpected event %+v", events[0])
	}
}

func TestEngineRecoversPanickingContract(t *testing.T) {
	harness, teardown := newEngineHarness(t, time.Second)
	defer teardown()

	harness.engine.contracts = []persistable{
		&stubContract{
			id: "panicking",
			execute: func(_ *ledger.Snapshot, _ time.Time) (*Execution, error) {
				panic("nil map write")
			},
		},
	}

	harness.engine.OnBlockPersisted(&ledger.Block{TimestampMillis: timeToMillis(harness.now)}, nil)

	events := pendingEvents(harness.ledger.Snapshot())
	if len(events) != 1 {
		t.Fatalf("TestEngineRecoversPanickingContract: expected 1 event, got %d", len(events))
	}
	if events[0].Succeeded || !strings.Contains(events[0].FailureReason, "panicked") {
		t.Fatalf("TestEngineRecoversPanickingContract: unexpected event %+v", events[0])
	}
}

func TestEngineRegistryRoundTrip(t *testing.T) {
	harness, teardown := newEngineHarness(t, time.Second)
	defer teardown()

	recurring := retainerRule(t, harness.now.AddDate(0, 1, 0), FrequencyMonthly)
	withholding := withholdingContract(t, JurisdictionUS, "NY")
	if err := harness.engine.Register(recurring, harness.now); err != nil {
		t.Fatalf("TestEngineRegistryRoundTrip: register failed: %s", err)
	}
	if err := harness.engine.Register(withholding, harness.now.Add(time.Minute)); err != nil {
		t.Fatalf("TestEngineRegistryRoundTrip: register failed: %s", err)
	}
	if err := harness.engine.Register(recurring, harness.now); err == nil {
		t.Fatalf("TestEngineRegistryRoundTrip: duplicate registration succeeded")
	}

	// A fresh engine over the same store restores both, in registration order.
	restored, err := NewEngine(&Config{
		Ledger:  harness.ledger,
		KeyPair: harness.keyPair,
		DB:      harness.db,
		Outbox:  harness.outbox,
	})
	if err != nil {
		t.Fatalf("TestEngineRegistryRoundTrip: failed restoring the engine: %s", err)
	}
	contracts := restored.Contracts()
	if len(contracts) != 2 {
		t.Fatalf("TestEngineRegistryRoundTrip: restored %d contracts, expected 2", len(contracts))
	}
	if contracts[0].ID() != recurring.ID() || contracts[1].ID() != withholding.ID() {
		t.Fatalf("TestEngineRegistryRoundTrip: restored order is %s, %s",
			contracts[0].ID(), contracts[1].ID())
	}

	if err := harness.engine.Revoke(recurring.ID(), harness.now.Add(2*time.Minute)); err != nil {
		t.Fatalf("TestEngineRegistryRoundTrip: revoke failed: %s", err)
	}
	if err := harness.engine.Revoke("no-such-contract", harness.now); err == nil {
		t.Fatalf("TestEngineRegistryRoundTrip: revoking an unknown contract succeeded")
	}

	revokedView, err := NewEngine(&Config{
		Ledger:  harness.ledger,
		KeyPair: harness.keyPair,
		DB:      harness.db,
		Outbox:  harness.outbox,
	})
	if err != nil {
		t.Fatalf("TestEngineRegistryRoundTrip: failed restoring after revoke: %s", err)
	}
	contracts = revokedView.Contracts()
	if len(contracts) != 1 || contracts[0].ID() != withholding.ID() {
		t.Fatalf("TestEngineRegistryRoundTrip: expected only %s after revoke", withholding.ID())
	}
}

func TestEngineEndToEnd(t *testing.T) {
	harness, teardown := newEngineHarness(t, time.Second)
	defer teardown()
	harness.ledger.RegisterBlockListener(harness.engine.OnBlockPersisted)

	recurring := retainerRule(t, harness.now.AddDate(0, 0, -1), FrequencyMonthly)
	if err := harness.engine.Register(recurring, harness.now); err != nil {
		t.Fatalf("TestEngineEndToEnd: register failed: %s", err)
	}

	// Sealing the registration event triggers the rule, which drafts the
	// first invoice and its trigger event into the pool.
	if _, err := harness.ledger.MineBlock(); err != nil {
		t.Fatalf("TestEngineEndToEnd: first mine failed: %s", err)
	}
	if harness.ledger.PendingCount() != 2 {
		t.Fatalf("TestEngineEndToEnd: expected 2 pending after the trigger, got %d",
			harness.ledger.PendingCount())
	}

	if _, err := harness.ledger.MineBlock(); err != nil {
		t.Fatalf("TestEngineEndToEnd: second mine failed: %s", err)
	}
	snapshot := harness.ledger.Snapshot()
	invoices := snapshot.TransactionsByKind(ledger.KindInvoice)
	if len(invoices) != 1 {
		t.Fatalf("TestEngineEndToEnd: expected 1 sealed invoice, got %d", len(invoices))
	}
	invoice := invoices[0].Payload.(*ledger.InvoicePayload)
	if invoice.RecurringRuleID != recurring.ID() {
		t.Fatalf("TestEngineEndToEnd: sealed invoice does not carry the rule ID")
	}
	events := snapshot.TransactionsByKind(ledger.KindContractEvent)
	if len(events) != 2 {
		t.Fatalf("TestEngineEndToEnd: expected 2 sealed events, got %d", len(events))
	}
	trigger := events[1].Payload.(*ledger.ContractEventPayload)
	if trigger.Action != "generate_invoice" || !trigger.Succeeded || len(trigger.ProducedTxIDs) != 1 {
		t.Fatalf("TestEngineEndToEnd: unexpected trigger event %+v", trigger)
	}
	producedID, err := invoices[0].ID()
	if err != nil {
		t.Fatalf("TestEngineEndToEnd: %s", err)
	}
	if !trigger.ProducedTxIDs[0].Equal(producedID) {
		t.Fatalf("TestEngineEndToEnd: trigger event does not reference the produced invoice")
	}

	// The rule must not retrigger until the next period, so the pool drains.
	if harness.ledger.PendingCount() != 0 {
		t.Fatalf("TestEngineEndToEnd: expected an empty pool, got %d pending",
			harness.ledger.PendingCount())
	}

	entry, err := harness.outbox.Peek()
	if err != nil {
		t.Fatalf("TestEngineEndToEnd: outbox peek failed: %s", err)
	}
	if entry == nil || entry.Topic != "contract.triggered" || entry.Body["contract"] != recurring.ID() {
		t.Fatalf("TestEngineEndToEnd: unexpected outbox entry %+v", entry)
	}
}

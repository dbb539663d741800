package contracts

import (
	"strings"
	"testing"
	"time"

	"github.com/bookchain/bookchaind/domain/ledger"
)

func auditContract(t *testing.T) *AuditEnforcement {
	contract, err := NewAuditEnforcement(AuditEnforcementConfig{ContractID: "audit-1"})
	if err != nil {
		t.Fatalf("failed building the test contract: %s", err)
	}
	return contract
}

func TestAuditEnforcementRapidActivity(t *testing.T) {
	contract := auditContract(t)
	at := time.Date(2024, 2, 2, 15, 0, 0, 0, time.UTC)

	first := testTx(&ledger.InvoicePayload{
		ClientID: "client-1", InvoiceNumber: "INV-001", Amount: 100, Currency: "USD",
	}, at)
	second := testTx(&ledger.InvoicePayload{
		ClientID: "client-1", InvoiceNumber: "INV-002", Amount: 200, Currency: "USD",
	}, at.Add(300*time.Millisecond))
	snapshot := testSnapshot(
		testBlockAt(0, at.AddDate(0, 0, -1)),
		testBlockAt(1, at, first, second),
	)

	if !contract.ShouldTrigger(snapshot, at) {
		t.Fatalf("TestAuditEnforcementRapidActivity: did not flag rapid same-entity activity")
	}
	execution, err := contract.Execute(snapshot, at)
	if err != nil {
		t.Fatalf("TestAuditEnforcementRapidActivity: execute failed: %s", err)
	}
	if execution.Action != "audit_anomaly" {
		t.Fatalf("TestAuditEnforcementRapidActivity: unexpected action %q", execution.Action)
	}
	if len(execution.Drafts) != 0 {
		t.Fatalf("TestAuditEnforcementRapidActivity: anomaly report produced %d drafts",
			len(execution.Drafts))
	}
	if !strings.Contains(execution.Detail, "rapid actions against client:client-1") {
		t.Fatalf("TestAuditEnforcementRapidActivity: unexpected detail %q", execution.Detail)
	}
	if !strings.Contains(execution.Detail, "audit hashes: client:client-1=") {
		t.Fatalf("TestAuditEnforcementRapidActivity: detail lacks the audit hash: %q", execution.Detail)
	}

	// The detail string must be identical on a replay, since it feeds the
	// recorded event's transaction ID.
	replayed, err := contract.Execute(snapshot, at)
	if err != nil {
		t.Fatalf("TestAuditEnforcementRapidActivity: replay failed: %s", err)
	}
	if replayed.Detail != execution.Detail {
		t.Fatalf("TestAuditEnforcementRapidActivity: detail differs across replays:\n%q\n%q",
			execution.Detail, replayed.Detail)
	}
}

func TestAuditEnforcementAfterHours(t *testing.T) {
	contract := auditContract(t)
	at := time.Date(2024, 2, 2, 23, 30, 0, 0, time.UTC)

	payment := testTx(&ledger.PaymentPayload{
		InvoiceID: "inv-1", Amount: 100, Currency: "USD", Method: "cash",
	}, at)
	snapshot := testSnapshot(
		testBlockAt(0, at.AddDate(0, 0, -1)),
		testBlockAt(1, at, payment),
	)

	if !contract.ShouldTrigger(snapshot, at) {
		t.Fatalf("TestAuditEnforcementAfterHours: did not flag a 23:30 UTC submission")
	}
	execution, err := contract.Execute(snapshot, at)
	if err != nil {
		t.Fatalf("TestAuditEnforcementAfterHours: execute failed: %s", err)
	}
	if !strings.Contains(execution.Detail, "after-hours activity against invoice:inv-1") {
		t.Fatalf("TestAuditEnforcementAfterHours: unexpected detail %q", execution.Detail)
	}
}

func TestAuditEnforcementBlockTimestampRegression(t *testing.T) {
	contract := auditContract(t)
	at := time.Date(2024, 2, 2, 15, 0, 0, 0, time.UTC)

	// The tip's timestamp falls behind its predecessor's.
	expense := testTx(&ledger.ExpensePayload{
		Amount: 100, Currency: "USD", Category: "software",
		Description: "editor license",
	}, at.Add(-2*time.Hour))
	snapshot := testSnapshot(
		testBlockAt(0, at.AddDate(0, 0, -1)),
		testBlockAt(1, at),
		testBlockAt(2, at.Add(-time.Hour), expense),
	)

	if !contract.ShouldTrigger(snapshot, at) {
		t.Fatalf("TestAuditEnforcementBlockTimestampRegression: did not flag a regressed block timestamp")
	}
	execution, err := contract.Execute(snapshot, at)
	if err != nil {
		t.Fatalf("TestAuditEnforcementBlockTimestampRegression: execute failed: %s", err)
	}
	if !strings.Contains(execution.Detail, "timestamp regressed behind block 1") {
		t.Fatalf("TestAuditEnforcementBlockTimestampRegression: unexpected detail %q", execution.Detail)
	}
}

func TestAuditEnforcementCleanBlock(t *testing.T) {
	contract := auditContract(t)
	at := time.Date(2024, 2, 2, 15, 0, 0, 0, time.UTC)

	first := testTx(&ledger.InvoicePayload{
		ClientID: "client-1", InvoiceNumber: "INV-001", Amount: 100, Currency: "USD",
	}, at)
	second := testTx(&ledger.PaymentPayload{
		InvoiceID: "inv-9", Amount: 100, Currency: "USD", Method: "check",
	}, at.Add(5*time.Second))
	snapshot := testSnapshot(
		testBlockAt(0, at.AddDate(0, 0, -1)),
		testBlockAt(1, at, first, second),
	)

	if contract.ShouldTrigger(snapshot, at) {
		t.Fatalf("TestAuditEnforcementCleanBlock: flagged unremarkable activity")
	}
}

func TestAuditEnforcementSkipsAutomationOutput(t *testing.T) {
	contract := auditContract(t)
	at := time.Date(2024, 2, 2, 23, 30, 0, 0, time.UTC)

	// Withholding expenses and contract events land after hours whenever the
	// block does. They are engine output, not operator activity.
	withholding := testTx(&ledger.ExpensePayload{
		Amount: 100, Currency: "USD", Category: "taxes",
		Description: "federal_income_tax withheld for payment abc",
		SourceTxID:  "abc",
	}, at)
	event := testTx(&ledger.ContractEventPayload{
		ContractID: "tax-1", ContractKind: "tax_withholding", Action: "withhold_taxes",
		Succeeded: true,
	}, at)
	snapshot := testSnapshot(
		testBlockAt(0, at.AddDate(0, 0, -1)),
		testBlockAt(1, at, withholding, event),
	)

	if contract.ShouldTrigger(snapshot, at) {
		t.Fatalf("TestAuditEnforcementSkipsAutomationOutput: flagged automation output")
	}
}

func TestEntityHashIsOrderSensitive(t *testing.T) {
	at := time.Date(2024, 2, 2, 15, 0, 0, 0, time.UTC)
	first := testTx(&ledger.InvoicePayload{
		ClientID: "client-1", InvoiceNumber: "INV-001", Amount: 100, Currency: "USD",
	}, at)
	second := testTx(&ledger.InvoicePayload{
		ClientID: "client-1", InvoiceNumber: "INV-002", Amount: 200, Currency: "USD",
	}, at.Add(time.Hour))

	forward := testSnapshot(testBlockAt(0, at, first, second))
	reversed := testSnapshot(testBlockAt(0, at, second, first))

	forwardHash, err := entityHash(forward, "client:client-1")
	if err != nil {
		t.Fatalf("TestEntityHashIsOrderSensitive: %s", err)
	}
	reversedHash, err := entityHash(reversed, "client:client-1")
	if err != nil {
		t.Fatalf("TestEntityHashIsOrderSensitive: %s", err)
	}
	if forwardHash.Equal(reversedHash) {
		t.Fatalf("TestEntityHashIsOrderSensitive: hash did not change with transaction order")
	}

	otherHash, err := entityHash(forward, "client:client-2")
	if err != nil {
		t.Fatalf("TestEntityHashIsOrderSensitive: %s", err)
	}
	if forwardHash.Equal(otherHash) {
		t.Fatalf("TestEntityHashIsOrderSensitive: different entities share a hash")
	}
}

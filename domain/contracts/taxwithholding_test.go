package contracts

import (
	"testing"
	"time"

	"github.com/bookchain/bookchaind/domain/ledger"
)

func withholdingContract(t *testing.T, jurisdiction, homeState string) *TaxWithholding {
	contract, err := NewTaxWithholding(TaxWithholdingConfig{
		ContractID:   "tax-1",
		Jurisdiction: jurisdiction,
		HomeState:    homeState,
	})
	if err != nil {
		t.Fatalf("failed building the test contract: %s", err)
	}
	return contract
}

func draftAmounts(t *testing.T, execution *Execution) map[string]ledger.Amount {
	amounts := make(map[string]ledger.Amount)
	for _, draft := range execution.Drafts {
		expense, ok := draft.Payload.(*ledger.ExpensePayload)
		if !ok {
			t.Fatalf("draft is not an expense")
		}
		if expense.Category != taxCategory {
			t.Fatalf("expense filed under %q, expected %q", expense.Category, taxCategory)
		}
		// Keyed by the component name leading the description.
		for _, name := range []string{
			"self_employment_tax", "federal_income_tax", "state_income_tax",
			"provincial_income_tax", "sales_tax", "gst_hst",
		} {
			if len(expense.Description) >= len(name) && expense.Description[:len(name)] == name {
				amounts[name] = expense.Amount
			}
		}
	}
	return amounts
}

func TestTaxWithholdingUSPayment(t *testing.T) {
	contract := withholdingContract(t, JurisdictionUS, "FL")
	at := time.Date(2024, 2, 2, 12, 0, 0, 0, time.UTC)

	payment := testTx(&ledger.PaymentPayload{
		InvoiceID: "inv-1",
		Amount:    100000,
		Currency:  "USD",
		Method:    "bank_transfer",
		State:     "NY",
	}, at)
	snapshot := testSnapshot(testBlockAt(0, at.AddDate(0, 0, -1)), testBlockAt(1, at, payment))

	if !contract.ShouldTrigger(snapshot, at) {
		t.Fatalf("TestTaxWithholdingUSPayment: did not trigger on an unwithheld payment")
	}
	execution, err := contract.Execute(snapshot, at)
	if err != nil {
		t.Fatalf("TestTaxWithholdingUSPayment: execute failed: %s", err)
	}
	if execution.Action != "withhold_taxes" {
		t.Fatalf("TestTaxWithholdingUSPayment: unexpected action %q", execution.Action)
	}
	if len(execution.Drafts) != 3 {
		t.Fatalf("TestTaxWithholdingUSPayment: expected 3 drafts, got %d", len(execution.Drafts))
	}

	// $1000.00 at 15.3%, 25% and NY's 6.85%.
	amounts := draftAmounts(t, execution)
	if amounts["self_employment_tax"] != 15300 {
		t.Fatalf("TestTaxWithholdingUSPayment: self-employment tax is %d, expected 15300",
			amounts["self_employment_tax"])
	}
	if amounts["federal_income_tax"] != 25000 {
		t.Fatalf("TestTaxWithholdingUSPayment: federal income tax is %d, expected 25000",
			amounts["federal_income_tax"])
	}
	if amounts["state_income_tax"] != 6850 {
		t.Fatalf("TestTaxWithholdingUSPayment: state income tax is %d, expected 6850",
			amounts["state_income_tax"])
	}

	paymentID := mustTxID(t, payment)
	for _, draft := range execution.Drafts {
		if draft.Payload.(*ledger.ExpensePayload).SourceTxID != paymentID {
			t.Fatalf("TestTaxWithholdingUSPayment: draft does not reference the source payment")
		}
	}

	// Once the withholding expenses are pending, the source is processed and
	// the contract goes quiet.
	for _, draft := range execution.Drafts {
		snapshot.Pending = append(snapshot.Pending, testTx(draft.Payload, at))
	}
	if contract.ShouldTrigger(snapshot, at) {
		t.Fatalf("TestTaxWithholdingUSPayment: retriggered on an already-withheld payment")
	}
}

func TestTaxWithholdingFloridaSkipsStateIncomeTax(t *testing.T) {
	contract := withholdingContract(t, JurisdictionUS, "FL")
	at := time.Date(2024, 2, 2, 12, 0, 0, 0, time.UTC)

	// No State on the payment, so the home state's 0% rate applies.
	payment := testTx(&ledger.PaymentPayload{
		InvoiceID: "inv-1",
		Amount:    100000,
		Currency:  "USD",
		Method:    "check",
	}, at)
	snapshot := testSnapshot(testBlockAt(0, at, payment))

	execution, err := contract.Execute(snapshot, at)
	if err != nil {
		t.Fatalf("TestTaxWithholdingFloridaSkipsStateIncomeTax: %s", err)
	}
	if len(execution.Drafts) != 2 {
		t.Fatalf("TestTaxWithholdingFloridaSkipsStateIncomeTax: expected 2 drafts, got %d",
			len(execution.Drafts))
	}
}

func TestTaxWithholdingSalesTax(t *testing.T) {
	contract := withholdingContract(t, JurisdictionUS, "FL")
	at := time.Date(2024, 2, 2, 12, 0, 0, 0, time.UTC)

	taxable := testTx(&ledger.InvoicePayload{
		ClientID:        "client-1",
		InvoiceNumber:   "INV-001",
		Amount:          100000,
		Currency:        "USD",
		CollectSalesTax: true,
		ClientState:     "NY",
	}, at)
	exempt := testTx(&ledger.InvoicePayload{
		ClientID:      "client-2",
		InvoiceNumber: "INV-002",
		Amount:        100000,
		Currency:      "USD",
	}, at)
	snapshot := testSnapshot(testBlockAt(0, at, taxable, exempt))

	execution, err := contract.Execute(snapshot, at)
	if err != nil {
		t.Fatalf("TestTaxWithholdingSalesTax: %s", err)
	}
	if len(execution.Drafts) != 1 {
		t.Fatalf("TestTaxWithholdingSalesTax: expected 1 draft, got %d", len(execution.Drafts))
	}
	amounts := draftAmounts(t, execution)
	if amounts["sales_tax"] != 8000 {
		t.Fatalf("TestTaxWithholdingSalesTax: NY sales tax is %d, expected 8000", amounts["sales_tax"])
	}
}

func TestTaxWithholdingCanada(t *testing.T) {
	contract := withholdingContract(t, JurisdictionCA, "")
	at := time.Date(2024, 2, 2, 12, 0, 0, 0, time.UTC)

	payment := testTx(&ledger.PaymentPayload{
		InvoiceID: "inv-1",
		Amount:    100000,
		Currency:  "CAD",
		Method:    "bank_transfer",
	}, at)
	invoice := testTx(&ledger.InvoicePayload{
		ClientID:      "client-1",
		InvoiceNumber: "INV-001",
		Amount:        200000,
		Currency:      "CAD",
	}, at)
	snapshot := testSnapshot(testBlockAt(0, at, payment, invoice))

	execution, err := contract.Execute(snapshot, at)
	if err != nil {
		t.Fatalf("TestTaxWithholdingCanada: %s", err)
	}
	amounts := draftAmounts(t, execution)
	if amounts["federal_income_tax"] != 15000 {
		t.Fatalf("TestTaxWithholdingCanada: federal tax is %d, expected 15000",
			amounts["federal_income_tax"])
	}
	if amounts["provincial_income_tax"] != 10000 {
		t.Fatalf("TestTaxWithholdingCanada: provincial tax is %d, expected 10000",
			amounts["provincial_income_tax"])
	}
	if amounts["gst_hst"] != 10000 {
		t.Fatalf("TestTaxWithholdingCanada: GST/HST is %d, expected 10000", amounts["gst_hst"])
	}
}

func TestNewTaxWithholdingValidation(t *testing.T) {
	if _, err := NewTaxWithholding(TaxWithholdingConfig{Jurisdiction: JurisdictionUS}); err == nil {
		t.Fatalf("TestNewTaxWithholdingValidation: accepted a contract without an ID")
	}
	if _, err := NewTaxWithholding(TaxWithholdingConfig{ContractID: "t", Jurisdiction: "DE"}); err == nil {
		t.Fatalf("TestNewTaxWithholdingValidation: accepted an unknown jurisdiction")
	}
	contract, err := NewTaxWithholding(TaxWithholdingConfig{ContractID: "t", Jurisdiction: JurisdictionUS})
	if err != nil {
		t.Fatalf("TestNewTaxWithholdingValidation: %s", err)
	}
	if contract.cfg.HomeState != "FL" {
		t.Fatalf("TestNewTaxWithholdingValidation: home state did not default to FL, got %q",
			contract.cfg.HomeState)
	}
}

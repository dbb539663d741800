package validation_test

import (
	"testing"

	"github.com/bookchain/bookchaind/domain/ledger"
	"github.com/bookchain/bookchaind/domain/validation"
)

const testTimestampMillis = int64(1706745600000)

func validInvoice() *ledger.InvoicePayload {
	return &ledger.InvoicePayload{
		ClientID:      "client-1",
		InvoiceNumber: "INV-001",
		Amount:        50000,
		Currency:      "USD",
		DueDateMillis: testTimestampMillis + 30*24*3600*1000,
		LineItems: []ledger.LineItem{
			{Description: "development", Quantity: 5, Rate: 10000},
		},
	}
}

func txWith(payload ledger.Payload) *ledger.Transaction {
	return &ledger.Transaction{
		TxKind:          payload.Kind(),
		TimestampMillis: testTimestampMillis,
		Payload:         payload,
	}
}

func emptySnapshot() *ledger.Snapshot {
	prev := ledger.HashData([]byte("genesis"))
	return &ledger.Snapshot{Blocks: []*ledger.Block{{Index: 0, PreviousHash: prev}}}
}

func expectRejection(t *testing.T, testName string, validator ledger.Validator,
	payload ledger.Payload, expectedCode ledger.RejectCode) {

	err := validator.Validate(txWith(payload), emptySnapshot())
	ruleErr, ok := ledger.ExtractRuleError(err)
	if !ok {
		t.Fatalf("%s: expected a RuleError, got %v", testName, err)
	}
	if ruleErr.Code != expectedCode {
		t.Fatalf("%s: expected %s, got %s (%s)",
			testName, expectedCode, ruleErr.Code, ruleErr.Description)
	}
}

func TestAccountingRulesInvoices(t *testing.T) {
	validator := &validation.AccountingRules{}

	if err := validator.Validate(txWith(validInvoice()), emptySnapshot()); err != nil {
		t.Fatalf("TestAccountingRulesInvoices: valid invoice rejected: %s", err)
	}

	tests := []struct {
		name     string
		mutate   func(payload *ledger.InvoicePayload)
		expected ledger.RejectCode
	}{
		{
			name:     "missing client ID",
			mutate:   func(p *ledger.InvoicePayload) { p.ClientID = "" },
			expected: ledger.RejectMissingField,
		},
		{
			name:     "missing due date",
			mutate:   func(p *ledger.InvoicePayload) { p.DueDateMillis = 0 },
			expected: ledger.RejectMissingField,
		},
		{
			name: "negative amount",
			mutate: func(p *ledger.InvoicePayload) {
				p.Amount = -100
				p.LineItems = nil
			},
			expected: ledger.RejectNegativeAmount,
		},
		{
			name:     "unknown currency",
			mutate:   func(p *ledger.InvoicePayload) { p.Currency = "DOGE" },
			expected: ledger.RejectUnknownCurrency,
		},
		{
			name:     "no line items",
			mutate:   func(p *ledger.InvoicePayload) { p.LineItems = nil },
			expected: ledger.RejectMissingField,
		},
		{
			name: "zero quantity line item",
			mutate: func(p *ledger.InvoicePayload) {
				p.LineItems[0].Quantity = 0
			},
			expected: ledger.RejectLineItemMismatch,
		},
		{
			name: "line items do not sum to the amount",
			mutate: func(p *ledger.InvoicePayload) {
				p.Amount = 49000
			},
			expected: ledger.RejectLineItemMismatch,
		},
		{
			name: "due date in the past",
			mutate: func(p *ledger.InvoicePayload) {
				p.DueDateMillis = testTimestampMillis - 1
			},
			expected: ledger.RejectStaleTimestamp,
		},
	}

	for _, test := range tests {
		payload := validInvoice()
		test.mutate(payload)
		expectRejection(t, "TestAccountingRulesInvoices: "+test.name, validator, payload, test.expected)
	}

	// A one-cent rounding difference between the line items and the total is
	// tolerated.
	tolerated := validInvoice()
	tolerated.Amount = 50001
	if err := validator.Validate(txWith(tolerated), emptySnapshot()); err != nil {
		t.Fatalf("TestAccountingRulesInvoices: one-cent difference rejected: %s", err)
	}
}

func TestAccountingRulesOtherKinds(t *testing.T) {
	validator := &validation.AccountingRules{}

	tests := []struct {
		name     string
		payload  ledger.Payload
		expected ledger.RejectCode
	}{
		{
			name: "payment without invoice ID",
			payload: &ledger.PaymentPayload{
				Amount: 100, Currency: "USD", Method: "bank_transfer",
			},
			expected: ledger.RejectMissingField,
		},
		{
			name: "payment with unknown method",
			payload: &ledger.PaymentPayload{
				InvoiceID: "i1", Amount: 100, Currency: "USD", Method: "barter",
			},
			expected: ledger.RejectUnknownPaymentMethod,
		},
		{
			name: "expense with unknown category",
			payload: &ledger.ExpensePayload{
				Amount: 100, Currency: "USD", Category: "gambling",
				Description: "team outing",
			},
			expected: ledger.RejectUnknownCategory,
		},
		{
			name: "expense with a too-short description",
			payload: &ledger.ExpensePayload{
				Amount: 100, Currency: "USD", Category: "software", Description: "x",
			},
			expected: ledger.RejectDescriptionTooShort,
		},
		{
			name: "time entry with a too-short description",
			payload: &ledger.TimeEntryPayload{
				ProjectID: "p1", DurationMinutes: 60, Rate: 10000, Description: "work",
			},
			expected: ledger.RejectDescriptionTooShort,
		},
		{
			name: "credit without a reason",
			payload: &ledger.CreditPayload{
				InvoiceID: "i1", Amount: 100,
			},
			expected: ledger.RejectMissingField,
		},
		{
			name: "refund with a negative amount",
			payload: &ledger.RefundPayload{
				PaymentID: "p1", Amount: -100, Reason: "duplicate charge",
			},
			expected: ledger.RejectNegativeAmount,
		},
		{
			name: "contract event without an action",
			payload: &ledger.ContractEventPayload{
				ContractID: "c1",
			},
			expected: ledger.RejectMissingField,
		},
	}

	for _, test := range tests {
		expectRejection(t, "TestAccountingRulesOtherKinds: "+test.name, validator,
			test.payload, test.expected)
	}

	valid := &ledger.ExpensePayload{
		Amount: 100, Currency: "USD", Category: "software",
		Description: "IDE license",
	}
	if err := validator.Validate(txWith(valid), emptySnapshot()); err != nil {
		t.Fatalf("TestAccountingRulesOtherKinds: valid expense rejected: %s", err)
	}
}

func TestComplianceRules(t *testing.T) {
	validator := &validation.ComplianceRules{}

	// Invoices over $600 need a client tax ID for 1099 reporting.
	large := validInvoice()
	large.Amount = 70000
	large.LineItems = []ledger.LineItem{{Description: "development", Quantity: 7, Rate: 10000}}
	expectRejection(t, "TestComplianceRules: large invoice without tax ID", validator,
		large, ledger.RejectComplianceViolation)

	withTaxID := validInvoice()
	withTaxID.Amount = 70000
	withTaxID.ClientTaxID = "12-3456789"
	if err := validator.Validate(txWith(withTaxID), emptySnapshot()); err != nil {
		t.Fatalf("TestComplianceRules: large invoice with tax ID rejected: %s", err)
	}

	atThreshold := validInvoice()
	atThreshold.Amount = 60000
	if err := validator.Validate(txWith(atThreshold), emptySnapshot()); err != nil {
		t.Fatalf("TestComplianceRules: invoice at exactly $600 rejected: %s", err)
	}

	// Expenses over $75 need a receipt.
	expense := &ledger.ExpensePayload{
		Amount: 10000, Currency: "USD", Category: "software", Description: "annual license",
	}
	expectRejection(t, "TestComplianceRules: large expense without receipt", validator,
		expense, ledger.RejectComplianceViolation)

	expense.ReceiptURL = "https://receipts.example/1234"
	if err := validator.Validate(txWith(expense), emptySnapshot()); err != nil {
		t.Fatalf("TestComplianceRules: large expense with receipt rejected: %s", err)
	}
}

func TestSensitiveDataScan(t *testing.T) {
	validator := &validation.SensitiveDataScan{}

	tests := []struct {
		name    string
		payload ledger.Payload
	}{
		{
			name: "SSN in an invoice memo",
			payload: &ledger.InvoicePayload{
				ClientID: "c1", Amount: 100, Currency: "USD",
				Memo: "client SSN is 123-45-6789",
			},
		},
		{
			name: "card number in a payment memo",
			payload: &ledger.PaymentPayload{
				InvoiceID: "i1", Amount: 100, Currency: "USD", Method: "credit_card",
				Memo: "paid with 4111 1111 1111 1111",
			},
		},
		{
			name: "card number without separators in an expense description",
			payload: &ledger.ExpensePayload{
				Amount: 100, Currency: "USD", Category: "software",
				Description: "card 4111111111111111 was charged",
			},
		},
		{
			name: "SSN in a line item",
			payload: &ledger.InvoicePayload{
				ClientID: "c1", Amount: 100, Currency: "USD",
				LineItems: []ledger.LineItem{
					{Description: "consulting for 987-65-4321", Quantity: 1, Rate: 100},
				},
			},
		},
		{
			name: "SSN in a refund reason",
			payload: &ledger.RefundPayload{
				PaymentID: "p1", Amount: 100, Reason: "identity 123-45-6789 mismatch",
			},
		},
	}

	for _, test := range tests {
		expectRejection(t, "TestSensitiveDataScan: "+test.name, validator,
			test.payload, ledger.RejectSensitiveData)
	}

	clean := &ledger.PaymentPayload{
		InvoiceID: "i1", Amount: 100, Currency: "USD", Method: "check",
		Memo: "check number 1042, cleared 2024-02-03",
	}
	if err := validator.Validate(txWith(clean), emptySnapshot()); err != nil {
		t.Fatalf("TestSensitiveDataScan: clean memo rejected: %s", err)
	}
}

func TestHelpers(t *testing.T) {
	if !validation.IsValidCurrency("USD") || validation.IsValidCurrency("usd") {
		t.Fatalf("TestHelpers: currency check is broken")
	}
	if !validation.IsValidPaymentMethod("crypto") || validation.IsValidPaymentMethod("iou") {
		t.Fatalf("TestHelpers: payment method check is broken")
	}
	if !validation.IsValidExpenseCategory("taxes") || validation.IsValidExpenseCategory("bribes") {
		t.Fatalf("TestHelpers: expense category check is broken")
	}
}

package validation

import (
	"regexp"

	"github.com/bookchain/bookchaind/domain/ledger"
)

// US reporting thresholds, in cents.
const (
	form1099ThresholdCents = 600 * ledger.CentsPerUnit
	receiptThresholdCents  = 75 * ledger.CentsPerUnit
)

// ComplianceRules checks US regulatory requirements: 1099 reporting needs a
// client tax ID on large invoices, and large expenses need a receipt.
type ComplianceRules struct{}

// Name returns the validator's name.
func (v *ComplianceRules) Name() string { return "compliance rules" }

// Validate checks the reporting thresholds.
func (v *ComplianceRules) Validate(tx *ledger.Transaction, _ *ledger.Snapshot) error {
	switch payload := tx.Payload.(type) {
	case *ledger.InvoicePayload:
		if payload.Amount > form1099ThresholdCents && payload.ClientTaxID == "" {
			return ledger.NewRuleError(ledger.RejectComplianceViolation,
				"client tax ID required for invoices over $600 (1099 reporting)")
		}
	case *ledger.ExpensePayload:
		if payload.Amount > receiptThresholdCents && payload.ReceiptURL == "" {
			return ledger.NewRuleError(ledger.RejectComplianceViolation,
				"receipt required for expenses over $75")
		}
	}
	return nil
}

// Patterns for sensitive data that must never land on an immutable chain.
var (
	ssnPattern        = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	creditCardPattern = regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)
)

// SensitiveDataScan rejects transactions whose free-text fields carry PII.
// Blocks are append-only, so a leaked SSN or card number could never be
// scrubbed once sealed.
type SensitiveDataScan struct{}

// Name returns the validator's name.
func (v *SensitiveDataScan) Name() string { return "sensitive data scan" }

// Validate scans the free-text fields of the payload.
func (v *SensitiveDataScan) Validate(tx *ledger.Transaction, _ *ledger.Snapshot) error {
	for _, field := range freeTextFields(tx.Payload) {
		if ssnPattern.MatchString(field.value) {
			return ledger.NewRuleError(ledger.RejectSensitiveData,
				"SSN detected in %s, remove sensitive data", field.name)
		}
		if creditCardPattern.MatchString(field.value) {
			return ledger.NewRuleError(ledger.RejectSensitiveData,
				"credit card number detected in %s, remove sensitive data", field.name)
		}
	}
	return nil
}

type textField struct {
	name  string
	value string
}

func freeTextFields(payload ledger.Payload) []textField {
	switch p := payload.(type) {
	case *ledger.InvoicePayload:
		fields := []textField{{"memo", p.Memo}}
		for _, item := range p.LineItems {
			fields = append(fields, textField{"line item description", item.Description})
		}
		return fields
	case *ledger.PaymentPayload:
		return []textField{{"memo", p.Memo}}
	case *ledger.ExpensePayload:
		return []textField{{"description", p.Description}}
	case *ledger.TimeEntryPayload:
		return []textField{{"description", p.Description}}
	case *ledger.CreditPayload:
		return []textField{{"reason", p.Reason}}
	case *ledger.RefundPayload:
		return []textField{{"reason", p.Reason}}
	default:
		return nil
	}
}

package validation

import (
	"github.com/bookchain/bookchaind/domain/ledger"
)

// AccountingRules checks the structural accounting rules of each transaction
// kind: required fields, positive amounts, known currencies, line item
// totals, payment methods, expense categories and description lengths.
type AccountingRules struct{}

// Name returns the validator's name.
func (v *AccountingRules) Name() string { return "accounting rules" }

// Validate dispatches on the transaction kind.
func (v *AccountingRules) Validate(tx *ledger.Transaction, _ *ledger.Snapshot) error {
	switch payload := tx.Payload.(type) {
	case *ledger.InvoicePayload:
		return v.validateInvoice(tx, payload)
	case *ledger.PaymentPayload:
		return v.validatePayment(payload)
	case *ledger.ExpensePayload:
		return v.validateExpense(payload)
	case *ledger.TimeEntryPayload:
		return v.validateTimeEntry(payload)
	case *ledger.CreditPayload:
		return v.validateCredit(payload)
	case *ledger.RefundPayload:
		return v.validateRefund(payload)
	case *ledger.ContractEventPayload:
		return v.validateContractEvent(payload)
	default:
		return ledger.NewRuleError(ledger.RejectUnknownKind,
			"no accounting rules for transaction kind %s", tx.TxKind)
	}
}

func (v *AccountingRules) validateInvoice(tx *ledger.Transaction, payload *ledger.InvoicePayload) error {
	if payload.ClientID == "" {
		return ledger.NewRuleError(ledger.RejectMissingField, "invoice is missing a client ID")
	}
	if payload.DueDateMillis == 0 {
		return ledger.NewRuleError(ledger.RejectMissingField, "invoice is missing a due date")
	}
	if payload.Amount <= 0 {
		return ledger.NewRuleError(ledger.RejectNegativeAmount,
			"invoice amount must be positive, got %s", payload.Amount)
	}
	if !IsValidCurrency(payload.Currency) {
		return ledger.NewRuleError(ledger.RejectUnknownCurrency,
			"invalid currency: %q", payload.Currency)
	}
	if len(payload.LineItems) == 0 {
		return ledger.NewRuleError(ledger.RejectMissingField,
			"invoice must have at least one line item")
	}

	total := ledger.Amount(0)
	for i, item := range payload.LineItems {
		if item.Quantity == 0 || item.Rate <= 0 {
			return ledger.NewRuleError(ledger.RejectLineItemMismatch,
				"line item %d must have positive quantity and rate", i)
		}
		total += ledger.Amount(int64(item.Quantity)) * item.Rate
	}
	diff := total - payload.Amount
	if diff < 0 {
		diff = -diff
	}
	if diff > lineItemToleranceCents {
		return ledger.NewRuleError(ledger.RejectLineItemMismatch,
			"line items total %s does not match invoice amount %s", total, payload.Amount)
	}

	// The submission timestamp is the validation clock, so the rule stays
	// deterministic when the chain is revalidated later.
	if payload.DueDateMillis < tx.TimestampMillis {
		return ledger.NewRuleError(ledger.RejectStaleTimestamp,
			"invoice due date cannot be in the past")
	}
	return nil
}

func (v *AccountingRules) validatePayment(payload *ledger.PaymentPayload) error {
	if payload.InvoiceID == "" {
		return ledger.NewRuleError(ledger.RejectMissingField, "payment is missing an invoice ID")
	}
	if payload.Amount <= 0 {
		return ledger.NewRuleError(ledger.RejectNegativeAmount,
			"payment amount must be positive, got %s", payload.Amount)
	}
	if !IsValidCurrency(payload.Currency) {
		return ledger.NewRuleError(ledger.RejectUnknownCurrency,
			"invalid currency: %q", payload.Currency)
	}
	if !IsValidPaymentMethod(payload.Method) {
		return ledger.NewRuleError(ledger.RejectUnknownPaymentMethod,
			"invalid payment method: %q", payload.Method)
	}
	return nil
}

func (v *AccountingRules) validateExpense(payload *ledger.ExpensePayload) error {
	if payload.Amount <= 0 {
		return ledger.NewRuleError(ledger.RejectNegativeAmount,
			"expense amount must be positive, got %s", payload.Amount)
	}
	if !IsValidCurrency(payload.Currency) {
		return ledger.NewRuleError(ledger.RejectUnknownCurrency,
			"invalid currency: %q", payload.Currency)
	}
	if !IsValidExpenseCategory(payload.Category) {
		return ledger.NewRuleError(ledger.RejectUnknownCategory,
			"invalid expense category: %q", payload.Category)
	}
	if len(payload.Description) < minExpenseDescriptionLength {
		return ledger.NewRuleError(ledger.RejectDescriptionTooShort,
			"expense description must be at least %d characters", minExpenseDescriptionLength)
	}
	return nil
}

func (v *AccountingRules) validateTimeEntry(payload *ledger.TimeEntryPayload) error {
	if payload.ProjectID == "" {
		return ledger.NewRuleError(ledger.RejectMissingField, "time entry is missing a project ID")
	}
	if payload.DurationMinutes == 0 {
		return ledger.NewRuleError(ledger.RejectNegativeAmount, "time entry duration must be positive")
	}
	if len(payload.Description) < minTimeEntryDescriptionLength {
		return ledger.NewRuleError(ledger.RejectDescriptionTooShort,
			"time entry description must be at least %d characters", minTimeEntryDescriptionLength)
	}
	return nil
}

func (v *AccountingRules) validateCredit(payload *ledger.CreditPayload) error {
	if payload.InvoiceID == "" {
		return ledger.NewRuleError(ledger.RejectMissingField, "credit is missing an invoice ID")
	}
	if payload.Reason == "" {
		return ledger.NewRuleError(ledger.RejectMissingField, "credit is missing a reason")
	}
	if payload.Amount <= 0 {
		return ledger.NewRuleError(ledger.RejectNegativeAmount,
			"credit amount must be positive, got %s", payload.Amount)
	}
	return nil
}

func (v *AccountingRules) validateRefund(payload *ledger.RefundPayload) error {
	if payload.PaymentID == "" {
		return ledger.NewRuleError(ledger.RejectMissingField, "refund is missing a payment ID")
	}
	if payload.Reason == "" {
		return ledger.NewRuleError(ledger.RejectMissingField, "refund is missing a reason")
	}
	if payload.Amount <= 0 {
		return ledger.NewRuleError(ledger.RejectNegativeAmount,
			"refund amount must be positive, got %s", payload.Amount)
	}
	return nil
}

func (v *AccountingRules) validateContractEvent(payload *ledger.ContractEventPayload) error {
	if payload.ContractID == "" {
		return ledger.NewRuleError(ledger.RejectMissingField, "contract event is missing a contract ID")
	}
	if payload.Action == "" {
		return ledger.NewRuleError(ledger.RejectMissingField, "contract event is missing an action")
	}
	return nil
}

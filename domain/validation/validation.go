// Package validation holds the standard set of accounting rules every
// transaction must satisfy before it is admitted to the pending pool.
package validation

import (
	"github.com/bookchain/bookchaind/domain/ledger"
)

// Currencies accepted on the ledger.
var validCurrencies = map[string]struct{}{
	"USD": {},
	"CAD": {},
	"EUR": {},
	"GBP": {},
	"AUD": {},
}

// Payment methods accepted on payment transactions.
var validPaymentMethods = map[string]struct{}{
	"credit_card":   {},
	"debit_card":    {},
	"bank_transfer": {},
	"check":         {},
	"cash":          {},
	"crypto":        {},
}

// Expense categories accepted on expense transactions.
var validExpenseCategories = map[string]struct{}{
	"office_supplies":       {},
	"travel":                {},
	"meals":                 {},
	"entertainment":         {},
	"utilities":             {},
	"rent":                  {},
	"insurance":             {},
	"professional_services": {},
	"software":              {},
	"hardware":              {},
	"marketing":             {},
	"taxes":                 {},
	"other":                 {},
}

// lineItemToleranceCents is the rounding slack allowed between an invoice's
// amount and the sum of its line items.
const lineItemToleranceCents = 1

// Minimum description lengths.
const (
	minExpenseDescriptionLength   = 3
	minTimeEntryDescriptionLength = 10
)

// StandardSet returns the validators every node runs, in the order they are
// meant to be registered: structural accounting rules first, then regulatory
// compliance, then the sensitive data scan.
func StandardSet() []ledger.Validator {
	return []ledger.Validator{
		&AccountingRules{},
		&ComplianceRules{},
		&SensitiveDataScan{},
	}
}

// IsValidCurrency returns whether the ledger accepts the given currency code.
func IsValidCurrency(currency string) bool {
	_, ok := validCurrencies[currency]
	return ok
}

// IsValidPaymentMethod returns whether the ledger accepts the given payment
// method.
func IsValidPaymentMethod(method string) bool {
	_, ok := validPaymentMethods[method]
	return ok
}

// IsValidExpenseCategory returns whether the ledger accepts the given expense
// category.
func IsValidExpenseCategory(category string) bool {
	_, ok := validExpenseCategories[category]
	return ok
}

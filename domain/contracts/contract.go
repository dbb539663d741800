// Package contracts implements the smart-contract engine that automates
// recurring invoices, tax withholding, audit enforcement and payment terms on
// top of the ledger. Contracts are deterministic: they derive all state from
// chain snapshots and the persisted block's timestamp, so a replayed chain
// reproduces the same triggers.
package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bookchain/bookchaind/domain/ledger"
)

// Kind identifies a contract variant. The set is closed: contract code ships
// with the node, only parameters live in the registry.
type Kind uint8

// Contract kinds.
const (
	KindRecurringInvoice Kind = iota + 1
	KindTaxWithholding
	KindAuditEnforcement
	KindPaymentTerms
)

var kindStrings = map[Kind]string{
	KindRecurringInvoice: "recurring_invoice",
	KindTaxWithholding:   "tax_withholding",
	KindAuditEnforcement: "audit_enforcement",
	KindPaymentTerms:     "payment_terms",
}

// String returns the Kind as a human-readable name.
func (kind Kind) String() string {
	if s, ok := kindStrings[kind]; ok {
		return s
	}
	return fmt.Sprintf("unknown kind (%d)", uint8(kind))
}

// Execution is the outcome of a contract trigger: the drafts to submit plus
// the action name and detail recorded in the trigger's ContractEvent.
type Execution struct {
	Action string
	Detail string
	Drafts []ledger.Draft
}

// Contract is a registered automation. ShouldTrigger and Execute receive a
// chain snapshot and the engine's deterministic clock (the persisted block's
// timestamp) and must not consult any other time source.
type Contract interface {
	ID() string
	Kind() Kind
	ShouldTrigger(snapshot *ledger.Snapshot, now time.Time) bool
	Execute(snapshot *ledger.Snapshot, now time.Time) (*Execution, error)
}

// persistable is implemented by every contract variant so the registry can
// store and restore its parameters.
type persistable interface {
	Contract
	configJSON() (json.RawMessage, error)
}

func timeToMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

func millisToTime(millis int64) time.Time {
	return time.Unix(0, millis*int64(time.Millisecond)).UTC()
}

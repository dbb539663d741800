package contracts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bookchain/bookchaind/domain/ledger"
	"github.com/pkg/errors"
)

// PaymentTermsConfig parameterizes a PaymentTerms contract.
type PaymentTermsConfig struct {
	ContractID string `json:"contractId"`

	// GraceDays is how long past the due date an invoice may sit before a
	// late fee is assessed.
	GraceDays int `json:"graceDays,omitempty"`

	// LateFeeBasisPoints is the late fee as a fraction of the invoice
	// amount. Zero disables late fees.
	LateFeeBasisPoints int64 `json:"lateFeeBasisPoints,omitempty"`

	// ReminderDaysBefore and ReminderDaysAfter schedule payment reminders
	// relative to the due date.
	ReminderDaysBefore []int `json:"reminderDaysBefore,omitempty"`
	ReminderDaysAfter  []int `json:"reminderDaysAfter,omitempty"`
}

// PaymentTerms tracks sealed invoices toward their due dates. Past the grace
// period an unpaid invoice is assessed a late-fee invoice, and reminders
// falling due between the previous block and the current one are recorded so
// the outbox can deliver them. Each block advances the reminder window, so a
// reminder fires exactly once.
type PaymentTerms struct {
	cfg PaymentTermsConfig
}

// NewPaymentTerms validates the config and returns the contract.
func NewPaymentTerms(cfg PaymentTermsConfig) (*PaymentTerms, error) {
	if cfg.ContractID == "" {
		return nil, errors.New("payment terms contract needs an ID")
	}
	if cfg.GraceDays < 0 {
		return nil, errors.Errorf("grace days must not be negative, got %d", cfg.GraceDays)
	}
	if cfg.LateFeeBasisPoints < 0 {
		return nil, errors.Errorf("late fee must not be negative, got %d basis points",
			cfg.LateFeeBasisPoints)
	}
	if len(cfg.ReminderDaysBefore) == 0 && len(cfg.ReminderDaysAfter) == 0 {
		cfg.ReminderDaysBefore = []int{14, 7, 3, 1}
		cfg.ReminderDaysAfter = []int{1, 7}
	}
	return &PaymentTerms{cfg: cfg}, nil
}

func paymentTermsFromConfig(data json.RawMessage) (*PaymentTerms, error) {
	cfg := PaymentTermsConfig{}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "malformed payment terms config")
	}
	return NewPaymentTerms(cfg)
}

// ID returns the contract ID.
func (c *PaymentTerms) ID() string { return c.cfg.ContractID }

// Kind returns KindPaymentTerms.
func (c *PaymentTerms) Kind() Kind { return KindPaymentTerms }

func (c *PaymentTerms) configJSON() (json.RawMessage, error) {
	data, err := json.Marshal(c.cfg)
	return data, errors.WithStack(err)
}

// openInvoice is a sealed invoice with its settlement state.
type openInvoice struct {
	tx      *ledger.Transaction
	payload *ledger.InvoicePayload
	id      *ledger.Hash
	paid    bool
	feed    bool
}

// openInvoices collects sealed invoices with their payment and late-fee
// state. Late-fee invoices themselves are excluded; a late fee does not
// compound.
func (c *PaymentTerms) openInvoices(snapshot *ledger.Snapshot) ([]*openInvoice, error) {
	paidInvoices := make(map[string]struct{})
	lateFeed := make(map[string]struct{})
	mark := func(tx *ledger.Transaction) {
		switch payload := tx.Payload.(type) {
		case *ledger.PaymentPayload:
			paidInvoices[payload.InvoiceID] = struct{}{}
		case *ledger.InvoicePayload:
			if payload.SourceInvoiceID != "" {
				lateFeed[payload.SourceInvoiceID] = struct{}{}
			}
		}
	}
	for _, block := range snapshot.Blocks {
		for _, tx := range block.Transactions {
			mark(tx)
		}
	}
	for _, tx := range snapshot.Pending {
		mark(tx)
	}

	var invoices []*openInvoice
	for _, block := range snapshot.Blocks {
		for _, tx := range block.Transactions {
			payload, ok := tx.Payload.(*ledger.InvoicePayload)
			if !ok || payload.SourceInvoiceID != "" {
				continue
			}
			id, err := tx.ID()
			if err != nil {
				return nil, err
			}
			_, paid := paidInvoices[id.String()]
			_, feed := lateFeed[id.String()]
			invoices = append(invoices, &openInvoice{
				tx:      tx,
				payload: payload,
				id:      id,
				paid:    paid,
				feed:    feed,
			})
		}
	}
	return invoices, nil
}

// reminderWindow is the half-open interval (previous block time, tip block
// time] this pass is responsible for.
func reminderWindow(snapshot *ledger.Snapshot) (start, end time.Time) {
	tip := snapshot.Tip()
	end = millisToTime(tip.TimestampMillis)
	if len(snapshot.Blocks) < 2 {
		return millisToTime(0), end
	}
	previous := snapshot.Blocks[len(snapshot.Blocks)-2]
	return millisToTime(previous.TimestampMillis), end
}

func (c *PaymentTerms) remindersDue(invoice *openInvoice, windowStart, windowEnd time.Time) []string {
	if invoice.paid {
		return nil
	}
	dueDate := millisToTime(invoice.payload.DueDateMillis)

	var reminders []string
	check := func(reminderDate time.Time, label string) {
		if reminderDate.After(windowStart) && !reminderDate.After(windowEnd) {
			reminders = append(reminders, fmt.Sprintf("%s reminder for invoice %s (due %s)",
				label, invoice.payload.InvoiceNumber, dueDate.Format("2006-01-02")))
		}
	}
	daysBefore := append([]int(nil), c.cfg.ReminderDaysBefore...)
	sort.Sort(sort.Reverse(sort.IntSlice(daysBefore)))
	for _, days := range daysBefore {
		check(dueDate.AddDate(0, 0, -days), "upcoming")
	}
	daysAfter := append([]int(nil), c.cfg.ReminderDaysAfter...)
	sort.Ints(daysAfter)
	for _, days := range daysAfter {
		check(dueDate.AddDate(0, 0, days), "overdue")
	}
	return reminders
}

func (c *PaymentTerms) lateFeeDue(invoice *openInvoice, now time.Time) bool {
	if c.cfg.LateFeeBasisPoints == 0 || invoice.paid || invoice.feed {
		return false
	}
	deadline := millisToTime(invoice.payload.DueDateMillis).AddDate(0, 0, c.cfg.GraceDays)
	return now.After(deadline)
}

// ShouldTrigger reports whether any invoice owes a late fee or a reminder in
// this pass's window.
func (c *PaymentTerms) ShouldTrigger(snapshot *ledger.Snapshot, now time.Time) bool {
	invoices, err := c.openInvoices(snapshot)
	if err != nil {
		return false
	}
	windowStart, windowEnd := reminderWindow(snapshot)
	for _, invoice := range invoices {
		if c.lateFeeDue(invoice, now) {
			return true
		}
		if len(c.remindersDue(invoice, windowStart, windowEnd)) > 0 {
			return true
		}
	}
	return false
}

// Execute assesses due late fees as new invoices referencing the overdue one
// and records the reminders due in this pass's window.
func (c *PaymentTerms) Execute(snapshot *ledger.Snapshot, now time.Time) (*Execution, error) {
	invoices, err := c.openInvoices(snapshot)
	if err != nil {
		return nil, err
	}
	windowStart, windowEnd := reminderWindow(snapshot)

	var drafts []ledger.Draft
	var notes []string
	for _, invoice := range invoices {
		if c.lateFeeDue(invoice, now) {
			fee := invoice.payload.Amount.MulBasisPoints(c.cfg.LateFeeBasisPoints)
			if fee > 0 {
				drafts = append(drafts, ledger.Draft{
					Kind: ledger.KindInvoice,
					Payload: &ledger.InvoicePayload{
						ClientID:      invoice.payload.ClientID,
						ClientTaxID:   invoice.payload.ClientTaxID,
						InvoiceNumber: invoice.payload.InvoiceNumber + "-LATE",
						Amount:        fee,
						Currency:      invoice.payload.Currency,
						DueDateMillis: timeToMillis(now.AddDate(0, 0, 30)),
						LineItems: []ledger.LineItem{{
							Description: fmt.Sprintf("late payment fee for invoice %s", invoice.payload.InvoiceNumber),
							Quantity:    1,
							Rate:        fee,
						}},
						SourceInvoiceID: invoice.id.String(),
						ClientState:     invoice.payload.ClientState,
					},
				})
				notes = append(notes, fmt.Sprintf("late fee %s assessed on invoice %s",
					fee, invoice.payload.InvoiceNumber))
			}
		}
		notes = append(notes, c.remindersDue(invoice, windowStart, windowEnd)...)
	}

	return &Execution{
		Action: "enforce_payment_terms",
		Detail: strings.Join(notes, "; "),
		Drafts: drafts,
	}, nil
}

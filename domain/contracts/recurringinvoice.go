package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bookchain/bookchaind/domain/ledger"
	"github.com/pkg/errors"
)

// Frequency is how often a recurring invoice is generated.
type Frequency string

// Supported frequencies. Monthly, quarterly and yearly advance by calendar
// units, so an invoice due on the 1st stays on the 1st.
const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

func (f Frequency) isValid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	}
	return false
}

// advance returns the trigger time following t.
func (f Frequency) advance(t time.Time) time.Time {
	switch f {
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyBiweekly:
		return t.AddDate(0, 0, 14)
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	case FrequencyQuarterly:
		return t.AddDate(0, 3, 0)
	default:
		return t.AddDate(1, 0, 0)
	}
}

// RecurringInvoiceConfig parameterizes a RecurringInvoice contract.
type RecurringInvoiceConfig struct {
	RuleID           string            `json:"ruleId"`
	ClientID         string            `json:"clientId"`
	ClientTaxID      string            `json:"clientTaxId,omitempty"`
	Amount           ledger.Amount     `json:"amount"`
	Currency         string            `json:"currency"`
	Frequency        Frequency         `json:"frequency"`
	StartMillis      int64             `json:"startMillis"`
	EndMillis        int64             `json:"endMillis,omitempty"`
	PaymentTermsDays int               `json:"paymentTermsDays"`
	LineItems        []ledger.LineItem `json:"lineItems"`
	CollectSalesTax  bool              `json:"collectSalesTax,omitempty"`
	ClientState      string            `json:"clientState,omitempty"`
}

// RecurringInvoice generates an invoice draft whenever the chain clock passes
// the rule's next due time. The last generation time is derived from the
// chain itself (the newest invoice carrying this rule's ID, sealed or
// pending), so a restarted or replayed node reaches the same decisions.
type RecurringInvoice struct {
	cfg RecurringInvoiceConfig
}

// NewRecurringInvoice validates the config and returns the contract.
func NewRecurringInvoice(cfg RecurringInvoiceConfig) (*RecurringInvoice, error) {
	if cfg.RuleID == "" {
		return nil, errors.New("recurring invoice rule needs a rule ID")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("recurring invoice rule needs a client ID")
	}
	if cfg.Amount <= 0 {
		return nil, errors.Errorf("recurring invoice amount must be positive, got %s", cfg.Amount)
	}
	if !cfg.Frequency.isValid() {
		return nil, errors.Errorf("unknown frequency %q", cfg.Frequency)
	}
	if cfg.StartMillis == 0 {
		return nil, errors.New("recurring invoice rule needs a start time")
	}
	if cfg.PaymentTermsDays <= 0 {
		cfg.PaymentTermsDays = 30
	}
	if len(cfg.LineItems) == 0 {
		return nil, errors.New("recurring invoice rule needs at least one line item")
	}
	return &RecurringInvoice{cfg: cfg}, nil
}

func recurringInvoiceFromConfig(data json.RawMessage) (*RecurringInvoice, error) {
	cfg := RecurringInvoiceConfig{}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "malformed recurring invoice config")
	}
	return NewRecurringInvoice(cfg)
}

// ID returns the rule ID.
func (c *RecurringInvoice) ID() string { return c.cfg.RuleID }

// Kind returns KindRecurringInvoice.
func (c *RecurringInvoice) Kind() Kind { return KindRecurringInvoice }

func (c *RecurringInvoice) configJSON() (json.RawMessage, error) {
	data, err := json.Marshal(c.cfg)
	return data, errors.WithStack(err)
}

// nextDue returns when the rule next generates an invoice, given the chain
// and pool state.
func (c *RecurringInvoice) nextDue(snapshot *ledger.Snapshot) time.Time {
	lastGenerated := int64(0)
	scan := func(tx *ledger.Transaction) {
		payload, ok := tx.Payload.(*ledger.InvoicePayload)
		if !ok || payload.RecurringRuleID != c.cfg.RuleID {
			return
		}
		if tx.TimestampMillis > lastGenerated {
			lastGenerated = tx.TimestampMillis
		}
	}
	for _, block := range snapshot.Blocks {
		for _, tx := range block.Transactions {
			scan(tx)
		}
	}
	for _, tx := range snapshot.Pending {
		scan(tx)
	}

	if lastGenerated == 0 {
		return millisToTime(c.cfg.StartMillis)
	}
	return c.cfg.Frequency.advance(millisToTime(lastGenerated))
}

// ShouldTrigger reports whether an invoice is due.
func (c *RecurringInvoice) ShouldTrigger(snapshot *ledger.Snapshot, now time.Time) bool {
	if now.Before(millisToTime(c.cfg.StartMillis)) {
		return false
	}
	if c.cfg.EndMillis != 0 && now.After(millisToTime(c.cfg.EndMillis)) {
		return false
	}
	return !now.Before(c.nextDue(snapshot))
}

// Execute produces the due invoice draft.
func (c *RecurringInvoice) Execute(snapshot *ledger.Snapshot, now time.Time) (*Execution, error) {
	ruleSuffix := c.cfg.RuleID
	if len(ruleSuffix) > 6 {
		ruleSuffix = ruleSuffix[len(ruleSuffix)-6:]
	}
	invoiceNumber := fmt.Sprintf("INV-%s-%s", now.Format("20060102"), ruleSuffix)
	dueDate := now.AddDate(0, 0, c.cfg.PaymentTermsDays)

	draft := ledger.Draft{
		Kind: ledger.KindInvoice,
		Payload: &ledger.InvoicePayload{
			ClientID:        c.cfg.ClientID,
			ClientTaxID:     c.cfg.ClientTaxID,
			InvoiceNumber:   invoiceNumber,
			Amount:          c.cfg.Amount,
			Currency:        c.cfg.Currency,
			DueDateMillis:   timeToMillis(dueDate),
			LineItems:       c.cfg.LineItems,
			RecurringRuleID: c.cfg.RuleID,
			CollectSalesTax: c.cfg.CollectSalesTax,
			ClientState:     c.cfg.ClientState,
		},
	}
	return &Execution{
		Action: "generate_invoice",
		Detail: fmt.Sprintf("generated %s for client %s, due %s",
			invoiceNumber, c.cfg.ClientID, dueDate.Format("2006-01-02")),
		Drafts: []ledger.Draft{draft},
	}, nil
}

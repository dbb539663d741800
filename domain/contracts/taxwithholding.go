package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bookchain/bookchaind/domain/ledger"
	"github.com/pkg/errors"
)

// taxCategory is the expense category withholding drafts are filed under.
const taxCategory = "taxes"

// Jurisdictions with rate tables.
const (
	JurisdictionUS = "US"
	JurisdictionCA = "CA"
)

// US rates in basis points.
const (
	usSelfEmploymentBP   = 1530 // 15.3% Social Security + Medicare
	usEstimatedFederalBP = 2500 // 25% estimated income tax
)

var usStateIncomeBP = map[string]int64{
	"FL": 0,
	"CA": 930,
	"NY": 685,
}

var usSalesTaxBP = map[string]int64{
	"FL": 600,
	"CA": 725,
	"NY": 800,
}

// Canadian rates in basis points.
const (
	caFederalBP    = 1500
	caProvincialBP = 1000
	caGSTBP        = 500
)

// TaxWithholdingConfig parameterizes a TaxWithholding contract.
type TaxWithholdingConfig struct {
	ContractID   string `json:"contractId"`
	Jurisdiction string `json:"jurisdiction"`
	HomeState    string `json:"homeState,omitempty"`
}

// TaxWithholding watches for sealed payments and sales-taxable invoices and
// files withholding drafts as tax expenses referencing the source
// transaction. All arithmetic is integer basis points rounded half up, so a
// replay computes identical amounts.
type TaxWithholding struct {
	cfg TaxWithholdingConfig
}

// NewTaxWithholding validates the config and returns the contract.
func NewTaxWithholding(cfg TaxWithholdingConfig) (*TaxWithholding, error) {
	if cfg.ContractID == "" {
		return nil, errors.New("tax withholding contract needs an ID")
	}
	if cfg.Jurisdiction != JurisdictionUS && cfg.Jurisdiction != JurisdictionCA {
		return nil, errors.Errorf("unknown jurisdiction %q", cfg.Jurisdiction)
	}
	if cfg.Jurisdiction == JurisdictionUS && cfg.HomeState == "" {
		cfg.HomeState = "FL"
	}
	return &TaxWithholding{cfg: cfg}, nil
}

func taxWithholdingFromConfig(data json.RawMessage) (*TaxWithholding, error) {
	cfg := TaxWithholdingConfig{}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "malformed tax withholding config")
	}
	return NewTaxWithholding(cfg)
}

// ID returns the contract ID.
func (c *TaxWithholding) ID() string { return c.cfg.ContractID }

// Kind returns KindTaxWithholding.
func (c *TaxWithholding) Kind() Kind { return KindTaxWithholding }

func (c *TaxWithholding) configJSON() (json.RawMessage, error) {
	data, err := json.Marshal(c.cfg)
	return data, errors.WithStack(err)
}

// withholdingComponent is a single computed tax line.
type withholdingComponent struct {
	name   string
	amount ledger.Amount
}

// unprocessedSources returns the sealed transactions that owe withholding and
// have no tax expense referencing them yet, in chain order.
func (c *TaxWithholding) unprocessedSources(snapshot *ledger.Snapshot) ([]*ledger.Transaction, error) {
	withheld := make(map[string]struct{})
	collect := func(tx *ledger.Transaction) {
		payload, ok := tx.Payload.(*ledger.ExpensePayload)
		if ok && payload.Category == taxCategory && payload.SourceTxID != "" {
			withheld[payload.SourceTxID] = struct{}{}
		}
	}
	for _, block := range snapshot.Blocks {
		for _, tx := range block.Transactions {
			collect(tx)
		}
	}
	for _, tx := range snapshot.Pending {
		collect(tx)
	}

	var sources []*ledger.Transaction
	for _, block := range snapshot.Blocks {
		for _, tx := range block.Transactions {
			if len(c.componentsFor(tx)) == 0 {
				continue
			}
			id, err := tx.ID()
			if err != nil {
				return nil, err
			}
			if _, done := withheld[id.String()]; done {
				continue
			}
			sources = append(sources, tx)
		}
	}
	return sources, nil
}

// componentsFor computes the withholding lines owed for a transaction.
// An empty result means the transaction owes nothing.
func (c *TaxWithholding) componentsFor(tx *ledger.Transaction) []withholdingComponent {
	switch payload := tx.Payload.(type) {
	case *ledger.PaymentPayload:
		return c.paymentComponents(payload)
	case *ledger.InvoicePayload:
		return c.invoiceComponents(payload)
	default:
		return nil
	}
}

func (c *TaxWithholding) paymentComponents(payload *ledger.PaymentPayload) []withholdingComponent {
	var components []withholdingComponent
	if c.cfg.Jurisdiction == JurisdictionUS {
		components = append(components,
			withholdingComponent{"self_employment_tax", payload.Amount.MulBasisPoints(usSelfEmploymentBP)},
			withholdingComponent{"federal_income_tax", payload.Amount.MulBasisPoints(usEstimatedFederalBP)})
		state := payload.State
		if state == "" {
			state = c.cfg.HomeState
		}
		if rate := usStateIncomeBP[state]; rate > 0 {
			components = append(components,
				withholdingComponent{"state_income_tax", payload.Amount.MulBasisPoints(rate)})
		}
		return components
	}
	return append(components,
		withholdingComponent{"federal_income_tax", payload.Amount.MulBasisPoints(caFederalBP)},
		withholdingComponent{"provincial_income_tax", payload.Amount.MulBasisPoints(caProvincialBP)})
}

func (c *TaxWithholding) invoiceComponents(payload *ledger.InvoicePayload) []withholdingComponent {
	if c.cfg.Jurisdiction == JurisdictionUS {
		if !payload.CollectSalesTax {
			return nil
		}
		state := payload.ClientState
		if state == "" {
			state = c.cfg.HomeState
		}
		rate := usSalesTaxBP[state]
		if rate == 0 {
			return nil
		}
		return []withholdingComponent{{"sales_tax", payload.Amount.MulBasisPoints(rate)}}
	}
	return []withholdingComponent{{"gst_hst", payload.Amount.MulBasisPoints(caGSTBP)}}
}

// ShouldTrigger reports whether any sealed transaction still owes
// withholding.
func (c *TaxWithholding) ShouldTrigger(snapshot *ledger.Snapshot, _ time.Time) bool {
	sources, err := c.unprocessedSources(snapshot)
	return err == nil && len(sources) > 0
}

// Execute files one tax expense draft per withholding component of every
// unprocessed source transaction.
func (c *TaxWithholding) Execute(snapshot *ledger.Snapshot, _ time.Time) (*Execution, error) {
	sources, err := c.unprocessedSources(snapshot)
	if err != nil {
		return nil, err
	}

	var drafts []ledger.Draft
	totalWithheld := ledger.Amount(0)
	for _, source := range sources {
		sourceID, err := source.ID()
		if err != nil {
			return nil, err
		}
		currency := sourceCurrency(source)
		for _, component := range c.componentsFor(source) {
			if component.amount <= 0 {
				continue
			}
			totalWithheld += component.amount
			drafts = append(drafts, ledger.Draft{
				Kind: ledger.KindExpense,
				Payload: &ledger.ExpensePayload{
					Amount:      component.amount,
					Currency:    currency,
					Category:    taxCategory,
					Description: fmt.Sprintf("%s withheld for %s %s", component.name, source.TxKind, sourceID),
					SourceTxID:  sourceID.String(),
				},
			})
		}
	}

	return &Execution{
		Action: "withhold_taxes",
		Detail: fmt.Sprintf("withheld %s across %d transactions in jurisdiction %s",
			totalWithheld, len(sources), c.cfg.Jurisdiction),
		Drafts: drafts,
	}, nil
}

func sourceCurrency(tx *ledger.Transaction) string {
	switch payload := tx.Payload.(type) {
	case *ledger.PaymentPayload:
		return payload.Currency
	case *ledger.InvoicePayload:
		return payload.Currency
	default:
		return "USD"
	}
}

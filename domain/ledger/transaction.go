package ledger

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// TxKind is the type of financial event a transaction records.
type TxKind uint8

// Transaction kinds. The wire values are part of the canonical encoding and
// must not be reordered.
const (
	KindGenesis TxKind = iota
	KindInvoice
	KindPayment
	KindExpense
	KindTimeEntry
	KindCredit
	KindRefund
	KindContractEvent
)

var kindStrings = map[TxKind]string{
	KindGenesis:       "genesis",
	KindInvoice:       "invoice",
	KindPayment:       "payment",
	KindExpense:       "expense",
	KindTimeEntry:     "time_entry",
	KindCredit:        "credit",
	KindRefund:        "refund",
	KindContractEvent: "contract_event",
}

// String returns the TxKind as a human-readable name.
func (kind TxKind) String() string {
	if s, ok := kindStrings[kind]; ok {
		return s
	}
	return fmt.Sprintf("unknown kind (%d)", uint8(kind))
}

// Cryptographic material sizes, fixed by the Schnorr scheme in use.
const (
	PublicKeySize = 32
	SignatureSize = 64
)

// Payload is the kind-specific content of a transaction. Payloads serialize
// canonically so that the same payload always produces the same bytes.
type Payload interface {
	Kind() TxKind
	serialize(w io.Writer) error
	deserialize(r io.Reader) error
}

// LineItem is a single billable line on an invoice.
type LineItem struct {
	Description string
	Quantity    uint64
	Rate        Amount
}

// GenesisPayload is the payload of the single transaction inside the genesis
// block.
type GenesisPayload struct {
	Message string
}

// Kind returns KindGenesis.
func (p *GenesisPayload) Kind() TxKind { return KindGenesis }

func (p *GenesisPayload) serialize(w io.Writer) error {
	return writeString(w, p.Message)
}

func (p *GenesisPayload) deserialize(r io.Reader) (err error) {
	p.Message, err = readString(r)
	return err
}

// InvoicePayload records an invoice issued to a client.
type InvoicePayload struct {
	ClientID        string
	InvoiceNumber   string
	Amount          Amount
	Currency        string
	DueDateMillis   int64
	LineItems       []LineItem
	RecurringRuleID string
	SourceInvoiceID string
	CollectSalesTax bool
	ClientState     string
	ClientTaxID     string
	Memo            string
}

// Kind returns KindInvoice.
func (p *InvoicePayload) Kind() TxKind { return KindInvoice }

func (p *InvoicePayload) serialize(w io.Writer) error {
	if err := writeString(w, p.ClientID); err != nil {
		return err
	}
	if err := writeString(w, p.InvoiceNumber); err != nil {
		return err
	}
	if err := writeAmount(w, p.Amount); err != nil {
		return err
	}
	if err := writeString(w, p.Currency); err != nil {
		return err
	}
	if err := writeInt64(w, p.DueDateMillis); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(len(p.LineItems))); err != nil {
		return err
	}
	for _, item := range p.LineItems {
		if err := writeString(w, item.Description); err != nil {
			return err
		}
		if err := writeUint64(w, item.Quantity); err != nil {
			return err
		}
		if err := writeAmount(w, item.Rate); err != nil {
			return err
		}
	}
	if err := writeString(w, p.RecurringRuleID); err != nil {
		return err
	}
	if err := writeString(w, p.SourceInvoiceID); err != nil {
		return err
	}
	if err := writeBool(w, p.CollectSalesTax); err != nil {
		return err
	}
	if err := writeString(w, p.ClientState); err != nil {
		return err
	}
	if err := writeString(w, p.ClientTaxID); err != nil {
		return err
	}
	return writeString(w, p.Memo)
}

func (p *InvoicePayload) deserialize(r io.Reader) (err error) {
	if p.ClientID, err = readString(r); err != nil {
		return err
	}
	if p.InvoiceNumber, err = readString(r); err != nil {
		return err
	}
	if p.Amount, err = readAmount(r); err != nil {
		return err
	}
	if p.Currency, err = readString(r); err != nil {
		return err
	}
	if p.DueDateMillis, err = readInt64(r); err != nil {
		return err
	}
	itemCount, err := readUint64(r)
	if err != nil {
		return err
	}
	if itemCount > maxStringLength {
		return errors.Errorf("line item count %d exceeds the maximum of %d",
			itemCount, maxStringLength)
	}
	p.LineItems = make([]LineItem, itemCount)
	for i := range p.LineItems {
		if p.LineItems[i].Description, err = readString(r); err != nil {
			return err
		}
		if p.LineItems[i].Quantity, err = readUint64(r); err != nil {
			return err
		}
		if p.LineItems[i].Rate, err = readAmount(r); err != nil {
			return err
		}
	}
	if p.RecurringRuleID, err = readString(r); err != nil {
		return err
	}
	if p.SourceInvoiceID, err = readString(r); err != nil {
		return err
	}
	if p.CollectSalesTax, err = readBool(r); err != nil {
		return err
	}
	if p.ClientState, err = readString(r); err != nil {
		return err
	}
	if p.ClientTaxID, err = readString(r); err != nil {
		return err
	}
	p.Memo, err = readString(r)
	return err
}

// PaymentPayload records a payment received against an invoice.
type PaymentPayload struct {
	InvoiceID string
	Amount    Amount
	Currency  string
	Method    string
	State     string
	Memo      string
}

// Kind returns KindPayment.
func (p *PaymentPayload) Kind() TxKind { return KindPayment }

func (p *PaymentPayload) serialize(w io.Writer) error {
	if err := writeString(w, p.InvoiceID); err != nil {
		return err
	}
	if err := writeAmount(w, p.Amount); err != nil {
		return err
	}
	if err := writeString(w, p.Currency); err != nil {
		return err
	}
	if err := writeString(w, p.Method); err != nil {
		return err
	}
	if err := writeString(w, p.State); err != nil {
		return err
	}
	return writeString(w, p.Memo)
}

func (p *PaymentPayload) deserialize(r io.Reader) (err error) {
	if p.InvoiceID, err = readString(r); err != nil {
		return err
	}
	if p.Amount, err = readAmount(r); err != nil {
		return err
	}
	if p.Currency, err = readString(r); err != nil {
		return err
	}
	if p.Method, err = readString(r); err != nil {
		return err
	}
	if p.State, err = readString(r); err != nil {
		return err
	}
	p.Memo, err = readString(r)
	return err
}

// ExpensePayload records a business expense. Tax withholdings produced by the
// withholding contract are recorded as expenses in the "taxes" category with
// SourceTxID referencing the transaction they were computed from.
type ExpensePayload struct {
	Amount      Amount
	Currency    string
	Category    string
	Description string
	ReceiptURL  string
	SourceTxID  string
}

// Kind returns KindExpense.
func (p *ExpensePayload) Kind() TxKind { return KindExpense }

func (p *ExpensePayload) serialize(w io.Writer) error {
	if err := writeAmount(w, p.Amount); err != nil {
		return err
	}
	if err := writeString(w, p.Currency); err != nil {
		return err
	}
	if err := writeString(w, p.Category); err != nil {
		return err
	}
	if err := writeString(w, p.Description); err != nil {
		return err
	}
	if err := writeString(w, p.ReceiptURL); err != nil {
		return err
	}
	return writeString(w, p.SourceTxID)
}

func (p *ExpensePayload) deserialize(r io.Reader) (err error) {
	if p.Amount, err = readAmount(r); err != nil {
		return err
	}
	if p.Currency, err = readString(r); err != nil {
		return err
	}
	if p.Category, err = readString(r); err != nil {
		return err
	}
	if p.Description, err = readString(r); err != nil {
		return err
	}
	if p.ReceiptURL, err = readString(r); err != nil {
		return err
	}
	p.SourceTxID, err = readString(r)
	return err
}

// TimeEntryPayload records billable time against a project.
type TimeEntryPayload struct {
	ProjectID       string
	DurationMinutes uint64
	Rate            Amount
	Description     string
}

// Kind returns KindTimeEntry.
func (p *TimeEntryPayload) Kind() TxKind { return KindTimeEntry }

func (p *TimeEntryPayload) serialize(w io.Writer) error {
	if err := writeString(w, p.ProjectID); err != nil {
		return err
	}
	if err := writeUint64(w, p.DurationMinutes); err != nil {
		return err
	}
	if err := writeAmount(w, p.Rate); err != nil {
		return err
	}
	return writeString(w, p.Description)
}

func (p *TimeEntryPayload) deserialize(r io.Reader) (err error) {
	if p.ProjectID, err = readString(r); err != nil {
		return err
	}
	if p.DurationMinutes, err = readUint64(r); err != nil {
		return err
	}
	if p.Rate, err = readAmount(r); err != nil {
		return err
	}
	p.Description, err = readString(r)
	return err
}

// CreditPayload records a credit issued against an invoice.
type CreditPayload struct {
	InvoiceID string
	Amount    Amount
	Reason    string
}

// Kind returns KindCredit.
func (p *CreditPayload) Kind() TxKind { return KindCredit }

func (p *CreditPayload) serialize(w io.Writer) error {
	if err := writeString(w, p.InvoiceID); err != nil {
		return err
	}
	if err := writeAmount(w, p.Amount); err != nil {
		return err
	}
	return writeString(w, p.Reason)
}

func (p *CreditPayload) deserialize(r io.Reader) (err error) {
	if p.InvoiceID, err = readString(r); err != nil {
		return err
	}
	if p.Amount, err = readAmount(r); err != nil {
		return err
	}
	p.Reason, err = readString(r)
	return err
}

// RefundPayload records a refund of a previously received payment.
type RefundPayload struct {
	PaymentID string
	Amount    Amount
	Reason    string
}

// Kind returns KindRefund.
func (p *RefundPayload) Kind() TxKind { return KindRefund }

func (p *RefundPayload) serialize(w io.Writer) error {
	if err := writeString(w, p.PaymentID); err != nil {
		return err
	}
	if err := writeAmount(w, p.Amount); err != nil {
		return err
	}
	return writeString(w, p.Reason)
}

func (p *RefundPayload) deserialize(r io.Reader) (err error) {
	if p.PaymentID, err = readString(r); err != nil {
		return err
	}
	if p.Amount, err = readAmount(r); err != nil {
		return err
	}
	p.Reason, err = readString(r)
	return err
}

// ContractEventPayload documents a smart-contract trigger, giving auditable
// provenance for automated actions. ProducedTxIDs reference the transactions
// the contract emitted during the trigger.
type ContractEventPayload struct {
	ContractID        string
	ContractKind      string
	Action            string
	TriggerTimeMillis int64
	ProducedTxIDs     []*Hash
	Succeeded         bool
	FailureReason     string
	Detail            string
}

// Kind returns KindContractEvent.
func (p *ContractEventPayload) Kind() TxKind { return KindContractEvent }

func (p *ContractEventPayload) serialize(w io.Writer) error {
	if err := writeString(w, p.ContractID); err != nil {
		return err
	}
	if err := writeString(w, p.ContractKind); err != nil {
		return err
	}
	if err := writeString(w, p.Action); err != nil {
		return err
	}
	if err := writeInt64(w, p.TriggerTimeMillis); err != nil {
		return err
	}
	if err := writeHashes(w, p.ProducedTxIDs); err != nil {
		return err
	}
	if err := writeBool(w, p.Succeeded); err != nil {
		return err
	}
	if err := writeString(w, p.FailureReason); err != nil {
		return err
	}
	return writeString(w, p.Detail)
}

func (p *ContractEventPayload) deserialize(r io.Reader) (err error) {
	if p.ContractID, err = readString(r); err != nil {
		return err
	}
	if p.ContractKind, err = readString(r); err != nil {
		return err
	}
	if p.Action, err = readString(r); err != nil {
		return err
	}
	if p.TriggerTimeMillis, err = readInt64(r); err != nil {
		return err
	}
	if p.ProducedTxIDs, err = readHashes(r); err != nil {
		return err
	}
	if p.Succeeded, err = readBool(r); err != nil {
		return err
	}
	if p.FailureReason, err = readString(r); err != nil {
		return err
	}
	p.Detail, err = readString(r)
	return err
}

// newPayloadForKind returns an empty payload of the given kind, ready to be
// deserialized into.
func newPayloadForKind(kind TxKind) (Payload, error) {
	switch kind {
	case KindGenesis:
		return &GenesisPayload{}, nil
	case KindInvoice:
		return &InvoicePayload{}, nil
	case KindPayment:
		return &PaymentPayload{}, nil
	case KindExpense:
		return &ExpensePayload{}, nil
	case KindTimeEntry:
		return &TimeEntryPayload{}, nil
	case KindCredit:
		return &CreditPayload{}, nil
	case KindRefund:
		return &RefundPayload{}, nil
	case KindContractEvent:
		return &ContractEventPayload{}, nil
	default:
		return nil, errors.Errorf("cannot deserialize transaction of unknown kind %d", uint8(kind))
	}
}

// Transaction is a signed financial event record, the unit stored in blocks.
// A transaction is immutable once signed: any payload mutation invalidates
// the signature and produces a different ID.
type Transaction struct {
	TxKind          TxKind
	TimestampMillis int64
	Payload         Payload
	PublicKey       []byte
	Signature       []byte

	cachedID *Hash
}

// SigningHash returns the digest the transaction signature is computed over:
// the canonical encoding of (kind, payload, timestamp).
func (tx *Transaction) SigningHash() (*Hash, error) {
	buf := &bytes.Buffer{}
	if err := writeUint8(buf, uint8(tx.TxKind)); err != nil {
		return nil, err
	}
	if err := tx.Payload.serialize(buf); err != nil {
		return nil, err
	}
	if err := writeInt64(buf, tx.TimestampMillis); err != nil {
		return nil, err
	}
	return HashData(buf.Bytes()), nil
}

// ID returns the transaction's unique identifier: the content hash of the
// canonical encoding of (kind, payload, timestamp, public key). The ID is
// computed lazily and cached; callers must not mutate a transaction after
// the first call to ID.
func (tx *Transaction) ID() (*Hash, error) {
	if tx.cachedID != nil {
		return tx.cachedID, nil
	}
	buf := &bytes.Buffer{}
	if err := writeUint8(buf, uint8(tx.TxKind)); err != nil {
		return nil, err
	}
	if err := tx.Payload.serialize(buf); err != nil {
		return nil, err
	}
	if err := writeInt64(buf, tx.TimestampMillis); err != nil {
		return nil, err
	}
	if err := writeFixedBytes(buf, tx.PublicKey); err != nil {
		return nil, err
	}
	tx.cachedID = HashData(buf.Bytes())
	return tx.cachedID, nil
}

// Serialize returns the full canonical encoding of the transaction, including
// the signature.
func (tx *Transaction) Serialize() ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := tx.serialize(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (tx *Transaction) serialize(w io.Writer) error {
	if len(tx.PublicKey) != PublicKeySize {
		return errors.Errorf("serialized public key has length %d, expected %d",
			len(tx.PublicKey), PublicKeySize)
	}
	if len(tx.Signature) != SignatureSize {
		return errors.Errorf("serialized signature has length %d, expected %d",
			len(tx.Signature), SignatureSize)
	}
	if err := writeUint8(w, uint8(tx.TxKind)); err != nil {
		return err
	}
	if err := tx.Payload.serialize(w); err != nil {
		return err
	}
	if err := writeInt64(w, tx.TimestampMillis); err != nil {
		return err
	}
	if err := writeFixedBytes(w, tx.PublicKey); err != nil {
		return err
	}
	return writeFixedBytes(w, tx.Signature)
}

// DeserializeTransaction parses a transaction out of its canonical encoding.
func DeserializeTransaction(data []byte) (*Transaction, error) {
	tx := &Transaction{}
	if err := tx.deserialize(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return tx, nil
}

func (tx *Transaction) deserialize(r io.Reader) error {
	kindByte, err := readUint8(r)
	if err != nil {
		return err
	}
	tx.TxKind = TxKind(kindByte)
	tx.Payload, err = newPayloadForKind(tx.TxKind)
	if err != nil {
		return err
	}
	if err := tx.Payload.deserialize(r); err != nil {
		return err
	}
	if tx.TimestampMillis, err = readInt64(r); err != nil {
		return err
	}
	if tx.PublicKey, err = readFixedBytes(r, PublicKeySize); err != nil {
		return err
	}
	tx.Signature, err = readFixedBytes(r, SignatureSize)
	return err
}

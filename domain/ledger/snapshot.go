package ledger

// Snapshot is a point-in-time, read-only view of the chain and the pending
// pool. Contracts and reporting code operate on snapshots so they never
// observe the ledger mid-mutation.
type Snapshot struct {
	Blocks  []*Block
	Pending []*Transaction
}

// Height returns the index of the tip block.
func (snapshot *Snapshot) Height() uint64 {
	return uint64(len(snapshot.Blocks)) - 1
}

// Tip returns the last block in the chain.
func (snapshot *Snapshot) Tip() *Block {
	return snapshot.Blocks[len(snapshot.Blocks)-1]
}

// TransactionsByKind returns all sealed transactions of the given kind in
// chain order.
func (snapshot *Snapshot) TransactionsByKind(kind TxKind) []*Transaction {
	var matching []*Transaction
	for _, block := range snapshot.Blocks {
		for _, tx := range block.Transactions {
			if tx.TxKind == kind {
				matching = append(matching, tx)
			}
		}
	}
	return matching
}

// ContainsTxID returns whether a transaction with the given ID exists either
// in a sealed block or in the pending pool.
func (snapshot *Snapshot) ContainsTxID(id *Hash) (bool, error) {
	for _, block := range snapshot.Blocks {
		for _, tx := range block.Transactions {
			txID, err := tx.ID()
			if err != nil {
				return false, err
			}
			if txID.Equal(id) {
				return true, nil
			}
		}
	}
	for _, tx := range snapshot.Pending {
		txID, err := tx.ID()
		if err != nil {
			return false, err
		}
		if txID.Equal(id) {
			return true, nil
		}
	}
	return false, nil
}

// TransactionByID returns the sealed transaction with the given ID, or nil if
// no such transaction exists in the chain.
func (snapshot *Snapshot) TransactionByID(id *Hash) (*Transaction, error) {
	for _, block := range snapshot.Blocks {
		for _, tx := range block.Transactions {
			txID, err := tx.ID()
			if err != nil {
				return nil, err
			}
			if txID.Equal(id) {
				return tx, nil
			}
		}
	}
	return nil, nil
}

// BalanceSheet is an aggregate financial summary derived from the sealed
// chain.
type BalanceSheet struct {
	TotalInvoiced Amount
	TotalReceived Amount
	TotalExpenses Amount
	TotalCredits  Amount
	TotalRefunded Amount
}

// NetIncome returns received payments less expenses and refunds.
func (sheet *BalanceSheet) NetIncome() Amount {
	return sheet.TotalReceived - sheet.TotalExpenses - sheet.TotalRefunded
}

// Outstanding returns the invoiced amount not yet covered by payments or
// credits.
func (sheet *BalanceSheet) Outstanding() Amount {
	outstanding := sheet.TotalInvoiced - sheet.TotalReceived - sheet.TotalCredits
	if outstanding < 0 {
		return 0
	}
	return outstanding
}

// BalanceSheet aggregates the sealed chain into a financial summary. Pending
// transactions are excluded: a figure is only reported once it is sealed.
func (snapshot *Snapshot) BalanceSheet() *BalanceSheet {
	sheet := &BalanceSheet{}
	for _, block := range snapshot.Blocks {
		for _, tx := range block.Transactions {
			switch payload := tx.Payload.(type) {
			case *InvoicePayload:
				sheet.TotalInvoiced += payload.Amount
			case *PaymentPayload:
				sheet.TotalReceived += payload.Amount
			case *ExpensePayload:
				sheet.TotalExpenses += payload.Amount
			case *CreditPayload:
				sheet.TotalCredits += payload.Amount
			case *RefundPayload:
				sheet.TotalRefunded += payload.Amount
			}
		}
	}
	return sheet
}

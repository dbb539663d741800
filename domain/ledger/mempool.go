package ledger

// pendingPool holds validated transactions awaiting inclusion in a block.
// Submission order is preserved so mined blocks carry transactions in the
// order they were accepted. The pool is not safe for concurrent use; the
// ledger mutex guards it.
type pendingPool struct {
	ids          map[Hash]struct{}
	transactions []*Transaction
}

func newPendingPool() *pendingPool {
	return &pendingPool{
		ids: make(map[Hash]struct{}),
	}
}

func (pool *pendingPool) contains(id *Hash) bool {
	_, ok := pool.ids[*id]
	return ok
}

func (pool *pendingPool) add(tx *Transaction) error {
	id, err := tx.ID()
	if err != nil {
		return err
	}
	pool.ids[*id] = struct{}{}
	pool.transactions = append(pool.transactions, tx)
	return nil
}

// drain removes and returns all pending transactions in submission order.
func (pool *pendingPool) drain() []*Transaction {
	drained := pool.transactions
	pool.transactions = nil
	pool.ids = make(map[Hash]struct{})
	return drained
}

// snapshot returns a copy of the pending transactions without mutating the
// pool.
func (pool *pendingPool) snapshot() []*Transaction {
	copied := make([]*Transaction, len(pool.transactions))
	copy(copied, pool.transactions)
	return copied
}

func (pool *pendingPool) len() int {
	return len(pool.transactions)
}

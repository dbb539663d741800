// Package outbox is a durable FIFO of notifications for external consumers.
// Contract activity lands here so that delivery to the outside world can lag,
// retry or crash without touching chain state.
package outbox

import (
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"github.com/bookchain/bookchaind/infrastructure/db/ledgerdb"
	"github.com/pkg/errors"
)

// Entry is a single notification awaiting delivery.
type Entry struct {
	Sequence      uint64            `json:"sequence"`
	CreatedMillis int64             `json:"createdMillis"`
	Topic         string            `json:"topic"`
	Body          map[string]string `json:"body,omitempty"`
}

// Outbox persists entries in the ledger store. Entries are consumed strictly
// in order: Peek returns the oldest entry until it is acknowledged.
type Outbox struct {
	db  *ledgerdb.LedgerDB
	mtx sync.Mutex
}

// New returns an outbox over the given store.
func New(db *ledgerdb.LedgerDB) *Outbox {
	return &Outbox{db: db}
}

// Append durably adds an entry and returns it with its assigned sequence
// number.
func (o *Outbox) Append(topic string, body map[string]string, now time.Time) (*Entry, error) {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	dbTx, err := o.db.Begin()
	if err != nil {
		return nil, err
	}
	defer dbTx.RollbackUnlessClosed()

	sequence := uint64(0)
	seqData, err := dbTx.Get(ledgerdb.OutboxSequenceKey())
	if err != nil && !ledgerdb.IsNotFoundError(err) {
		return nil, err
	}
	if err == nil {
		sequence = binary.BigEndian.Uint64(seqData)
	}

	entry := &Entry{
		Sequence:      sequence,
		CreatedMillis: now.UnixNano() / int64(time.Millisecond),
		Topic:         topic,
		Body:          body,
	}
	serialized, err := json.Marshal(entry)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := dbTx.Put(ledgerdb.OutboxKey(sequence), serialized); err != nil {
		return nil, err
	}
	var nextSeq [8]byte
	binary.BigEndian.PutUint64(nextSeq[:], sequence+1)
	if err := dbTx.Put(ledgerdb.OutboxSequenceKey(), nextSeq[:]); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(); err != nil {
		return nil, err
	}

	log.Debugf("Appended outbox entry %d on topic %s", sequence, topic)
	return entry, nil
}

// Peek returns the oldest unacknowledged entry, or nil if the outbox is
// empty.
func (o *Outbox) Peek() (*Entry, error) {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	cursor := o.db.Cursor(ledgerdb.OutboxKeyPrefix())
	if !cursor.Next() {
		return nil, cursor.Close()
	}
	entry := &Entry{}
	err := json.Unmarshal(cursor.Value(), entry)
	if closeErr := cursor.Close(); closeErr != nil {
		return nil, closeErr
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return entry, nil
}

// Ack removes the entry with the given sequence number. Acknowledging an
// unknown sequence is an error so delivery bugs surface instead of silently
// losing notifications.
func (o *Outbox) Ack(sequence uint64) error {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	key := ledgerdb.OutboxKey(sequence)
	exists, err := o.db.Has(key)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Errorf("outbox holds no entry with sequence %d", sequence)
	}
	if err := o.db.Delete(key); err != nil {
		return err
	}
	log.Debugf("Acknowledged outbox entry %d", sequence)
	return nil
}

// Len returns the number of unacknowledged entries.
func (o *Outbox) Len() (int, error) {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	count := 0
	cursor := o.db.Cursor(ledgerdb.OutboxKeyPrefix())
	for cursor.Next() {
		count++
	}
	return count, cursor.Close()
}

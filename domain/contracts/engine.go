package contracts

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/bookchain/bookchaind/domain/ledger"
	"github.com/bookchain/bookchaind/domain/outbox"
	"github.com/bookchain/bookchaind/domain/signer"
	"github.com/bookchain/bookchaind/infrastructure/db/ledgerdb"
	"github.com/pkg/errors"
)

// defaultExecutionBudget bounds a single contract execution when the config
// leaves it unset.
const defaultExecutionBudget = 5 * time.Second

// Config holds the engine's collaborators.
type Config struct {
	Ledger  *ledger.Ledger
	KeyPair *signer.KeyPair
	DB      *ledgerdb.LedgerDB
	Outbox  *outbox.Outbox

	// ExecutionBudget is the wall-clock limit for a single contract
	// execution. An overrun is recorded as a failed trigger.
	ExecutionBudget time.Duration
}

// Engine evaluates registered contracts after every persisted block. One
// engine pass runs at a time; within a pass contracts run in registration
// order and each runs at most once, so a contract never retriggers off its
// own output in the same pass.
type Engine struct {
	cfg *Config

	mtx       sync.Mutex
	contracts []persistable
}

// registryRecord is the persisted form of a registered contract.
type registryRecord struct {
	ID               string          `json:"id"`
	Kind             Kind            `json:"kind"`
	Active           bool            `json:"active"`
	RegisteredMillis int64           `json:"registeredMillis"`
	Config           json.RawMessage `json:"config"`
}

// NewEngine creates an engine and restores the registry from the store. The
// restored contracts are evaluated in their original registration order.
func NewEngine(cfg *Config) (*Engine, error) {
	if cfg.ExecutionBudget <= 0 {
		cfg.ExecutionBudget = defaultExecutionBudget
	}
	engine := &Engine{cfg: cfg}
	if err := engine.loadRegistry(); err != nil {
		return nil, err
	}
	return engine, nil
}

func (e *Engine) loadRegistry() error {
	var records []*registryRecord
	cursor := e.cfg.DB.Cursor(ledgerdb.ContractKeyPrefix())
	for cursor.Next() {
		record := &registryRecord{}
		if err := json.Unmarshal(cursor.Value(), record); err != nil {
			cursor.Close()
			return errors.Wrapf(err, "malformed contract registry record at key %x", cursor.Key())
		}
		if record.Active {
			records = append(records, record)
		}
	}
	if err := cursor.Close(); err != nil {
		return err
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].RegisteredMillis != records[j].RegisteredMillis {
			return records[i].RegisteredMillis < records[j].RegisteredMillis
		}
		return records[i].ID < records[j].ID
	})

	for _, record := range records {
		contract, err := contractFromRecord(record)
		if err != nil {
			return err
		}
		e.contracts = append(e.contracts, contract)
		log.Infof("Restored %s contract %s from the registry", contract.Kind(), contract.ID())
	}
	return nil
}

func contractFromRecord(record *registryRecord) (persistable, error) {
	switch record.Kind {
	case KindRecurringInvoice:
		return recurringInvoiceFromConfig(record.Config)
	case KindTaxWithholding:
		return taxWithholdingFromConfig(record.Config)
	case KindAuditEnforcement:
		return auditEnforcementFromConfig(record.Config)
	case KindPaymentTerms:
		return paymentTermsFromConfig(record.Config)
	default:
		return nil, errors.Errorf("contract registry record %s has unknown kind %d",
			record.ID, uint8(record.Kind))
	}
}

// Register adds a contract to the engine, persists it in the registry and
// records the registration as a ContractEvent on the chain.
func (e *Engine) Register(contract Contract, now time.Time) error {
	stored, ok := contract.(persistable)
	if !ok {
		return errors.Errorf("contract %s is not a registrable variant", contract.ID())
	}

	e.mtx.Lock()
	for _, existing := range e.contracts {
		if existing.ID() == contract.ID() {
			e.mtx.Unlock()
			return errors.Errorf("contract %s is already registered", contract.ID())
		}
	}

	configData, err := stored.configJSON()
	if err != nil {
		e.mtx.Unlock()
		return err
	}
	record := &registryRecord{
		ID:               contract.ID(),
		Kind:             contract.Kind(),
		Active:           true,
		RegisteredMillis: timeToMillis(now),
		Config:           configData,
	}
	if err := e.putRecord(record); err != nil {
		e.mtx.Unlock()
		return err
	}
	e.contracts = append(e.contracts, stored)
	e.mtx.Unlock()

	log.Infof("Registered %s contract %s", contract.Kind(), contract.ID())
	_, err = e.submitEvent(contract, &ledger.ContractEventPayload{
		ContractID:        contract.ID(),
		ContractKind:      contract.Kind().String(),
		Action:            "register",
		TriggerTimeMillis: timeToMillis(now),
		Succeeded:         true,
	}, now)
	return err
}

// Revoke deactivates a registered contract and records the revocation as a
// ContractEvent on the chain.
func (e *Engine) Revoke(contractID string, now time.Time) error {
	e.mtx.Lock()
	var revoked persistable
	for i, contract := range e.contracts {
		if contract.ID() == contractID {
			revoked = contract
			e.contracts = append(e.contracts[:i], e.contracts[i+1:]...)
			break
		}
	}
	if revoked == nil {
		e.mtx.Unlock()
		return errors.Errorf("no registered contract with ID %s", contractID)
	}

	configData, err := revoked.configJSON()
	if err != nil {
		e.mtx.Unlock()
		return err
	}
	record := &registryRecord{
		ID:     contractID,
		Kind:   revoked.Kind(),
		Active: false,
		Config: configData,
	}
	if err := e.putRecord(record); err != nil {
		e.mtx.Unlock()
		return err
	}
	e.mtx.Unlock()

	log.Infof("Revoked %s contract %s", revoked.Kind(), contractID)
	_, err = e.submitEvent(revoked, &ledger.ContractEventPayload{
		ContractID:        contractID,
		ContractKind:      revoked.Kind().String(),
		Action:            "revoke",
		TriggerTimeMillis: timeToMillis(now),
		Succeeded:         true,
	}, now)
	return err
}

func (e *Engine) putRecord(record *registryRecord) error {
	serialized, err := json.Marshal(record)
	if err != nil {
		return errors.WithStack(err)
	}
	return e.cfg.DB.Put(ledgerdb.ContractKey(record.ID), serialized)
}

// Contracts returns the active contracts in registration order.
func (e *Engine) Contracts() []Contract {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	contracts := make([]Contract, len(e.contracts))
	for i, contract := range e.contracts {
		contracts[i] = contract
	}
	return contracts
}

// OnBlockPersisted is the engine's ledger block listener. It evaluates every
// active contract against the post-block chain state, using the persisted
// block's timestamp as the clock so that triggers replay identically.
func (e *Engine) OnBlockPersisted(block *ledger.Block, _ *ledger.Snapshot) {
	e.mtx.Lock()
	contracts := make([]persistable, len(e.contracts))
	copy(contracts, e.contracts)
	e.mtx.Unlock()

	now := millisToTime(block.TimestampMillis)
	for _, contract := range contracts {
		// A fresh snapshot per contract lets later contracts see the
		// drafts earlier ones just submitted to the pool.
		snapshot := e.cfg.Ledger.Snapshot()
		if !contract.ShouldTrigger(snapshot, now) {
			continue
		}
		e.trigger(contract, snapshot, now)
	}
}

func (e *Engine) trigger(contract Contract, snapshot *ledger.Snapshot, now time.Time) {
	log.Debugf("Triggering %s contract %s at %s", contract.Kind(), contract.ID(), now)

	execution, execErr := e.executeWithBudget(contract, snapshot, now)

	event := &ledger.ContractEventPayload{
		ContractID:        contract.ID(),
		ContractKind:      contract.Kind().String(),
		TriggerTimeMillis: timeToMillis(now),
		Succeeded:         true,
	}
	if execErr == nil && execution == nil {
		execErr = errors.Errorf("contract %s returned no execution result", contract.ID())
	}
	if execErr != nil {
		event.Action = "execute"
		event.Succeeded = false
		event.FailureReason = execErr.Error()
		log.Warnf("Contract %s failed: %s", contract.ID(), execErr)
	} else {
		event.Action = execution.Action
		event.Detail = execution.Detail
		for _, draft := range execution.Drafts {
			txID, err := e.signAndSubmit(draft, now)
			if err != nil {
				event.Succeeded = false
				event.FailureReason = err.Error()
				log.Warnf("Contract %s draft rejected: %s", contract.ID(), err)
				break
			}
			event.ProducedTxIDs = append(event.ProducedTxIDs, txID)
		}
	}

	eventID, err := e.submitEvent(contract, event, now)
	if err != nil {
		log.Errorf("Failed recording trigger of contract %s: %s", contract.ID(), err)
		return
	}

	body := map[string]string{
		"contract": contract.ID(),
		"kind":     contract.Kind().String(),
		"action":   event.Action,
		"event":    eventID.String(),
	}
	if !event.Succeeded {
		body["failureReason"] = event.FailureReason
	}
	if event.Detail != "" {
		body["detail"] = event.Detail
	}
	if _, err := e.cfg.Outbox.Append("contract.triggered", body, now); err != nil {
		log.Errorf("Failed appending outbox entry for contract %s: %s", contract.ID(), err)
	}
}

// executeWithBudget runs the contract on its own goroutine so that a hung or
// panicking contract is reported as a failed trigger instead of stalling the
// engine.
func (e *Engine) executeWithBudget(contract Contract, snapshot *ledger.Snapshot, now time.Time) (*Execution, error) {
	type executeResult struct {
		execution *Execution
		err       error
	}
	resultChan := make(chan executeResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- executeResult{err: errors.Errorf("contract panicked: %v", r)}
			}
		}()
		execution, err := contract.Execute(snapshot, now)
		resultChan <- executeResult{execution: execution, err: err}
	}()

	timer := time.NewTimer(e.cfg.ExecutionBudget)
	defer timer.Stop()
	select {
	case result := <-resultChan:
		return result.execution, result.err
	case <-timer.C:
		return nil, errors.Errorf("execution exceeded the %s budget", e.cfg.ExecutionBudget)
	}
}

func (e *Engine) signAndSubmit(draft ledger.Draft, now time.Time) (*ledger.Hash, error) {
	tx := &ledger.Transaction{
		TxKind:          draft.Kind,
		TimestampMillis: timeToMillis(now),
		Payload:         draft.Payload,
		PublicKey:       e.cfg.KeyPair.PublicKey(),
	}
	signingHash, err := tx.SigningHash()
	if err != nil {
		return nil, err
	}
	tx.Signature, err = e.cfg.KeyPair.Sign(signingHash.ByteSlice())
	if err != nil {
		return nil, err
	}
	if err := e.cfg.Ledger.Submit(tx); err != nil {
		return nil, err
	}
	return tx.ID()
}

func (e *Engine) submitEvent(contract Contract, event *ledger.ContractEventPayload, now time.Time) (*ledger.Hash, error) {
	return e.signAndSubmit(ledger.Draft{
		Kind:    ledger.KindContractEvent,
		Payload: event,
	}, now)
}

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

// AuditEnforcementConfig parameterizes an AuditEnforcement contract.
type AuditEnforcementConfig struct {
	ContractID string `json:"contractId"`

	// RapidWindowMillis flags consecutive transactions against the same
	// entity closer together than this window.
	RapidWindowMillis int64 `json:"rapidWindowMillis,omitempty"`

	// Submissions outside [AfterHoursEndHour, AfterHoursStartHour) UTC are
	// flagged as after-hours activity.
	AfterHoursStartHour int `json:"afterHoursStartHour,omitempty"`
	AfterHoursEndHour   int `json:"afterHoursEndHour,omitempty"`
}

// AuditEnforcement scans each newly sealed block for suspicious activity:
// rapid repeated actions against the same entity and after-hours submissions.
// Anomalies are pinned to the chain as ContractEvents carrying the entity's
// rolling audit hash, so the audit trail itself is tamper-evident.
type AuditEnforcement struct {
	cfg AuditEnforcementConfig
}

// NewAuditEnforcement validates the config and returns the contract.
func NewAuditEnforcement(cfg AuditEnforcementConfig) (*AuditEnforcement, error) {
	if cfg.ContractID == "" {
		return nil, errors.New("audit enforcement contract needs an ID")
	}
	if cfg.RapidWindowMillis <= 0 {
		cfg.RapidWindowMillis = 1000
	}
	if cfg.AfterHoursStartHour == 0 {
		cfg.AfterHoursStartHour = 22
	}
	if cfg.AfterHoursEndHour == 0 {
		cfg.AfterHoursEndHour = 6
	}
	return &AuditEnforcement{cfg: cfg}, nil
}

func auditEnforcementFromConfig(data json.RawMessage) (*AuditEnforcement, error) {
	cfg := AuditEnforcementConfig{}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "malformed audit enforcement config")
	}
	return NewAuditEnforcement(cfg)
}

// ID returns the contract ID.
func (c *AuditEnforcement) ID() string { return c.cfg.ContractID }

// Kind returns KindAuditEnforcement.
func (c *AuditEnforcement) Kind() Kind { return KindAuditEnforcement }

func (c *AuditEnforcement) configJSON() (json.RawMessage, error) {
	data, err := json.Marshal(c.cfg)
	return data, errors.WithStack(err)
}

// auditEntity names the business entity a transaction acts on.
func auditEntity(tx *ledger.Transaction) string {
	switch payload := tx.Payload.(type) {
	case *ledger.InvoicePayload:
		return "client:" + payload.ClientID
	case *ledger.PaymentPayload:
		return "invoice:" + payload.InvoiceID
	case *ledger.CreditPayload:
		return "invoice:" + payload.InvoiceID
	case *ledger.RefundPayload:
		return "payment:" + payload.PaymentID
	case *ledger.TimeEntryPayload:
		return "project:" + payload.ProjectID
	case *ledger.ExpensePayload:
		return "expense:" + payload.Category
	default:
		return ""
	}
}

// entityHash computes the rolling audit hash of an entity over the whole
// chain: each transaction against the entity extends the chain with
// h = sha256(previous || txID).
func entityHash(snapshot *ledger.Snapshot, entity string) (*ledger.Hash, error) {
	current := ledger.HashData([]byte("genesis:" + entity))
	for _, block := range snapshot.Blocks {
		for _, tx := range block.Transactions {
			if auditEntity(tx) != entity {
				continue
			}
			id, err := tx.ID()
			if err != nil {
				return nil, err
			}
			combined := append(current.ByteSlice(), id.ByteSlice()...)
			current = ledger.HashData(combined)
		}
	}
	return current, nil
}

func (c *AuditEnforcement) isAfterHours(t time.Time) bool {
	hour := t.UTC().Hour()
	return hour >= c.cfg.AfterHoursStartHour || hour < c.cfg.AfterHoursEndHour
}

// anomaliesIn scans the tip block. ContractEvents and the tax expenses the
// engine itself produces are automation output, not operator activity, and
// are not scanned.
func (c *AuditEnforcement) anomaliesIn(snapshot *ledger.Snapshot) []string {
	var anomalies []string
	tip := snapshot.Tip()
	if len(snapshot.Blocks) > 1 {
		previous := snapshot.Blocks[len(snapshot.Blocks)-2]
		if tip.TimestampMillis < previous.TimestampMillis {
			anomalies = append(anomalies, fmt.Sprintf(
				"block %d timestamp regressed behind block %d", tip.Index, previous.Index))
		}
	}
	lastSeen := make(map[string]int64)
	for _, tx := range tip.Transactions {
		if tx.TxKind == ledger.KindContractEvent || tx.TxKind == ledger.KindGenesis {
			continue
		}
		if expense, ok := tx.Payload.(*ledger.ExpensePayload); ok && expense.SourceTxID != "" {
			continue
		}
		entity := auditEntity(tx)
		if entity == "" {
			continue
		}

		if previous, seen := lastSeen[entity]; seen {
			delta := tx.TimestampMillis - previous
			if delta < 0 {
				delta = -delta
			}
			if delta < c.cfg.RapidWindowMillis {
				anomalies = append(anomalies,
					fmt.Sprintf("rapid actions against %s (%dms apart)", entity, delta))
			}
		}
		lastSeen[entity] = tx.TimestampMillis

		if c.isAfterHours(millisToTime(tx.TimestampMillis)) {
			anomalies = append(anomalies,
				fmt.Sprintf("after-hours activity against %s at %s",
					entity, millisToTime(tx.TimestampMillis).Format("15:04 MST")))
		}
	}
	return anomalies
}

// ShouldTrigger reports whether the tip block holds anomalies.
func (c *AuditEnforcement) ShouldTrigger(snapshot *ledger.Snapshot, _ time.Time) bool {
	return len(c.anomaliesIn(snapshot)) > 0
}

// Execute records the tip block's anomalies, tagging each flagged entity with
// its rolling audit hash.
func (c *AuditEnforcement) Execute(snapshot *ledger.Snapshot, _ time.Time) (*Execution, error) {
	tip := snapshot.Tip()
	anomalies := c.anomaliesIn(snapshot)

	// Entities are walked in sorted order so the recorded detail, and with
	// it the event's transaction ID, is identical on every replay.
	seen := make(map[string]struct{})
	var entities []string
	for _, tx := range tip.Transactions {
		entity := auditEntity(tx)
		if entity == "" {
			continue
		}
		if _, dup := seen[entity]; dup {
			continue
		}
		seen[entity] = struct{}{}
		entities = append(entities, entity)
	}
	sort.Strings(entities)

	var hashNotes []string
	for _, entity := range entities {
		hash, err := entityHash(snapshot, entity)
		if err != nil {
			return nil, err
		}
		hashNotes = append(hashNotes, fmt.Sprintf("%s=%s", entity, hash))
	}

	detail := fmt.Sprintf("block %d: %s | audit hashes: %s",
		tip.Index, strings.Join(anomalies, "; "), strings.Join(hashNotes, " "))
	return &Execution{
		Action: "audit_anomaly",
		Detail: detail,
	}, nil
}

package ledger

import (
	"fmt"

	"github.com/pkg/errors"
)

// RejectCode identifies the rule that rejected a transaction or the integrity
// check that failed on a block.
type RejectCode int

// Reject codes.
const (
	RejectInvalidSignature RejectCode = iota
	RejectDuplicateID
	RejectNegativeAmount
	RejectUnknownCurrency
	RejectStaleTimestamp
	RejectMissingField
	RejectLineItemMismatch
	RejectUnknownKind
	RejectDescriptionTooShort
	RejectUnknownPaymentMethod
	RejectUnknownCategory
	RejectComplianceViolation
	RejectSensitiveData
	RejectHashMismatch
	RejectBrokenLink
	RejectBadProofOfWork
	RejectBadIndex
	RejectNotNextBlock
)

var rejectCodeStrings = map[RejectCode]string{
	RejectInvalidSignature:     "InvalidSignature",
	RejectDuplicateID:          "DuplicateId",
	RejectNegativeAmount:       "NegativeAmount",
	RejectUnknownCurrency:      "UnknownCurrency",
	RejectStaleTimestamp:       "StaleTimestamp",
	RejectMissingField:         "MissingField",
	RejectLineItemMismatch:     "LineItemMismatch",
	RejectUnknownKind:          "UnknownKind",
	RejectDescriptionTooShort:  "DescriptionTooShort",
	RejectUnknownPaymentMethod: "UnknownPaymentMethod",
	RejectUnknownCategory:      "UnknownCategory",
	RejectComplianceViolation:  "ComplianceViolation",
	RejectSensitiveData:        "SensitiveData",
	RejectHashMismatch:         "HashMismatch",
	RejectBrokenLink:           "BrokenLink",
	RejectBadProofOfWork:       "BadProofOfWork",
	RejectBadIndex:             "BadIndex",
	RejectNotNextBlock:         "NotNextBlock",
}

// String returns the RejectCode as a human-readable name.
func (code RejectCode) String() string {
	if s, ok := rejectCodeStrings[code]; ok {
		return s
	}
	return fmt.Sprintf("Unknown RejectCode (%d)", int(code))
}

// RuleError identifies a rule violation that caused a transaction to be
// rejected before entering the pending pool.
type RuleError struct {
	Code        RejectCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewRuleError creates a RuleError given a set of arguments.
func NewRuleError(code RejectCode, format string, args ...interface{}) RuleError {
	return RuleError{Code: code, Description: fmt.Sprintf(format, args...)}
}

// ExtractRuleError returns the RuleError wrapped anywhere inside err, if any.
func ExtractRuleError(err error) (RuleError, bool) {
	var ruleErr RuleError
	ok := errors.As(err, &ruleErr)
	return ruleErr, ok
}

// ChainIntegrityError identifies corruption detected while validating the
// chain. Index is the height of the first offending block.
type ChainIntegrityError struct {
	Index       uint64
	Code        RejectCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e ChainIntegrityError) Error() string {
	return fmt.Sprintf("chain corrupted at block %d (%s): %s", e.Index, e.Code, e.Description)
}

// NewChainIntegrityError creates a ChainIntegrityError given a set of
// arguments.
func NewChainIntegrityError(index uint64, code RejectCode, format string, args ...interface{}) ChainIntegrityError {
	return ChainIntegrityError{Index: index, Code: code, Description: fmt.Sprintf(format, args...)}
}

// ExtractChainIntegrityError returns the ChainIntegrityError wrapped anywhere
// inside err, if any.
func ExtractChainIntegrityError(err error) (ChainIntegrityError, bool) {
	var integrityErr ChainIntegrityError
	ok := errors.As(err, &integrityErr)
	return integrityErr, ok
}

var (
	// ErrSealingAborted is returned by MineBlock when the chain tip moved
	// while the nonce search was in progress. This is expected control flow,
	// not a fault - the pending pool is left intact and mining may simply be
	// restarted against the new tip.
	ErrSealingAborted = errors.New("sealing aborted: chain tip moved during the nonce search")

	// ErrNothingToMine is returned by MineBlock when the pending pool is
	// empty.
	ErrNothingToMine = errors.New("no pending transactions to mine")

	// ErrLedgerHalted is returned by mutating operations after an integrity
	// or persistence failure. A ledger that cannot be trusted must not grow
	// further until the operator resolves the fault and reopens it.
	ErrLedgerHalted = errors.New("ledger is halted")
)

package ledger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bookchain/bookchaind/domain/signer"
	"github.com/bookchain/bookchaind/infrastructure/db/ledgerdb"
	"github.com/pkg/errors"
)

// tipVersionPollInterval is how many nonces the miner tries between checks of
// the chain tip version.
const tipVersionPollInterval = 256

// Validator checks a submitted transaction against a business rule before it
// is admitted to the pending pool. A violation is reported as a RuleError.
type Validator interface {
	Name() string
	Validate(tx *Transaction, snapshot *Snapshot) error
}

// BlockListener is called after a block has been persisted and appended to
// the chain. Listeners run outside the ledger lock and may call back into the
// ledger.
type BlockListener func(block *Block, snapshot *Snapshot)

// Draft is an unsigned transaction in the making. Contracts produce drafts;
// the node signs and submits them.
type Draft struct {
	Kind    TxKind
	Payload Payload
}

// Config holds the operating parameters of a ledger.
type Config struct {
	// Difficulty is the number of leading zero bits required of every
	// non-genesis block hash.
	Difficulty uint32

	// GenesisMessage is recorded in the genesis transaction when a fresh
	// chain is created.
	GenesisMessage string

	// MaxTimestampSkew bounds how far into the future a submitted
	// transaction's timestamp may lie. Zero disables the check.
	MaxTimestampSkew time.Duration

	// TimeSource supplies the current time. Defaults to time.Now.
	TimeSource func() time.Time
}

func (cfg *Config) now() time.Time {
	if cfg.TimeSource != nil {
		return cfg.TimeSource()
	}
	return time.Now()
}

// Ledger is the node-local blockchain: an append-only sequence of sealed
// blocks plus a pool of validated transactions awaiting sealing.
//
// All chain and pool mutation happens under a single mutex. The nonce search
// in MineBlock runs outside the lock and is aborted through tipVersion, which
// is bumped whenever the tip is about to move.
type Ledger struct {
	cfg *Config
	db  *ledgerdb.LedgerDB

	mtx       sync.Mutex
	blocks    []*Block
	sealedIDs map[Hash]struct{}
	pool      *pendingPool
	halted    bool

	validators []Validator
	listeners  []BlockListener

	tipVersion uint64
}

// New opens a ledger over the given store. If the store is empty a genesis
// block is created and persisted. A non-empty store is fully validated before
// the ledger is returned; a corrupted chain fails the open with a
// ChainIntegrityError.
func New(cfg *Config, db *ledgerdb.LedgerDB) (*Ledger, error) {
	ledger := &Ledger{
		cfg:       cfg,
		db:        db,
		sealedIDs: make(map[Hash]struct{}),
		pool:      newPendingPool(),
	}

	blocks, err := loadBlocks(db)
	if err != nil {
		return nil, err
	}

	if len(blocks) == 0 {
		genesis, err := ledger.buildGenesisBlock()
		if err != nil {
			return nil, err
		}
		if err := ledger.persistBlock(genesis); err != nil {
			return nil, err
		}
		blocks = []*Block{genesis}
		log.Infof("Created new chain with genesis block %s", mustHashString(genesis))
	} else {
		if err := ValidateBlockSequence(blocks, cfg.Difficulty); err != nil {
			return nil, err
		}
		log.Infof("Loaded chain with %d blocks, tip %s", len(blocks), mustHashString(blocks[len(blocks)-1]))
	}

	ledger.blocks = blocks
	for _, block := range blocks {
		if err := ledger.indexBlockTransactions(block); err != nil {
			return nil, err
		}
	}
	return ledger, nil
}

func mustHashString(block *Block) string {
	hash, err := block.Hash()
	if err != nil {
		return "(unhashable)"
	}
	return hash.String()
}

func loadBlocks(db *ledgerdb.LedgerDB) ([]*Block, error) {
	var blocks []*Block
	cursor := db.Cursor(ledgerdb.BlockKeyPrefix())
	for cursor.Next() {
		block, err := DeserializeBlock(cursor.Value())
		if err != nil {
			cursor.Close()
			return nil, err
		}
		blocks = append(blocks, block)
	}
	if err := cursor.Close(); err != nil {
		return nil, err
	}
	return blocks, nil
}

func (l *Ledger) buildGenesisBlock() (*Block, error) {
	genesisTx := &Transaction{
		TxKind:          KindGenesis,
		TimestampMillis: l.cfg.now().UnixNano() / int64(time.Millisecond),
		Payload:         &GenesisPayload{Message: l.cfg.GenesisMessage},
		PublicKey:       make([]byte, PublicKeySize),
		Signature:       make([]byte, SignatureSize),
	}
	prev := zeroHash
	genesis := &Block{
		Index:           0,
		PreviousHash:    &prev,
		TimestampMillis: genesisTx.TimestampMillis,
		Difficulty:      0,
		Nonce:           0,
		Transactions:    []*Transaction{genesisTx},
	}
	if err := genesis.seal(); err != nil {
		return nil, err
	}
	return genesis, nil
}

func (l *Ledger) indexBlockTransactions(block *Block) error {
	for _, tx := range block.Transactions {
		id, err := tx.ID()
		if err != nil {
			return err
		}
		l.sealedIDs[*id] = struct{}{}
	}
	return nil
}

// RegisterValidator appends a validator to the set run against every
// submitted transaction. Validators run in registration order; the first
// failure rejects the transaction.
func (l *Ledger) RegisterValidator(validator Validator) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.validators = append(l.validators, validator)
	log.Debugf("Registered validator %s", validator.Name())
}

// RegisterBlockListener appends a listener invoked after every block append.
func (l *Ledger) RegisterBlockListener(listener BlockListener) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.listeners = append(l.listeners, listener)
}

// Halted returns whether the ledger refuses mutation after an integrity or
// persistence failure.
func (l *Ledger) Halted() bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.halted
}

// Snapshot returns a read-only view of the chain and the pending pool.
func (l *Ledger) Snapshot() *Snapshot {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() *Snapshot {
	blocks := make([]*Block, len(l.blocks))
	copy(blocks, l.blocks)
	return &Snapshot{
		Blocks:  blocks,
		Pending: l.pool.snapshot(),
	}
}

// PendingCount returns the number of transactions awaiting sealing.
func (l *Ledger) PendingCount() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.pool.len()
}

// Submit validates a signed transaction and, if every check passes, admits it
// to the pending pool. On rejection the returned error wraps a RuleError
// naming the violated rule, and the pool is left unchanged.
func (l *Ledger) Submit(tx *Transaction) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if l.halted {
		return errors.WithStack(ErrLedgerHalted)
	}
	if err := l.checkTransactionLocked(tx); err != nil {
		id := "(unidentifiable)"
		if txID, idErr := tx.ID(); idErr == nil {
			id = txID.String()
		}
		log.Debugf("Rejected transaction %s: %s", id, err)
		return err
	}
	if err := l.pool.add(tx); err != nil {
		return err
	}

	id, err := tx.ID()
	if err != nil {
		return err
	}
	log.Debugf("Accepted %s transaction %s into the pending pool (%d pending)",
		tx.TxKind, id, l.pool.len())
	return nil
}

func (l *Ledger) checkTransactionLocked(tx *Transaction) error {
	if tx.Payload == nil {
		return NewRuleError(RejectMissingField, "transaction carries no payload")
	}
	if tx.TxKind == KindGenesis {
		return NewRuleError(RejectUnknownKind, "genesis transactions cannot be submitted")
	}
	if tx.TxKind != tx.Payload.Kind() {
		return NewRuleError(RejectUnknownKind, "transaction kind %s does not match payload kind %s",
			tx.TxKind, tx.Payload.Kind())
	}
	if _, err := newPayloadForKind(tx.TxKind); err != nil {
		return NewRuleError(RejectUnknownKind, "unknown transaction kind %d", uint8(tx.TxKind))
	}

	if err := verifyTransactionSignature(tx); err != nil {
		return err
	}

	if l.cfg.MaxTimestampSkew > 0 {
		nowMillis := l.cfg.now().UnixNano() / int64(time.Millisecond)
		skewMillis := int64(l.cfg.MaxTimestampSkew / time.Millisecond)
		if tx.TimestampMillis > nowMillis+skewMillis {
			return NewRuleError(RejectStaleTimestamp,
				"transaction timestamp %d is more than %s ahead of the node clock",
				tx.TimestampMillis, l.cfg.MaxTimestampSkew)
		}
	}
	tip := l.blocks[len(l.blocks)-1]
	if tx.TimestampMillis < tip.TimestampMillis {
		return NewRuleError(RejectStaleTimestamp,
			"transaction timestamp %d predates the chain tip's %d",
			tx.TimestampMillis, tip.TimestampMillis)
	}

	id, err := tx.ID()
	if err != nil {
		return err
	}
	if _, sealed := l.sealedIDs[*id]; sealed {
		return NewRuleError(RejectDuplicateID, "transaction %s is already sealed in the chain", id)
	}
	if l.pool.contains(id) {
		return NewRuleError(RejectDuplicateID, "transaction %s is already pending", id)
	}

	snapshot := l.snapshotLocked()
	for _, validator := range l.validators {
		if err := validator.Validate(tx, snapshot); err != nil {
			return err
		}
	}
	return nil
}

// verifyTransactionSignature checks the Schnorr signature over the
// transaction's signing hash. Genesis transactions are unsigned and exempt.
func verifyTransactionSignature(tx *Transaction) error {
	if tx.TxKind == KindGenesis {
		return nil
	}
	if len(tx.PublicKey) != PublicKeySize {
		return NewRuleError(RejectMissingField, "public key has length %d, expected %d",
			len(tx.PublicKey), PublicKeySize)
	}
	if len(tx.Signature) != SignatureSize {
		return NewRuleError(RejectMissingField, "signature has length %d, expected %d",
			len(tx.Signature), SignatureSize)
	}
	signingHash, err := tx.SigningHash()
	if err != nil {
		return err
	}
	if !signer.VerifySignature(signingHash.ByteSlice(), tx.Signature, tx.PublicKey) {
		return NewRuleError(RejectInvalidSignature, "signature does not verify against the transaction's public key")
	}
	return nil
}

// MineBlock seals all currently pending transactions into a new block by
// searching for a nonce that satisfies the configured difficulty. The search
// runs outside the ledger lock; if the chain tip moves before the sealed
// block is appended, the search is abandoned and ErrSealingAborted is
// returned with the pending pool left intact.
func (l *Ledger) MineBlock() (*Block, error) {
	l.mtx.Lock()
	if l.halted {
		l.mtx.Unlock()
		return nil, errors.WithStack(ErrLedgerHalted)
	}
	if l.pool.len() == 0 {
		l.mtx.Unlock()
		return nil, errors.WithStack(ErrNothingToMine)
	}

	startVersion := atomic.LoadUint64(&l.tipVersion)
	tip := l.blocks[len(l.blocks)-1]
	tipHash, err := tip.Hash()
	if err != nil {
		l.mtx.Unlock()
		return nil, err
	}
	candidate := &Block{
		Index:           tip.Index + 1,
		PreviousHash:    tipHash,
		TimestampMillis: l.cfg.now().UnixNano() / int64(time.Millisecond),
		Difficulty:      l.cfg.Difficulty,
		Transactions:    l.pool.snapshot(),
	}
	l.mtx.Unlock()

	log.Debugf("Sealing block %d with %d transactions at difficulty %d",
		candidate.Index, len(candidate.Transactions), candidate.Difficulty)
	startTime := time.Now()
	if err := l.solveNonce(candidate, startVersion); err != nil {
		return nil, err
	}
	if err := candidate.seal(); err != nil {
		return nil, err
	}
	log.Debugf("Found nonce %d for block %d after %s",
		candidate.Nonce, candidate.Index, time.Since(startTime))

	l.mtx.Lock()
	if l.halted {
		l.mtx.Unlock()
		return nil, errors.WithStack(ErrLedgerHalted)
	}
	if atomic.LoadUint64(&l.tipVersion) != startVersion {
		l.mtx.Unlock()
		return nil, errors.WithStack(ErrSealingAborted)
	}
	atomic.AddUint64(&l.tipVersion, 1)

	if err := l.persistBlock(candidate); err != nil {
		l.halted = true
		l.mtx.Unlock()
		return nil, err
	}
	l.blocks = append(l.blocks, candidate)
	if err := l.indexBlockTransactions(candidate); err != nil {
		l.halted = true
		l.mtx.Unlock()
		return nil, err
	}
	l.removeSealedFromPoolLocked()
	snapshot := l.snapshotLocked()
	listeners := l.listenersLocked()
	l.mtx.Unlock()

	hash, err := candidate.Hash()
	if err != nil {
		return nil, err
	}
	log.Infof("Sealed block %d (%s) with %d transactions",
		candidate.Index, hash, len(candidate.Transactions))

	notifyListeners(listeners, candidate, snapshot)
	return candidate, nil
}

// solveNonce iterates nonces until the candidate's hash satisfies its
// difficulty, polling the tip version between batches so an incoming block
// aborts the search promptly.
func (l *Ledger) solveNonce(candidate *Block, startVersion uint64) error {
	for nonce := uint64(0); ; nonce++ {
		if nonce%tipVersionPollInterval == 0 && nonce != 0 {
			if atomic.LoadUint64(&l.tipVersion) != startVersion {
				return errors.WithStack(ErrSealingAborted)
			}
		}
		candidate.Nonce = nonce
		candidate.invalidateHash()
		solved, err := checkProofOfWork(candidate)
		if err != nil {
			return err
		}
		if solved {
			return nil
		}
	}
}

// AppendImportedBlock validates a block received from outside the node (a
// backup restore or a peer export) and appends it to the chain. The block
// must extend the current tip directly. Any in-progress nonce search is
// aborted before the append is attempted, whether or not the block turns out
// to be valid.
func (l *Ledger) AppendImportedBlock(block *Block) error {
	// Bump before taking the lock so a miner holding a solved block for the
	// old tip gives up instead of racing this append.
	atomic.AddUint64(&l.tipVersion, 1)

	l.mtx.Lock()
	if l.halted {
		l.mtx.Unlock()
		return errors.WithStack(ErrLedgerHalted)
	}

	tip := l.blocks[len(l.blocks)-1]
	if err := l.checkImportedBlockLocked(block, tip); err != nil {
		l.mtx.Unlock()
		log.Warnf("Rejected imported block at claimed index %d: %s", block.Index, err)
		return err
	}

	if err := l.persistBlock(block); err != nil {
		l.halted = true
		l.mtx.Unlock()
		return err
	}
	l.blocks = append(l.blocks, block)
	if err := l.indexBlockTransactions(block); err != nil {
		l.halted = true
		l.mtx.Unlock()
		return err
	}
	l.removeSealedFromPoolLocked()
	snapshot := l.snapshotLocked()
	listeners := l.listenersLocked()
	l.mtx.Unlock()

	hash, err := block.Hash()
	if err != nil {
		return err
	}
	log.Infof("Appended imported block %d (%s) with %d transactions",
		block.Index, hash, len(block.Transactions))

	notifyListeners(listeners, block, snapshot)
	return nil
}

func (l *Ledger) checkImportedBlockLocked(block *Block, tip *Block) error {
	if block.Index != tip.Index+1 {
		return NewRuleError(RejectNotNextBlock,
			"imported block has index %d, chain tip is at %d", block.Index, tip.Index)
	}
	tipHash, err := tip.Hash()
	if err != nil {
		return err
	}
	if !block.PreviousHash.Equal(tipHash) {
		return NewRuleError(RejectBrokenLink,
			"imported block links to %s, chain tip is %s", block.PreviousHash, tipHash)
	}
	headerHash, err := block.HeaderHash()
	if err != nil {
		return err
	}
	if !headerHash.Equal(block.SealedHash) {
		return NewRuleError(RejectHashMismatch,
			"imported block's recorded hash %s does not match its recomputed hash %s",
			block.SealedHash, headerHash)
	}
	if block.Difficulty < l.cfg.Difficulty {
		return NewRuleError(RejectBadProofOfWork,
			"imported block declares difficulty %d, this node requires at least %d",
			block.Difficulty, l.cfg.Difficulty)
	}
	solved, err := checkProofOfWork(block)
	if err != nil {
		return err
	}
	if !solved {
		return NewRuleError(RejectBadProofOfWork,
			"imported block's hash does not satisfy difficulty %d", block.Difficulty)
	}

	seen := make(map[Hash]struct{})
	for _, tx := range block.Transactions {
		if err := verifyTransactionSignature(tx); err != nil {
			return err
		}
		id, err := tx.ID()
		if err != nil {
			return err
		}
		if _, sealed := l.sealedIDs[*id]; sealed {
			return NewRuleError(RejectDuplicateID,
				"imported block carries transaction %s which is already sealed", id)
		}
		if _, dup := seen[*id]; dup {
			return NewRuleError(RejectDuplicateID,
				"imported block carries transaction %s twice", id)
		}
		seen[*id] = struct{}{}
	}
	return nil
}

// removeSealedFromPoolLocked drops any pending transactions that were just
// sealed.
func (l *Ledger) removeSealedFromPoolLocked() {
	if l.pool.len() == 0 {
		return
	}
	remaining := l.pool.drain()
	for _, tx := range remaining {
		id, err := tx.ID()
		if err != nil {
			continue
		}
		if _, nowSealed := l.sealedIDs[*id]; nowSealed {
			continue
		}
		if err := l.pool.add(tx); err != nil {
			log.Errorf("Failed re-adding pending transaction %s: %s", id, err)
		}
	}
}

func (l *Ledger) listenersLocked() []BlockListener {
	listeners := make([]BlockListener, len(l.listeners))
	copy(listeners, l.listeners)
	return listeners
}

func notifyListeners(listeners []BlockListener, block *Block, snapshot *Snapshot) {
	for _, listener := range listeners {
		listener(block, snapshot)
	}
}

// persistBlock atomically writes the block record and the tip pointer. The
// write batch makes the append all-or-nothing: a crash mid-write leaves the
// previous tip intact.
func (l *Ledger) persistBlock(block *Block) error {
	serialized, err := block.Serialize()
	if err != nil {
		return err
	}
	hash, err := block.Hash()
	if err != nil {
		return err
	}

	dbTx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer dbTx.RollbackUnlessClosed()

	if err := dbTx.Put(ledgerdb.BlockKey(block.Index), serialized); err != nil {
		return err
	}
	if err := dbTx.Put(ledgerdb.TipKey(), hash.ByteSlice()); err != nil {
		return err
	}
	return dbTx.Commit()
}

// ValidateChain walks the whole chain from genesis and verifies every hash,
// link, proof of work and signature. It returns nil for an intact chain and a
// ChainIntegrityError naming the first offending block otherwise.
func (l *Ledger) ValidateChain() error {
	l.mtx.Lock()
	blocks := make([]*Block, len(l.blocks))
	copy(blocks, l.blocks)
	difficulty := l.cfg.Difficulty
	l.mtx.Unlock()

	return ValidateBlockSequence(blocks, difficulty)
}

// Halt marks the ledger as untrustworthy. Subsequent mutating calls fail with
// ErrLedgerHalted.
func (l *Ledger) Halt() {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.halted = true
	log.Warnf("Ledger halted, rejecting further mutation")
}

// ValidateBlockSequence verifies a full chain: genesis shape, sequential
// indexes, hash links, proof of work at or above minDifficulty, transaction
// signatures and chain-wide transaction ID uniqueness.
func ValidateBlockSequence(blocks []*Block, minDifficulty uint32) error {
	if len(blocks) == 0 {
		return NewChainIntegrityError(0, RejectBadIndex, "chain is empty")
	}

	genesis := blocks[0]
	if genesis.Index != 0 {
		return NewChainIntegrityError(0, RejectBadIndex,
			"first block has index %d, expected 0", genesis.Index)
	}
	if !genesis.PreviousHash.Equal(&zeroHash) {
		return NewChainIntegrityError(0, RejectBrokenLink,
			"genesis block links to %s, expected the zero hash", genesis.PreviousHash)
	}

	seenIDs := make(map[Hash]struct{})
	for i, block := range blocks {
		index := uint64(i)
		if block.Index != index {
			return NewChainIntegrityError(index, RejectBadIndex,
				"block at position %d declares index %d", index, block.Index)
		}
		headerHash, err := block.HeaderHash()
		if err != nil {
			return err
		}
		if !headerHash.Equal(block.SealedHash) {
			return NewChainIntegrityError(index, RejectHashMismatch,
				"block %d's recorded hash %s does not match its recomputed hash %s",
				index, block.SealedHash, headerHash)
		}
		if i > 0 {
			prevHash, err := blocks[i-1].Hash()
			if err != nil {
				return err
			}
			if !block.PreviousHash.Equal(prevHash) {
				return NewChainIntegrityError(index, RejectBrokenLink,
					"block %d links to %s, previous block hashes to %s",
					index, block.PreviousHash, prevHash)
			}
			if block.Difficulty < minDifficulty {
				return NewChainIntegrityError(index, RejectBadProofOfWork,
					"block %d declares difficulty %d, below the required %d",
					index, block.Difficulty, minDifficulty)
			}
			solved, err := checkProofOfWork(block)
			if err != nil {
				return err
			}
			if !solved {
				return NewChainIntegrityError(index, RejectBadProofOfWork,
					"block %d's hash does not satisfy difficulty %d", index, block.Difficulty)
			}
		}

		for _, tx := range block.Transactions {
			if err := verifyTransactionSignature(tx); err != nil {
				ruleErr, ok := ExtractRuleError(err)
				if !ok {
					return err
				}
				return NewChainIntegrityError(index, ruleErr.Code, "%s", ruleErr.Description)
			}
			id, err := tx.ID()
			if err != nil {
				return err
			}
			if _, dup := seenIDs[*id]; dup {
				return NewChainIntegrityError(index, RejectDuplicateID,
					"transaction %s appears more than once in the chain", id)
			}
			seenIDs[*id] = struct{}{}
		}
	}
	return nil
}

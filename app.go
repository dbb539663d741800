package main

import (
	"fmt"
	"os"
	"time"

	"github.com/bookchain/bookchaind/domain/contracts"
	"github.com/bookchain/bookchaind/domain/ledger"
	"github.com/bookchain/bookchaind/domain/outbox"
	"github.com/bookchain/bookchaind/domain/signer"
	"github.com/bookchain/bookchaind/domain/validation"
	"github.com/bookchain/bookchaind/infrastructure/config"
	"github.com/bookchain/bookchaind/infrastructure/db/ledgerdb"
	"github.com/bookchain/bookchaind/infrastructure/logger"
	"github.com/bookchain/bookchaind/infrastructure/os/signal"
	"github.com/bookchain/bookchaind/util/panics"
	"github.com/bookchain/bookchaind/version"
	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// Built-in contract IDs registered on first start.
const (
	withholdingContractID  = "tax-withholding"
	auditContractID        = "audit-enforcement"
	paymentTermsContractID = "payment-terms"
)

func startApp() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			return nil
		}
		return err
	}
	if cfg.ShowVersion {
		fmt.Printf("bookchaind version %s\n", version.Version())
		return nil
	}

	initLog(cfg.LogFile(), cfg.LogLevel)
	defer logger.BackendLog.Close()
	defer panics.HandlePanic(log, "MAIN", nil)

	log.Infof("Version %s", version.Version())
	log.Infof("Using app directory %s", cfg.AppDir)

	interrupt := signal.InterruptListener()

	keyPair, err := loadOrCreateKeyPair(cfg)
	if err != nil {
		return err
	}

	db, err := ledgerdb.Open(cfg.AppDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Errorf("Failed closing the ledger store: %s", err)
		}
	}()

	chain, err := ledger.New(&ledger.Config{
		Difficulty:       cfg.Difficulty,
		GenesisMessage:   cfg.GenesisMessage,
		MaxTimestampSkew: cfg.MaxTimestampSkew,
	}, db)
	if err != nil {
		return err
	}
	for _, validator := range validation.StandardSet() {
		chain.RegisterValidator(validator)
	}

	engine, err := contracts.NewEngine(&contracts.Config{
		Ledger:          chain,
		KeyPair:         keyPair,
		DB:              db,
		Outbox:          outbox.New(db),
		ExecutionBudget: cfg.ContractBudget,
	})
	if err != nil {
		return err
	}
	if err := registerBuiltinContracts(cfg, engine); err != nil {
		return err
	}
	chain.RegisterBlockListener(engine.OnBlockPersisted)

	if cfg.MineOnce {
		block, err := chain.MineBlock()
		if err != nil {
			return err
		}
		hash, err := block.Hash()
		if err != nil {
			return err
		}
		fmt.Printf("Sealed block %d (%s)\n", block.Index, hash)
		return nil
	}

	spawn := panics.GoroutineWrapperFunc(log)
	stopSealing := make(chan struct{})
	spawn("sealingLoop", func() {
		sealingLoop(cfg.SealInterval, chain, stopSealing)
	})

	<-interrupt
	close(stopSealing)
	log.Infof("Shutdown complete")
	return nil
}

// sealingLoop periodically seals the pending pool into a new block. An empty
// pool or an aborted nonce search just waits for the next tick; a halted
// ledger stops the loop.
func sealingLoop(interval time.Duration, chain *ledger.Ledger, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		_, err := chain.MineBlock()
		switch {
		case err == nil:
		case errors.Is(err, ledger.ErrNothingToMine):
		case errors.Is(err, ledger.ErrSealingAborted):
			log.Debugf("Sealing aborted, tip moved during the nonce search")
		case errors.Is(err, ledger.ErrLedgerHalted):
			log.Errorf("Ledger halted, stopping the sealing loop")
			return
		default:
			log.Errorf("Sealing failed: %+v", err)
		}
	}
}

func loadOrCreateKeyPair(cfg *config.Config) (*signer.KeyPair, error) {
	keyPair, err := signer.LoadKeyFile(cfg.KeyFile, nil)
	if err == nil {
		return keyPair, nil
	}

	if errors.Is(err, signer.ErrPassphraseRequired) {
		passphrase, promptErr := signer.PromptPassphrase(false)
		if promptErr != nil {
			return nil, promptErr
		}
		return signer.LoadKeyFile(cfg.KeyFile, passphrase)
	}

	if _, statErr := os.Stat(cfg.KeyFile); statErr == nil || !os.IsNotExist(statErr) {
		return nil, err
	}

	log.Warnf("No keyfile at %s, generating a new node key", cfg.KeyFile)
	keyPair, err = signer.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := signer.SaveKeyFile(cfg.KeyFile, keyPair, nil); err != nil {
		return nil, err
	}
	log.Warnf("New keyfile saved unencrypted. Run genkeypair to create an encrypted key with a mnemonic backup.")
	return keyPair, nil
}

func registerBuiltinContracts(cfg *config.Config, engine *contracts.Engine) error {
	registered := make(map[string]struct{})
	for _, contract := range engine.Contracts() {
		registered[contract.ID()] = struct{}{}
	}
	now := time.Now()

	if !cfg.NoWithholding {
		if _, ok := registered[withholdingContractID]; !ok {
			contract, err := contracts.NewTaxWithholding(contracts.TaxWithholdingConfig{
				ContractID:   withholdingContractID,
				Jurisdiction: cfg.Jurisdiction,
				HomeState:    cfg.HomeState,
			})
			if err != nil {
				return err
			}
			if err := engine.Register(contract, now); err != nil {
				return err
			}
		}
	}
	if !cfg.NoAudit {
		if _, ok := registered[auditContractID]; !ok {
			contract, err := contracts.NewAuditEnforcement(contracts.AuditEnforcementConfig{
				ContractID: auditContractID,
			})
			if err != nil {
				return err
			}
			if err := engine.Register(contract, now); err != nil {
				return err
			}
		}
	}
	if !cfg.NoPaymentTerms {
		if _, ok := registered[paymentTermsContractID]; !ok {
			contract, err := contracts.NewPaymentTerms(contracts.PaymentTermsConfig{
				ContractID:         paymentTermsContractID,
				GraceDays:          cfg.GraceDays,
				LateFeeBasisPoints: cfg.LateFeeBP,
			})
			if err != nil {
				return err
			}
			if err := engine.Register(contract, now); err != nil {
				return err
			}
		}
	}
	return nil
}

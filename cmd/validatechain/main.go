// validatechain opens a chain store read-only and verifies every block hash,
// link, proof of work and signature. Exit code 0 means the chain is intact,
// 1 means corruption was found.
package main

import (
	"fmt"
	"os"

	"github.com/bookchain/bookchaind/domain/ledger"
	"github.com/bookchain/bookchaind/infrastructure/config"
	"github.com/bookchain/bookchaind/infrastructure/db/ledgerdb"
	flags "github.com/jessevdk/go-flags"
)

type options struct {
	AppDir     string `short:"b" long:"appdir" description:"Directory holding the chain store"`
	Difficulty uint32 `long:"difficulty" description:"Minimum difficulty the chain must satisfy"`
}

func main() {
	opts := &options{
		AppDir:     config.DefaultAppDir,
		Difficulty: 16,
	}
	if _, err := flags.Parse(opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	db, err := ledgerdb.OpenReadOnly(opts.AppDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed opening the chain store: %+v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	chain, err := ledger.New(&ledger.Config{Difficulty: opts.Difficulty}, db)
	if err != nil {
		reportCorruption(err)
	}
	if err := chain.ValidateChain(); err != nil {
		reportCorruption(err)
	}

	snapshot := chain.Snapshot()
	fmt.Printf("Chain is valid: %d blocks, tip at index %d\n",
		len(snapshot.Blocks), snapshot.Height())
	os.Exit(0)
}

func reportCorruption(err error) {
	if integrityErr, ok := ledger.ExtractChainIntegrityError(err); ok {
		fmt.Fprintf(os.Stderr, "Chain corrupted at block %d: %s (%s)\n",
			integrityErr.Index, integrityErr.Description, integrityErr.Code)
	} else {
		fmt.Fprintf(os.Stderr, "Chain validation failed: %+v\n", err)
	}
	os.Exit(1)
}

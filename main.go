package main

import (
	"fmt"
	"os"

	"github.com/bookchain/bookchaind/domain/ledger"
	"github.com/pkg/errors"
)

func main() {
	err := startApp()
	if err != nil {
		if errors.Is(err, ledger.ErrNothingToMine) {
			fmt.Fprintln(os.Stderr, "No pending transactions to seal")
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

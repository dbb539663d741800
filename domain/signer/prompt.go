package signer

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

// PromptPassphrase reads a passphrase from the terminal without echoing it.
// With confirm set, the passphrase is read twice and must match.
func PromptPassphrase(confirm bool) ([]byte, error) {
	fmt.Print("Passphrase: ")
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, errors.Wrap(err, "failed reading the passphrase")
	}
	if !confirm {
		return passphrase, nil
	}

	fmt.Print("Confirm passphrase: ")
	confirmation, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, errors.Wrap(err, "failed reading the passphrase confirmation")
	}
	if string(passphrase) != string(confirmation) {
		return nil, errors.New("passphrases do not match")
	}
	return passphrase, nil
}

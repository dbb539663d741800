// genkeypair creates or restores the node's keyfile and prints the mnemonic
// backup of the private key.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bookchain/bookchaind/domain/signer"
	"github.com/bookchain/bookchaind/infrastructure/config"
	flags "github.com/jessevdk/go-flags"
)

type options struct {
	KeyFile   string `long:"keyfile" description:"Path of the keyfile to create"`
	Restore   bool   `long:"restore" description:"Restore the key from a mnemonic instead of generating a new one"`
	Plaintext bool   `long:"plaintext" description:"Store the private key unencrypted (no passphrase prompt)"`
}

func main() {
	opts := &options{
		KeyFile: filepath.Join(config.DefaultAppDir, "keys.json"),
	}
	if _, err := flags.Parse(opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func run(opts *options) error {
	var keyPair *signer.KeyPair
	var err error
	if opts.Restore {
		fmt.Print("Mnemonic: ")
		reader := bufio.NewReader(os.Stdin)
		mnemonic, readErr := reader.ReadString('\n')
		if readErr != nil {
			return readErr
		}
		keyPair, err = signer.FromMnemonic(strings.TrimSpace(mnemonic))
	} else {
		keyPair, err = signer.GenerateKeyPair()
	}
	if err != nil {
		return err
	}

	var passphrase []byte
	if !opts.Plaintext {
		passphrase, err = signer.PromptPassphrase(true)
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(opts.KeyFile), 0700); err != nil {
		return err
	}
	if err := signer.SaveKeyFile(opts.KeyFile, keyPair, passphrase); err != nil {
		return err
	}

	fmt.Printf("Keyfile written to %s\n", opts.KeyFile)
	fmt.Printf("Public key: %x\n", keyPair.PublicKey())

	if !opts.Restore {
		mnemonic, err := keyPair.Mnemonic()
		if err != nil {
			return err
		}
		fmt.Println("\nWrite down this mnemonic. It is the only way to restore the key:")
		fmt.Println(mnemonic)
	}
	return nil
}

package signer

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io/ioutil"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// keyFileVersion is bumped whenever the keyfile format changes incompatibly.
const keyFileVersion = 1

// Argon2id parameters for deriving the keyfile encryption key from a
// passphrase.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = chacha20poly1305.KeySize
	saltSize     = 16
)

// ErrKeyFileExists is returned by SaveKeyFile when the target path already
// holds a keyfile, to keep a running node's identity from being silently
// replaced.
var ErrKeyFileExists = errors.New("keyfile already exists")

// ErrPassphraseRequired is returned by LoadKeyFile when the keyfile is
// encrypted and no passphrase was supplied.
var ErrPassphraseRequired = errors.New("keyfile is encrypted, a passphrase is required")

// ErrWrongPassphrase is returned by LoadKeyFile when decryption fails.
var ErrWrongPassphrase = errors.New("keyfile decryption failed, wrong passphrase")

type keyFileJSON struct {
	Version    int    `json:"version"`
	Encrypted  bool   `json:"encrypted"`
	Salt       string `json:"salt,omitempty"`
	Nonce      string `json:"nonce,omitempty"`
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

// SaveKeyFile writes the key pair to path as a JSON keyfile with owner-only
// permissions. With a non-empty passphrase the private key is sealed with
// XChaCha20-Poly1305 under an Argon2id-derived key; with an empty passphrase
// it is stored in the clear.
func SaveKeyFile(path string, kp *KeyPair, passphrase []byte) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Wrapf(ErrKeyFileExists, "path %s", path)
	} else if !os.IsNotExist(err) {
		return errors.WithStack(err)
	}

	fileContents := &keyFileJSON{
		Version:   keyFileVersion,
		PublicKey: hex.EncodeToString(kp.PublicKey()),
	}

	privateKey := kp.PrivateKeyBytes()
	if len(passphrase) == 0 {
		fileContents.PrivateKey = hex.EncodeToString(privateKey)
	} else {
		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return errors.WithStack(err)
		}
		aead, err := newAEAD(passphrase, salt)
		if err != nil {
			return err
		}
		nonce := make([]byte, aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return errors.WithStack(err)
		}
		fileContents.Encrypted = true
		fileContents.Salt = hex.EncodeToString(salt)
		fileContents.Nonce = hex.EncodeToString(nonce)
		fileContents.PrivateKey = hex.EncodeToString(aead.Seal(nil, nonce, privateKey, nil))
	}

	serialized, err := json.MarshalIndent(fileContents, "", "\t")
	if err != nil {
		return errors.WithStack(err)
	}
	if err := ioutil.WriteFile(path, serialized, 0600); err != nil {
		return errors.Wrapf(err, "failed writing keyfile to %s", path)
	}
	log.Infof("Saved keyfile to %s (encrypted: %t)", path, fileContents.Encrypted)
	return nil
}

// LoadKeyFile reads a keyfile written by SaveKeyFile and reconstructs the key
// pair, decrypting with the given passphrase when the file is encrypted.
func LoadKeyFile(path string, passphrase []byte) (*KeyPair, error) {
	serialized, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed reading keyfile from %s", path)
	}

	fileContents := &keyFileJSON{}
	if err := json.Unmarshal(serialized, fileContents); err != nil {
		return nil, errors.Wrapf(err, "keyfile %s is malformed", path)
	}
	if fileContents.Version != keyFileVersion {
		return nil, errors.Errorf("keyfile %s has version %d, this node understands version %d",
			path, fileContents.Version, keyFileVersion)
	}

	privateKeyData, err := hex.DecodeString(fileContents.PrivateKey)
	if err != nil {
		return nil, errors.Wrapf(err, "keyfile %s holds a malformed private key", path)
	}

	if fileContents.Encrypted {
		if len(passphrase) == 0 {
			return nil, errors.WithStack(ErrPassphraseRequired)
		}
		salt, err := hex.DecodeString(fileContents.Salt)
		if err != nil {
			return nil, errors.Wrapf(err, "keyfile %s holds a malformed salt", path)
		}
		nonce, err := hex.DecodeString(fileContents.Nonce)
		if err != nil {
			return nil, errors.Wrapf(err, "keyfile %s holds a malformed nonce", path)
		}
		aead, err := newAEAD(passphrase, salt)
		if err != nil {
			return nil, err
		}
		privateKeyData, err = aead.Open(nil, nonce, privateKeyData, nil)
		if err != nil {
			return nil, errors.WithStack(ErrWrongPassphrase)
		}
	}

	kp, err := FromPrivateKeyBytes(privateKeyData)
	if err != nil {
		return nil, err
	}
	if expected := hex.EncodeToString(kp.PublicKey()); expected != fileContents.PublicKey {
		return nil, errors.Errorf("keyfile %s's public key does not match its private key", path)
	}
	return kp, nil
}

func newAEAD(passphrase, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return aead, nil
}

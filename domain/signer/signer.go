// Package signer holds the node's identity key and produces the Schnorr
// signatures that authenticate every transaction on the ledger.
package signer

import (
	secp256k1 "github.com/kaspanet/go-secp256k1"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
)

// Key material sizes on the wire.
const (
	PrivateKeySize = 32
	PublicKeySize  = 32
	SignatureSize  = secp256k1.SerializedSchnorrSignatureSize
	hashSize       = 32
)

// KeyPair is a Schnorr signing key with its derived public key.
type KeyPair struct {
	keyPair   *secp256k1.SchnorrKeyPair
	publicKey []byte
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	keyPair, err := secp256k1.GenerateSchnorrKeyPair()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate a Schnorr key pair")
	}
	return newKeyPair(keyPair)
}

// FromPrivateKeyBytes reconstructs a key pair from a serialized private key.
func FromPrivateKeyBytes(privateKey []byte) (*KeyPair, error) {
	if len(privateKey) != PrivateKeySize {
		return nil, errors.Errorf("private key has length %d, expected %d",
			len(privateKey), PrivateKeySize)
	}
	keyPair, err := secp256k1.DeserializeSchnorrPrivateKeyFromSlice(privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to deserialize the private key")
	}
	return newKeyPair(keyPair)
}

// FromMnemonic reconstructs a key pair from a BIP-39 mnemonic produced by
// Mnemonic.
func FromMnemonic(mnemonic string) (*KeyPair, error) {
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, errors.Wrap(err, "invalid mnemonic")
	}
	return FromPrivateKeyBytes(entropy)
}

func newKeyPair(keyPair *secp256k1.SchnorrKeyPair) (*KeyPair, error) {
	publicKey, err := keyPair.SchnorrPublicKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive the public key")
	}
	serialized, err := publicKey.Serialize()
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize the public key")
	}
	return &KeyPair{keyPair: keyPair, publicKey: serialized[:]}, nil
}

// PublicKey returns the 32-byte serialized public key. The returned slice is
// a copy and safe to modify.
func (kp *KeyPair) PublicKey() []byte {
	publicKey := make([]byte, len(kp.publicKey))
	copy(publicKey, kp.publicKey)
	return publicKey
}

// PrivateKeyBytes returns the 32-byte serialized private key. The returned
// slice is a copy; callers are responsible for not leaking it.
func (kp *KeyPair) PrivateKeyBytes() []byte {
	serialized := kp.keyPair.SerializePrivateKey()
	privateKey := make([]byte, PrivateKeySize)
	copy(privateKey, serialized[:])
	return privateKey
}

// Mnemonic encodes the private key as a BIP-39 mnemonic sentence for offline
// backup. FromMnemonic restores the exact same key pair.
func (kp *KeyPair) Mnemonic() (string, error) {
	mnemonic, err := bip39.NewMnemonic(kp.PrivateKeyBytes())
	if err != nil {
		return "", errors.Wrap(err, "failed to encode the private key as a mnemonic")
	}
	return mnemonic, nil
}

// Sign produces a 64-byte Schnorr signature over the given 32-byte digest.
func (kp *KeyPair) Sign(hash []byte) ([]byte, error) {
	secpHash, err := toSecpHash(hash)
	if err != nil {
		return nil, err
	}
	signature, err := kp.keyPair.SchnorrSign(secpHash)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign the digest")
	}
	serialized := signature.Serialize()
	return serialized[:], nil
}

// VerifySignature reports whether signature is a valid Schnorr signature over
// hash by the holder of publicKey. Malformed inputs verify as false.
func VerifySignature(hash, signature, publicKey []byte) bool {
	secpHash, err := toSecpHash(hash)
	if err != nil {
		return false
	}
	pubKey, err := secp256k1.DeserializeSchnorrPubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := secp256k1.DeserializeSchnorrSignatureFromSlice(signature)
	if err != nil {
		return false
	}
	return pubKey.SchnorrVerify(secpHash, sig)
}

func toSecpHash(hash []byte) (*secp256k1.Hash, error) {
	if len(hash) != hashSize {
		return nil, errors.Errorf("digest has length %d, expected %d", len(hash), hashSize)
	}
	var hashArray [hashSize]byte
	copy(hashArray[:], hash)
	secpHash := secp256k1.Hash(hashArray)
	return &secpHash, nil
}

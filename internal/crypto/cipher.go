// Package crypto provides the authenticated symmetric ciphers used to keep
// agent secrets encrypted at rest.
package crypto

import (
	"errors"
	"fmt"
)

const (
	CipherAES = "aes-256-gcm"
	CipherAge = "age-scrypt"
)

// Cipher seals and opens self-describing envelopes under one master secret.
type Cipher interface {
	Name() string
	Seal(plaintext []byte) ([]byte, error)
	Open(envelope []byte) ([]byte, error)
}

// New returns the named cipher keyed by secret.
func New(name, secret string) (Cipher, error) {
	if secret == "" {
		return nil, errors.New("master secret is empty")
	}
	switch name {
	case CipherAES, "":
		return newAESCipher(secret), nil
	case CipherAge:
		return &ageCipher{passphrase: secret}, nil
	default:
		return nil, fmt.Errorf("unknown cipher: %s", name)
	}
}

package crypto

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
)

// ageWorkFactor is the scrypt log2(N) used when sealing. Lower than age's
// interactive default because secrets are opened on every process launch.
const ageWorkFactor = 15

// ageCipher seals with age's passphrase (scrypt) recipient.
type ageCipher struct {
	passphrase string
}

func (c *ageCipher) Name() string { return CipherAge }

func (c *ageCipher) Seal(plaintext []byte) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(c.passphrase)
	if err != nil {
		return nil, fmt.Errorf("age recipient: %w", err)
	}
	recipient.SetWorkFactor(ageWorkFactor)

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *ageCipher) Open(envelope []byte) ([]byte, error) {
	identity, err := age.NewScryptIdentity(c.passphrase)
	if err != nil {
		return nil, fmt.Errorf("age identity: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(envelope), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}

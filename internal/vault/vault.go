// Package vault keeps agent secrets encrypted at rest and decrypts them only
// when a process environment is being built.
package vault

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ssd-technologies/gitagent/internal/crypto"
	"github.com/ssd-technologies/gitagent/internal/storage"
)

// ErrInvalidSecret is returned for a key that is not an environment variable
// name or a value the process environment cannot carry.
var ErrInvalidSecret = errors.New("invalid secret")

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Check reports whether key and value can be exported as KEY=value.
func Check(key, value string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: key %q must match %s", ErrInvalidSecret, key, keyPattern)
	}
	if strings.IndexByte(value, 0) >= 0 {
		return fmt.Errorf("%w: value of %s contains a NUL byte", ErrInvalidSecret, key)
	}
	return nil
}

// Store is the subset of storage the vault needs.
type Store interface {
	SaveSecret(agentID, key, encryptedValue string) error
	ListSecrets(agentID string) ([]storage.Secret, error)
}

// Vault seals secrets with the configured cipher and opens any envelope
// written by a cipher it knows under the same master secret.
type Vault struct {
	store   Store
	seal    crypto.Cipher
	ciphers map[string]crypto.Cipher
	logger  *slog.Logger
}

// New builds a vault keyed by master. cipherName selects the cipher used for
// new writes; both ciphers stay available for reading.
func New(store Store, master, cipherName string, logger *slog.Logger) (*Vault, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Vault{store: store, ciphers: make(map[string]crypto.Cipher), logger: logger}
	for _, name := range []string{crypto.CipherAES, crypto.CipherAge} {
		c, err := crypto.New(name, master)
		if err != nil {
			return nil, fmt.Errorf("init %s cipher: %w", name, err)
		}
		v.ciphers[name] = c
	}
	if cipherName == "" {
		cipherName = crypto.CipherAES
	}
	seal, ok := v.ciphers[cipherName]
	if !ok {
		return nil, fmt.Errorf("unknown cipher: %s", cipherName)
	}
	v.seal = seal
	return v, nil
}

// Encrypt returns the storable form of plaintext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	envelope, err := v.seal.Seal([]byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return v.seal.Name() + ":" + base64.StdEncoding.EncodeToString(envelope), nil
}

// Decrypt reverses Encrypt.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	name, encoded, ok := strings.Cut(ciphertext, ":")
	if !ok {
		return "", errors.New("decrypt: missing cipher prefix")
	}
	c, ok := v.ciphers[name]
	if !ok {
		return "", fmt.Errorf("decrypt: unknown cipher %q", name)
	}
	envelope, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decrypt: decode envelope: %w", err)
	}
	plaintext, err := c.Open(envelope)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// Save encrypts value and stores it under key, replacing any previous value.
func (v *Vault) Save(agentID, key, value string) error {
	if err := Check(key, value); err != nil {
		return err
	}
	ciphertext, err := v.Encrypt(value)
	if err != nil {
		return err
	}
	if err := v.store.SaveSecret(agentID, key, ciphertext); err != nil {
		return err
	}
	v.logger.Info("secret saved", "agent_id", agentID, "key", key)
	return nil
}

// Materialize decrypts every secret of an agent. A secret that fails to
// decrypt, or that could not be exported as KEY=value, is logged and left
// out of the result.
func (v *Vault) Materialize(agentID string) (map[string]string, error) {
	secrets, err := v.store.ListSecrets(agentID)
	if err != nil {
		return nil, fmt.Errorf("materialize secrets: %w", err)
	}
	env := make(map[string]string, len(secrets))
	for _, s := range secrets {
		plaintext, err := v.Decrypt(s.EncryptedValue)
		if err != nil {
			v.logger.Warn("skipping undecryptable secret", "agent_id", agentID, "key", s.Key, "error", err)
			continue
		}
		if err := Check(s.Key, plaintext); err != nil {
			v.logger.Warn("skipping unexportable secret", "agent_id", agentID, "key", s.Key, "error", err)
			continue
		}
		env[s.Key] = plaintext
	}
	return env, nil
}

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
)

const aesNonceLen = 12

// aesCipher seals with AES-256-GCM under an argon2id key derived from the
// master secret. Each envelope is salt || nonce || ciphertext. Derived keys
// are cached per salt so a process pays for argon2 once per salt it sees.
type aesCipher struct {
	secret string
	salt   []byte

	mu   sync.Mutex
	keys map[string][]byte
}

func newAESCipher(secret string) *aesCipher {
	return &aesCipher{
		secret: secret,
		salt:   GenerateSalt(),
		keys:   make(map[string][]byte),
	}
}

func (c *aesCipher) Name() string { return CipherAES }

func (c *aesCipher) key(salt []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k, ok := c.keys[string(salt)]; ok {
		return k
	}
	k := DeriveKey(c.secret, salt)
	c.keys[string(salt)] = k
	return k
}

func (c *aesCipher) Seal(plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(c.key(c.salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aesNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := make([]byte, 0, saltLen+aesNonceLen+len(plaintext)+gcm.Overhead())
	out = append(out, c.salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

func (c *aesCipher) Open(envelope []byte) ([]byte, error) {
	if len(envelope) < saltLen+aesNonceLen {
		return nil, errors.New("aes: envelope too short")
	}
	salt := envelope[:saltLen]
	nonce := envelope[saltLen : saltLen+aesNonceLen]
	gcm, err := newGCM(c.key(salt))
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, envelope[saltLen+aesNonceLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return gcm, nil
}

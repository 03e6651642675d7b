package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveSecret stores an encrypted value for (agentID, key), replacing any
// previous value for the same key.
func (d *DB) SaveSecret(agentID, key, encryptedValue string) error {
	now := time.Now().UTC().UnixNano()
	_, err := d.exec(
		`INSERT INTO secrets (id, agent_id, key, encrypted_value, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (agent_id, key) DO UPDATE
		 SET encrypted_value = excluded.encrypted_value, updated_at = excluded.updated_at`,
		uuid.New().String(), agentID, key, encryptedValue, now, now,
	)
	if err != nil {
		return fmt.Errorf("save secret: %w", err)
	}
	return nil
}

// ListSecrets returns all encrypted secrets belonging to an agent.
func (d *DB) ListSecrets(agentID string) ([]Secret, error) {
	rows, err := d.query(
		`SELECT id, agent_id, key, encrypted_value, created_at, updated_at
		 FROM secrets WHERE agent_id = ? ORDER BY key`, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	defer rows.Close()

	secrets := []Secret{}
	for rows.Next() {
		var s Secret
		var created, updated int64
		if err := rows.Scan(&s.ID, &s.AgentID, &s.Key, &s.EncryptedValue, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan secret: %w", err)
		}
		s.CreatedAt = time.Unix(0, created).UTC()
		s.UpdatedAt = time.Unix(0, updated).UTC()
		secrets = append(secrets, s)
	}
	return secrets, rows.Err()
}

// ListSecretKeys returns the secret names of an agent without their values.
func (d *DB) ListSecretKeys(agentID string) ([]string, error) {
	rows, err := d.query(`SELECT key FROM secrets WHERE agent_id = ? ORDER BY key`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list secret keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan secret key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

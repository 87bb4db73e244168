package persistence

import (
	"context"
	"fmt"
	"time"

	"spotarb/internal/models"
	"spotarb/pkg/crypto"
)

// SaveVenueAccount upserts a venue's credentials, encrypting APIKey,
// SecretKey and Passphrase at rest with AES-256-GCM under encryptionKey
// (32 bytes, config.SecurityConfig.EncryptionKey) before they ever reach
// the database.
func (s *Store) SaveVenueAccount(acct models.VenueAccount, encryptionKey string) error {
	ctx, cancel := s.ctx(nil)
	defer cancel()

	apiKeyEnc, err := crypto.EncryptWithKeyString(acct.APIKey, encryptionKey)
	if err != nil {
		return fmt.Errorf("persistence: encrypt api key: %w", err)
	}
	secretEnc, err := crypto.EncryptWithKeyString(acct.SecretKey, encryptionKey)
	if err != nil {
		return fmt.Errorf("persistence: encrypt secret key: %w", err)
	}
	passphraseEnc, err := crypto.EncryptWithKeyString(acct.Passphrase, encryptionKey)
	if err != nil {
		return fmt.Errorf("persistence: encrypt passphrase: %w", err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO exchange_accounts (name, api_key, secret_key, passphrase, connected, last_error, updated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (name) DO UPDATE SET
			api_key = EXCLUDED.api_key,
			secret_key = EXCLUDED.secret_key,
			passphrase = EXCLUDED.passphrase,
			connected = EXCLUDED.connected,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at`,
		acct.Name, apiKeyEnc, secretEnc, passphraseEnc, acct.Connected, nullIfEmpty(acct.LastError), now)
	if err != nil {
		return fmt.Errorf("persistence: upsert exchange account: %w", err)
	}
	return nil
}

// LoadVenueAccounts returns every stored venue account with credentials
// decrypted under encryptionKey. A decryption failure for one account
// (stale/rotated key) does not abort the others; it is returned as a
// wrapped error alongside whatever accounts did decrypt cleanly.
func (s *Store) LoadVenueAccounts(ctx context.Context, encryptionKey string) ([]models.VenueAccount, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	type accountRow struct {
		ID         int       `db:"id"`
		Name       string    `db:"name"`
		APIKey     string    `db:"api_key"`
		SecretKey  string    `db:"secret_key"`
		Passphrase string    `db:"passphrase"`
		Connected  bool      `db:"connected"`
		LastError  *string   `db:"last_error"`
		UpdatedAt  time.Time `db:"updated_at"`
		CreatedAt  time.Time `db:"created_at"`
	}

	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, api_key, secret_key, passphrase, connected, last_error, updated_at, created_at
		FROM exchange_accounts ORDER BY name ASC`); err != nil {
		return nil, fmt.Errorf("persistence: select exchange accounts: %w", err)
	}

	out := make([]models.VenueAccount, 0, len(rows))
	var decryptErr error
	for _, r := range rows {
		apiKey, err := crypto.DecryptWithKeyString(r.APIKey, encryptionKey)
		if err != nil {
			decryptErr = fmt.Errorf("persistence: decrypt account %q: %w", r.Name, err)
			continue
		}
		secretKey, err := crypto.DecryptWithKeyString(r.SecretKey, encryptionKey)
		if err != nil {
			decryptErr = fmt.Errorf("persistence: decrypt account %q: %w", r.Name, err)
			continue
		}
		passphrase, err := crypto.DecryptWithKeyString(r.Passphrase, encryptionKey)
		if err != nil {
			decryptErr = fmt.Errorf("persistence: decrypt account %q: %w", r.Name, err)
			continue
		}
		acct := models.VenueAccount{
			ID: r.ID, Name: r.Name,
			APIKey: apiKey, SecretKey: secretKey, Passphrase: passphrase,
			Connected: r.Connected,
			UpdatedAt: r.UpdatedAt, CreatedAt: r.CreatedAt,
		}
		if r.LastError != nil {
			acct.LastError = *r.LastError
		}
		out = append(out, acct)
	}
	return out, decryptErr
}

// MarkVenueAccountStatus records a venue's latest connection outcome
// without touching its credentials.
func (s *Store) MarkVenueAccountStatus(name string, connected bool, lastErr error) error {
	ctx, cancel := s.ctx(nil)
	defer cancel()

	var errMsg *string
	if lastErr != nil {
		msg := lastErr.Error()
		errMsg = &msg
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE exchange_accounts SET connected = $2, last_error = $3, updated_at = $4 WHERE name = $1`,
		name, connected, errMsg, time.Now())
	if err != nil {
		return fmt.Errorf("persistence: update exchange account status: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

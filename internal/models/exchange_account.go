package models

import "time"

// VenueAccount is a configured venue's credentials and connection state.
// APIKey/SecretKey/Passphrase are stored AES-256-GCM encrypted (pkg/crypto)
// and never serialized to JSON.
type VenueAccount struct {
	ID         int       `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	APIKey     string    `json:"-" db:"api_key"`
	SecretKey  string    `json:"-" db:"secret_key"`
	Passphrase string    `json:"-" db:"passphrase"` // OKX-style venues only
	Connected  bool      `json:"connected" db:"connected"`
	LastError  string    `json:"last_error,omitempty" db:"last_error"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

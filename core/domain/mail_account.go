package domain

import (
	"fmt"
	"time"
)

type Provider string

const (
	ProviderGmail Provider = "gmail"
	ProviderIMAP  Provider = "imap"
)

// Account is one configured mail identity. The id is a stable opaque string
// chosen by the operator; the email address is unique across accounts.
type Account struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	Provider Provider       `json:"provider"`
	Settings map[string]any `json:"settings,omitempty"`

	LastSync  *time.Time `json:"last_sync,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RenameSentinel is the reserved email placed on the old row during an
// account rename. It frees the unique email slot before the new row is
// inserted and can never collide with a real address.
func RenameSentinel(accountID string) string {
	return fmt.Sprintf("__rename__%s@sentinel.invalid", accountID)
}

// SettingString reads a string entry from the free-form settings map.
func (a *Account) SettingString(key string) string {
	if a.Settings == nil {
		return ""
	}
	if v, ok := a.Settings[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// SettingInt reads a numeric entry from the free-form settings map. TOML
// decoding yields int64, JSON round-trips yield float64; both are accepted.
func (a *Account) SettingInt(key string) int {
	if a.Settings == nil {
		return 0
	}
	switch v := a.Settings[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

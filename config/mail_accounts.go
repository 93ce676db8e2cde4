package config

import (
	"strings"

	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"

	"github.com/BurntSushi/toml"
)

// Provider kinds accepted in the accounts file.
const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

// AccountsFile is the operator-maintained account list in TOML syntax.
//
//	[[accounts]]
//	id = "personal"
//	name = "Personal"
//	email = "me@example.com"
//	provider = "imap"
//
//	[accounts.imap]
//	host = "imap.example.com"
//	port = 993
//	security = "tls"
//	username = "me@example.com"
//	password_file = "/run/agenix/imap-password"
//
//	[accounts.smtp]
//	host = "smtp.example.com"
//	port = 465
//	security = "tls"
type AccountsFile struct {
	Accounts []AccountEntry `toml:"accounts"`
}

type AccountEntry struct {
	ID       string `toml:"id"`
	Name     string `toml:"name"`
	Email    string `toml:"email"`
	Provider string `toml:"provider"`

	Gmail *GmailSettings `toml:"gmail"`
	IMAP  *IMAPSettings  `toml:"imap"`
	SMTP  *SMTPSettings  `toml:"smtp"`
}

// GmailSettings configures the OAuth API provider.
type GmailSettings struct {
	CredentialsFile string `toml:"credentials_file"`
}

// IMAPSettings configures the IMAP provider. Security is one of
// "tls", "starttls", "none".
type IMAPSettings struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Security     string `toml:"security"`
	Username     string `toml:"username"`
	PasswordFile string `toml:"password_file"`
	TokenFile    string `toml:"token_file"`
}

// SMTPSettings configures the send path of an IMAP account.
type SMTPSettings struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Security string `toml:"security"`
}

// LoadAccounts parses the TOML accounts file and validates every entry.
func LoadAccounts(path string) (*AccountsFile, error) {
	file := new(AccountsFile)
	if _, err := toml.DecodeFile(path, file); err != nil {
		return nil, apperr.BadConfig("failed to parse accounts file").
			WithDetail("path", path).WithError(err)
	}

	seenID := make(map[string]bool, len(file.Accounts))
	seenEmail := make(map[string]bool, len(file.Accounts))
	for i := range file.Accounts {
		entry := &file.Accounts[i]
		entry.normalize()
		if err := entry.validate(); err != nil {
			return nil, err
		}
		if seenID[entry.ID] {
			return nil, apperr.BadConfig("duplicate account id").WithDetail("account_id", entry.ID)
		}
		if seenEmail[entry.Email] {
			return nil, apperr.BadConfig("duplicate account email").WithDetail("email", entry.Email)
		}
		seenID[entry.ID] = true
		seenEmail[entry.Email] = true
	}
	return file, nil
}

func (e *AccountEntry) normalize() {
	e.ID = strings.TrimSpace(e.ID)
	e.Email = strings.ToLower(strings.TrimSpace(e.Email))
	e.Provider = strings.ToLower(strings.TrimSpace(e.Provider))
	if e.Name == "" {
		e.Name = e.ID
	}
	if e.IMAP != nil {
		if e.IMAP.Port == 0 {
			e.IMAP.Port = 993
		}
		if e.IMAP.Security == "" {
			e.IMAP.Security = "tls"
		}
		if e.IMAP.Username == "" {
			e.IMAP.Username = e.Email
		}
	}
	if e.SMTP != nil {
		if e.SMTP.Port == 0 {
			e.SMTP.Port = 587
		}
		if e.SMTP.Security == "" {
			e.SMTP.Security = "starttls"
		}
	}
}

func (e *AccountEntry) validate() error {
	if e.ID == "" {
		return apperr.BadConfig("account entry is missing id")
	}
	if e.Email == "" || !strings.Contains(e.Email, "@") {
		return apperr.BadConfig("account entry has invalid email").WithDetail("account_id", e.ID)
	}
	switch e.Provider {
	case ProviderGmail:
		if e.Gmail == nil || e.Gmail.CredentialsFile == "" {
			return apperr.BadConfig("gmail account requires credentials_file").
				WithDetail("account_id", e.ID)
		}
	case ProviderIMAP:
		if e.IMAP == nil || e.IMAP.Host == "" {
			return apperr.BadConfig("imap account requires imap.host").
				WithDetail("account_id", e.ID)
		}
		if e.IMAP.PasswordFile == "" && e.IMAP.TokenFile == "" {
			return apperr.BadConfig("imap account requires password_file or token_file").
				WithDetail("account_id", e.ID)
		}
		switch e.IMAP.Security {
		case "tls", "starttls", "none":
		default:
			return apperr.BadConfig("imap security must be tls, starttls or none").
				WithDetail("account_id", e.ID).WithDetail("security", e.IMAP.Security)
		}
		if e.SMTP != nil {
			switch e.SMTP.Security {
			case "tls", "starttls", "none":
			default:
				return apperr.BadConfig("smtp security must be tls, starttls or none").
					WithDetail("account_id", e.ID).WithDetail("security", e.SMTP.Security)
			}
		}
	default:
		return apperr.UnknownProvider(e.Provider).WithDetail("account_id", e.ID)
	}
	return nil
}

// Settings flattens the provider-specific block into the free-form settings
// map persisted on the account row.
func (e *AccountEntry) Settings() map[string]any {
	settings := map[string]any{}
	switch e.Provider {
	case ProviderGmail:
		settings["credentials_file"] = e.Gmail.CredentialsFile
	case ProviderIMAP:
		settings["imap_host"] = e.IMAP.Host
		settings["imap_port"] = e.IMAP.Port
		settings["imap_security"] = e.IMAP.Security
		settings["imap_username"] = e.IMAP.Username
		if e.IMAP.PasswordFile != "" {
			settings["password_file"] = e.IMAP.PasswordFile
		}
		if e.IMAP.TokenFile != "" {
			settings["token_file"] = e.IMAP.TokenFile
		}
		if e.SMTP != nil {
			settings["smtp_host"] = e.SMTP.Host
			settings["smtp_port"] = e.SMTP.Port
			settings["smtp_security"] = e.SMTP.Security
		}
	}
	return settings
}

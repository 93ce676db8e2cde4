// Package credentials reads and persists the secrets the providers need:
// OAuth token JSON files and single-line password files.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
)

// =============================================================================
// OAuth token shape
// =============================================================================

// OAuthToken is the on-disk token file. Unknown keys are preserved across
// load/save so external tooling can stash its own fields next to ours.
type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	TokenType    string
	Expiry       time.Time

	extra map[string]json.RawMessage
}

// requiredKeys are the keys a token file must carry to be usable.
var requiredKeys = []string{"access_token", "refresh_token", "client_id", "client_secret"}

// Loader reads secrets from disk and persists refreshed tokens.
type Loader struct {
	log zerolog.Logger
}

func NewLoader(log zerolog.Logger) *Loader {
	return &Loader{log: log.With().Str("component", "credentials").Logger()}
}

// =============================================================================
// OAuth
// =============================================================================

// LoadOAuth reads an OAuth token file. A missing file, missing required keys
// and malformed JSON are distinct credential errors. Loose file permissions
// only produce a warning.
func (l *Loader) LoadOAuth(path string) (*OAuthToken, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.CredentialMissing(path)
		}
		return nil, apperr.CredentialMissing(path).WithError(err)
	}
	l.warnIfLoose(path, info.Mode())

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.CredentialMissing(path).WithError(err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apperr.CredentialParse(path, err)
	}
	for _, key := range requiredKeys {
		if _, ok := raw[key]; !ok {
			return nil, apperr.CredentialShape(path, key)
		}
	}

	tok := &OAuthToken{extra: make(map[string]json.RawMessage)}
	for key, val := range raw {
		switch key {
		case "access_token":
			if err := json.Unmarshal(val, &tok.AccessToken); err != nil {
				return nil, apperr.CredentialParse(path, err)
			}
		case "refresh_token":
			if err := json.Unmarshal(val, &tok.RefreshToken); err != nil {
				return nil, apperr.CredentialParse(path, err)
			}
		case "client_id":
			if err := json.Unmarshal(val, &tok.ClientID); err != nil {
				return nil, apperr.CredentialParse(path, err)
			}
		case "client_secret":
			if err := json.Unmarshal(val, &tok.ClientSecret); err != nil {
				return nil, apperr.CredentialParse(path, err)
			}
		case "token_type":
			_ = json.Unmarshal(val, &tok.TokenType)
		case "expiry":
			_ = json.Unmarshal(val, &tok.Expiry)
		default:
			tok.extra[key] = val
		}
	}
	return tok, nil
}

// SaveOAuth writes the token back with owner-only permissions, atomically via
// a temp file in the same directory. Failures are logged, never returned: the
// token will simply be refreshed again on the next start.
func (l *Loader) SaveOAuth(path string, tok *OAuthToken) {
	raw := make(map[string]json.RawMessage, len(tok.extra)+6)
	for key, val := range tok.extra {
		raw[key] = val
	}
	put := func(key string, v any) {
		b, err := json.Marshal(v)
		if err == nil {
			raw[key] = b
		}
	}
	put("access_token", tok.AccessToken)
	put("refresh_token", tok.RefreshToken)
	put("client_id", tok.ClientID)
	put("client_secret", tok.ClientSecret)
	if tok.TokenType != "" {
		put("token_type", tok.TokenType)
	}
	if !tok.Expiry.IsZero() {
		put("expiry", tok.Expiry)
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		l.log.Warn().Err(err).Str("path", path).Msg("failed to encode refreshed token")
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".token-*")
	if err != nil {
		l.log.Warn().Err(err).Str("path", path).Msg("failed to stage refreshed token")
		return
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		l.log.Warn().Err(err).Str("path", path).Msg("failed to restrict token permissions")
		return
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		l.log.Warn().Err(err).Str("path", path).Msg("failed to write refreshed token")
		return
	}
	if err := tmp.Close(); err != nil {
		l.log.Warn().Err(err).Str("path", path).Msg("failed to close refreshed token")
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		l.log.Warn().Err(err).Str("path", path).Msg("failed to replace token file")
		return
	}
	l.log.Debug().Str("path", path).Msg("persisted refreshed token")
}

// =============================================================================
// Passwords
// =============================================================================

// LoadPassword reads a single-line password file, stripping trailing
// whitespace. Empty content is a credential error.
func (l *Loader) LoadPassword(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperr.CredentialMissing(path)
		}
		return "", apperr.CredentialMissing(path).WithError(err)
	}
	l.warnIfLoose(path, info.Mode())

	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperr.CredentialMissing(path).WithError(err)
	}
	password := strings.TrimRight(string(data), " \t\r\n")
	if password == "" {
		return "", apperr.New(apperr.KindCredential, apperr.CodeCredentialShape,
			fmt.Sprintf("password file %s is empty", path))
	}
	return password, nil
}

// =============================================================================
// Validation
// =============================================================================

// Validate probes a secret path for existence and readability before an
// account is activated. The returned error message carries a hint matching
// the secret-manager convention the path looks like.
func (l *Loader) Validate(path, accountName string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return apperr.CredentialMissing(path).
				WithDetail("account", accountName).
				WithDetail("hint", managerHint(path))
		}
		return apperr.CredentialMissing(path).
			WithDetail("account", accountName).
			WithDetail("hint", managerHint(path)).
			WithError(err)
	}

	f, err := os.Open(path)
	if err != nil {
		return apperr.New(apperr.KindCredential, apperr.CodeCredentialMissing,
			fmt.Sprintf("credential file %s is not readable", path)).
			WithDetail("account", accountName).
			WithDetail("hint", managerHint(path)).
			WithError(err)
	}
	return f.Close()
}

// managerHint matches a secret path against the deploy conventions we see in
// the wild and suggests where to look when the file is absent.
func managerHint(path string) string {
	switch {
	case strings.HasPrefix(path, "/run/agenix"):
		return "path looks agenix-managed; check the agenix activation and host identity key"
	case strings.HasPrefix(path, "/run/secrets"):
		return "path looks sops-nix-managed; check sops-nix activation and the key file"
	case strings.HasPrefix(path, "/run/credentials"):
		return "path looks systemd-managed; check LoadCredential= on the unit"
	default:
		return "create the file or point the account settings at the right path"
	}
}

func (l *Loader) warnIfLoose(path string, mode os.FileMode) {
	if mode.Perm()&0o077 != 0 {
		l.log.Warn().
			Str("path", path).
			Str("mode", mode.Perm().String()).
			Msg("credential file is readable by group or others")
	}
}

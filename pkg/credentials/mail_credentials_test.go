package credentials

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/logging"
)

func writeFile(t *testing.T, dir, name, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOAuth(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(logging.Nop())

	tests := []struct {
		name     string
		content  string
		wantCode string
	}{
		{
			name:    "complete token",
			content: `{"access_token":"a","refresh_token":"r","client_id":"c","client_secret":"s"}`,
		},
		{
			name:     "missing refresh token",
			content:  `{"access_token":"a","client_id":"c","client_secret":"s"}`,
			wantCode: apperr.CodeCredentialShape,
		},
		{
			name:     "malformed json",
			content:  `{"access_token": `,
			wantCode: apperr.CodeCredentialParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "tok-"+tt.name+".json", tt.content, 0o600)
			tok, err := loader.LoadOAuth(path)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("LoadOAuth() error = %v", err)
				}
				if tok.AccessToken != "a" || tok.RefreshToken != "r" {
					t.Errorf("LoadOAuth() = %+v, want access=a refresh=r", tok)
				}
				return
			}
			if err == nil {
				t.Fatal("LoadOAuth() expected error, got nil")
			}
			if !apperr.IsCode(err, tt.wantCode) {
				t.Errorf("LoadOAuth() code = %v, want %s", err, tt.wantCode)
			}
		})
	}
}

func TestLoadOAuthMissingFile(t *testing.T) {
	loader := NewLoader(logging.Nop())
	_, err := loader.LoadOAuth(filepath.Join(t.TempDir(), "absent.json"))
	if !apperr.IsCode(err, apperr.CodeCredentialMissing) {
		t.Errorf("LoadOAuth(absent) = %v, want CREDENTIAL_MISSING", err)
	}
}

func TestSaveOAuthRoundTrip(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(logging.Nop())

	path := writeFile(t, dir, "token.json",
		`{"access_token":"old","refresh_token":"r","client_id":"c","client_secret":"s","scopes":["mail"]}`, 0o600)

	tok, err := loader.LoadOAuth(path)
	if err != nil {
		t.Fatal(err)
	}
	tok.AccessToken = "new"
	loader.SaveOAuth(path, tok)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("saved token mode = %v, want 0600", info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	var access string
	if err := json.Unmarshal(raw["access_token"], &access); err != nil || access != "new" {
		t.Errorf("access_token after save = %q, want new", access)
	}
	// unknown keys survive the rewrite
	if _, ok := raw["scopes"]; !ok {
		t.Error("extra key scopes lost across save")
	}
}

func TestLoadPassword(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(logging.Nop())

	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"plain", "hunter2\n", "hunter2", false},
		{"trailing whitespace", "hunter2 \t\r\n", "hunter2", false},
		{"empty", "\n", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "pw-"+tt.name, tt.content, 0o600)
			got, err := loader.LoadPassword(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadPassword() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("LoadPassword() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateHints(t *testing.T) {
	loader := NewLoader(logging.Nop())

	tests := []struct {
		name     string
		path     string
		wantHint string
	}{
		{"agenix", "/run/agenix/mail-token", "agenix"},
		{"sops-nix", "/run/secrets/mail-token", "sops-nix"},
		{"systemd", "/run/credentials/mail.service/token", "systemd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := loader.Validate(tt.path, "work")
			if err == nil {
				t.Skip("path exists on this machine")
			}
			e := apperr.As(err)
			hint, _ := e.Details["hint"].(string)
			if hint == "" {
				t.Fatalf("Validate() error carries no hint: %v", err)
			}
			if !strings.Contains(hint, tt.wantHint) {
				t.Errorf("hint = %q, want mention of %s", hint, tt.wantHint)
			}
		})
	}
}

package google

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{ServiceAccountJSON: "{}"})
	if err == nil {
		t.Fatal("expected error for missing spreadsheet id")
	}
	if err.Error() != "missing spreadsheet id" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCredentials(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sa.json")
	if err := os.WriteFile(file, []byte(`{"type":"service_account"}`), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}

	tests := []struct {
		name    string
		cfg     Config
		env     string
		want    string
		wantErr string
	}{
		{
			name: "inline wins",
			cfg:  Config{ServiceAccountJSON: `{"inline":true}`, ServiceAccountFile: file},
			want: `{"inline":true}`,
		},
		{
			name: "file",
			cfg:  Config{ServiceAccountFile: file},
			want: `{"type":"service_account"}`,
		},
		{
			name: "application default path",
			env:  file,
			want: `{"type":"service_account"}`,
		},
		{
			name:    "unreadable file",
			cfg:     Config{ServiceAccountFile: filepath.Join(dir, "missing.json")},
			wantErr: "read service account file",
		},
		{
			name:    "nothing configured",
			wantErr: "missing service account credentials",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", tt.env)

			got, err := credentials(tt.cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

const testOAuthClient = `{"installed":{"client_id":"id.apps.googleusercontent.com","client_secret":"secret","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`

func TestOAuthConfig(t *testing.T) {
	cfg, err := OAuthConfig(Config{OAuthClientJSON: testOAuthClient})
	if err != nil {
		t.Fatalf("OAuthConfig() error = %v", err)
	}
	if cfg.ClientID != "id.apps.googleusercontent.com" {
		t.Errorf("ClientID = %q", cfg.ClientID)
	}
	if len(cfg.Scopes) != 1 || !strings.Contains(cfg.Scopes[0], "spreadsheets") {
		t.Errorf("Scopes = %v", cfg.Scopes)
	}

	if _, err := OAuthConfig(Config{OAuthClientJSON: "invalid-json"}); err == nil || !strings.Contains(err.Error(), "oauth config") {
		t.Errorf("expected oauth config error, got %v", err)
	}
	if _, err := OAuthConfig(Config{}); err == nil || !strings.Contains(err.Error(), "missing oauth client") {
		t.Errorf("expected missing oauth client error, got %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := SaveToken(path, &oauth2.Token{AccessToken: "test", RefreshToken: "refresh"}); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat token: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("token file mode = %v, want 0600", perm)
	}

	tok, err := ReadToken(path)
	if err != nil {
		t.Fatalf("ReadToken() error = %v", err)
	}
	if tok.AccessToken != "test" || tok.RefreshToken != "refresh" {
		t.Errorf("ReadToken() = %+v", tok)
	}

	if _, err := ReadToken(""); err == nil {
		t.Error("ReadToken(\"\") error = nil")
	}
	empty := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(empty, []byte(`{}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadToken(empty); err == nil {
		t.Error("ReadToken(empty) error = nil")
	}
}

func TestNew_OAuthMissingToken(t *testing.T) {
	_, err := New(context.Background(), Config{
		SpreadsheetID:   "sheet",
		OAuthClientJSON: testOAuthClient,
	})
	if err == nil || !strings.Contains(err.Error(), "missing oauth token") {
		t.Fatalf("expected missing oauth token error, got %v", err)
	}
}

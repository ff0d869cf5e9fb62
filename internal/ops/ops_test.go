package ops

import (
	"context"
	"database/sql"
	"testing"

	"github.com/hpungsan/trove/internal/db"
	"github.com/hpungsan/trove/internal/errors"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func mustCapture(t *testing.T, database *sql.DB, userID, url string) *CaptureOutput {
	t.Helper()
	out, err := Capture(context.Background(), database, CaptureInput{UserID: userID, URL: url})
	if err != nil {
		t.Fatalf("Capture(%s) failed: %v", url, err)
	}
	return out
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"https", "https://example.com/a", "https://example.com/a", false},
		{"trims whitespace", "  http://example.com  ", "http://example.com", false},
		{"empty", "   ", "", true},
		{"no scheme", "example.com/a", "", true},
		{"ftp", "ftp://example.com/file", "", true},
		{"no host", "https:///path", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateURL(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, errors.ErrInvalidRequest) {
					t.Errorf("ValidateURL(%q) error = %v, want INVALID_REQUEST", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateURL(%q) failed: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ValidateURL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestValidateUser(t *testing.T) {
	if _, err := ValidateUser("  "); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("blank user error = %v, want INVALID_REQUEST", err)
	}
	got, err := ValidateUser(" u1 ")
	if err != nil || got != "u1" {
		t.Errorf("ValidateUser = %q, %v; want u1", got, err)
	}
}

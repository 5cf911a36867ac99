package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestPokerMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(PokerFS, "poker")
	if err != nil {
		t.Fatalf("read poker migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected poker migrations to be embedded")
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".sql") {
			t.Fatalf("unexpected non-sql migration %q", entry.Name())
		}
	}
}

package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nearsend/nearsend/internal/store"
)

func TestDefaultRelayAddr(t *testing.T) {
	t.Setenv("PORT", "")
	if got := defaultRelayAddr(); got != ":3000" {
		t.Errorf("Expected :3000, got %s", got)
	}

	t.Setenv("PORT", "8080")
	if got := defaultRelayAddr(); got != ":8080" {
		t.Errorf("Expected :8080, got %s", got)
	}
}

func TestDefaultOrigins(t *testing.T) {
	t.Setenv("CORS_ORIGIN", "")
	if got := defaultOrigins(); len(got) != 1 || got[0] != "*" {
		t.Errorf("Expected [*], got %v", got)
	}

	t.Setenv("CORS_ORIGIN", "https://example.com")
	if got := defaultOrigins(); len(got) != 1 || got[0] != "https://example.com" {
		t.Errorf("Expected [https://example.com], got %v", got)
	}
}

func TestRootCommandTree(t *testing.T) {
	root := NewRootCommand()

	for _, name := range []string{"send", "receive", "history", "peers"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("Expected subcommand %s, got %v (err %v)", name, cmd, err)
		}
	}

	for _, flag := range []string{"relay", "name", "stun", "db", "handshake-timeout", "stall-timeout", "log-level"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("Expected persistent flag --%s", flag)
		}
	}
}

func TestSendRequiresTarget(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"send", "file.txt"})

	if err := root.Execute(); err == nil {
		t.Fatal("Expected error when --to is missing")
	}
}

func TestHistoryCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	ledger, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	rows := []store.Transfer{
		{Direction: store.DirectionSent, PeerName: "Bob", FileName: "notes.txt", Size: 2048, Bytes: 2048, Status: store.StatusCompleted, CreatedAt: time.Now().Add(-time.Hour)},
		{Direction: store.DirectionReceived, PeerName: "Carol", FileName: "movie.mp4", Size: 4096, Bytes: 1024, Status: store.StatusAbandoned, CreatedAt: time.Now()},
	}
	for i := range rows {
		if err := ledger.RecordTransfer(context.Background(), &rows[i]); err != nil {
			t.Fatalf("RecordTransfer failed: %v", err)
		}
	}
	_ = ledger.Close()

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"history", "--db", dbPath})
	if err := root.Execute(); err != nil {
		t.Fatalf("history failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header and 2 rows, got %q", out.String())
	}
	if !strings.Contains(lines[1], "movie.mp4") || !strings.Contains(lines[1], "abandoned (1.0 KiB of 4.0 KiB)") {
		t.Errorf("Expected newest row first with partial size, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "notes.txt") || !strings.Contains(lines[2], "completed") {
		t.Errorf("Unexpected second row %q", lines[2])
	}
}

func TestHistoryCommandEmpty(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"history", "--db", filepath.Join(t.TempDir(), "empty.db")})
	if err := root.Execute(); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out.String(), "No transfers yet") {
		t.Errorf("Expected empty message, got %q", out.String())
	}
}

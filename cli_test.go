package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"dogechat/server/internal/store"
)

// auditDBWith creates a database pre-seeded with the given entries.
func auditDBWith(t *testing.T, entries ...store.AuditEntry) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	for _, e := range entries {
		if err := st.InsertAudit(context.Background(), e); err != nil {
			t.Fatalf("InsertAudit(%#v): %v", e, err)
		}
	}
	st.Close()
	return dbPath
}

func TestRunCLIVersion(t *testing.T) {
	var out bytes.Buffer
	handled, err := RunCLI([]string{"version"}, "", &out)
	if !handled || err != nil {
		t.Fatalf("RunCLI(version) = %v, %v", handled, err)
	}
	if !strings.Contains(out.String(), Version) {
		t.Errorf("expected version in output, got %q", out.String())
	}
}

func TestRunCLIUnknownSubcommandNotHandled(t *testing.T) {
	for _, args := range [][]string{nil, {}, {"nonexistent-cmd"}} {
		if handled, _ := RunCLI(args, "", &bytes.Buffer{}); handled {
			t.Errorf("RunCLI(%q) should not be handled", args)
		}
	}
}

func TestRunCLIAuditWithoutDB(t *testing.T) {
	handled, err := RunCLI([]string{"audit"}, "", &bytes.Buffer{})
	if !handled {
		t.Fatal("audit should be handled")
	}
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("expected not configured error, got %v", err)
	}
}

func TestRunCLIAuditEmpty(t *testing.T) {
	dbPath := auditDBWith(t)
	var out bytes.Buffer
	if _, err := RunCLI([]string{"audit"}, dbPath, &out); err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !strings.Contains(out.String(), "No audit entries found.") {
		t.Errorf("unexpected output: %q", out.String())
	}
}

func TestRunCLIAuditListsNewestFirst(t *testing.T) {
	dbPath := auditDBWith(t,
		store.AuditEntry{Room: "r1", Actor: "admin", Action: "mute", Target: "bob", Affected: 1},
		store.AuditEntry{Room: "r2", Actor: "admin", Action: "kickall", Affected: 3},
		store.AuditEntry{Room: "r1", Actor: "admin", Action: "ban", Target: "eve", Affected: 1},
	)

	var out bytes.Buffer
	if _, err := RunCLI([]string{"audit"}, dbPath, &out); err != nil {
		t.Fatalf("audit: %v", err)
	}
	text := out.String()
	ban, mute := strings.Index(text, "ban"), strings.Index(text, "mute")
	if ban < 0 || mute < 0 || ban > mute {
		t.Fatalf("expected ban listed before mute:\n%s", text)
	}
	if !strings.Contains(text, "3 of 3 entries shown") {
		t.Errorf("missing footer:\n%s", text)
	}
}

func TestRunCLIAuditRoomFilterAndLimit(t *testing.T) {
	dbPath := auditDBWith(t,
		store.AuditEntry{Room: "r1", Actor: "admin", Action: "mute", Target: "bob", Affected: 1},
		store.AuditEntry{Room: "r2", Actor: "admin", Action: "kickall", Affected: 3},
		store.AuditEntry{Room: "r1", Actor: "admin", Action: "ban", Target: "eve", Affected: 1},
	)

	var out bytes.Buffer
	if _, err := RunCLI([]string{"audit", "--room", "r1", "--limit", "1"}, dbPath, &out); err != nil {
		t.Fatalf("audit: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "eve") || strings.Contains(text, "bob") || strings.Contains(text, "kickall") {
		t.Fatalf("unexpected filtered output:\n%s", text)
	}
	if !strings.Contains(text, "1 of 3 entries shown") {
		t.Errorf("missing footer:\n%s", text)
	}
}

func TestRunAuditSubcommandFlags(t *testing.T) {
	dbPath := auditDBWith(t,
		store.AuditEntry{Room: "r1", Actor: "admin", Action: "mute", Target: "bob", Affected: 1},
		store.AuditEntry{Room: "r2", Actor: "admin", Action: "kickall", Affected: 3},
	)

	var out bytes.Buffer
	if err := run([]string{"--audit-db", dbPath, "audit", "--room", "r1", "--limit", "5"}, &out); err != nil {
		t.Fatalf("run(audit --room r1): %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "bob") || strings.Contains(text, "kickall") {
		t.Fatalf("expected only r1 entries:\n%s", text)
	}
	if !strings.Contains(text, "1 of 2 entries shown") {
		t.Errorf("missing footer:\n%s", text)
	}
}

func TestRunVersionSubcommand(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"--debug", "version"}, &out); err != nil {
		t.Fatalf("run(version): %v", err)
	}
	if !strings.Contains(out.String(), Version) {
		t.Errorf("expected version in output, got %q", out.String())
	}
}

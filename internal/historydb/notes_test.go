package historydb

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/yuki-yano/vde-monitor/internal/db"
)

func openTestGORM(t *testing.T) *testDeps {
	t.Helper()
	gdb, err := db.OpenSQLiteGORMWithMigrations(filepath.Join(t.TempDir(), "vde-monitor.db"))
	if err != nil {
		t.Fatalf("open db failed: %v", err)
	}
	notes, err := NewNotesStore(gdb)
	if err != nil {
		t.Fatal(err)
	}
	titles, err := NewTitleStore(gdb)
	if err != nil {
		t.Fatal(err)
	}
	audit, err := NewLaunchAuditStore(gdb)
	if err != nil {
		t.Fatal(err)
	}
	return &testDeps{notes: notes, titles: titles, audit: audit}
}

type testDeps struct {
	notes  *NotesStore
	titles *TitleStore
	audit  *LaunchAuditStore
}

func TestNotesCRUD(t *testing.T) {
	d := openTestGORM(t)

	created, err := d.notes.Create("/repo", "%1", "todo", "fix the tests")
	if err != nil {
		t.Fatal(err)
	}
	if created.NoteID == "" || created.CreatedAt == 0 {
		t.Fatalf("unexpected note: %+v", created)
	}

	list, err := d.notes.List("/repo")
	if err != nil || len(list) != 1 {
		t.Fatalf("unexpected list: %v err=%v", list, err)
	}

	updated, err := d.notes.Update(created.NoteID, "todo", "done")
	if err != nil || updated.Body != "done" {
		t.Fatalf("unexpected update: %+v err=%v", updated, err)
	}

	if err := d.notes.Delete(created.NoteID); err != nil {
		t.Fatal(err)
	}
	if err := d.notes.Delete(created.NoteID); !errors.Is(err, ErrNoteNotFound) {
		t.Fatalf("expected ErrNoteNotFound, got %v", err)
	}
	if _, err := d.notes.Get(created.NoteID); !errors.Is(err, ErrNoteNotFound) {
		t.Fatalf("expected ErrNoteNotFound, got %v", err)
	}
}

func TestTitleStoreSetClearAndProvider(t *testing.T) {
	d := openTestGORM(t)

	if err := d.titles.Set("%1", "deploy fixes"); err != nil {
		t.Fatal(err)
	}
	if got, ok := d.titles.CustomTitle("%1"); !ok || got != "deploy fixes" {
		t.Fatalf("unexpected title: %q ok=%v", got, ok)
	}

	// Empty title clears.
	if err := d.titles.Set("%1", "  "); err != nil {
		t.Fatal(err)
	}
	if _, ok := d.titles.CustomTitle("%1"); ok {
		t.Fatal("expected title cleared")
	}
}

func TestLaunchAuditRecordAndRecent(t *testing.T) {
	d := openTestGORM(t)

	if err := d.audit.Record("L1", "dev", "codex", "%9", true, ""); err != nil {
		t.Fatal(err)
	}
	if err := d.audit.Record("L2", "dev", "codex", "", false, "RATE_LIMIT"); err != nil {
		t.Fatal(err)
	}

	rows, err := d.audit.Recent(10)
	if err != nil || len(rows) != 2 {
		t.Fatalf("unexpected rows: %v err=%v", rows, err)
	}
}

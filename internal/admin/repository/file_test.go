package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"broadcast-control-plane/backend/internal/admin/domain"
)

// Identity stability across restarts: reopening the store on the same
// directory resolves the same username to the same adminID.
func TestFile_IdentityStableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	repo, err := NewFileRepository(dir)
	if err != nil {
		t.Fatal(err)
	}
	created, err := repo.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}

	reopened, err := NewFileRepository(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.AdminID != created.AdminID {
		t.Fatalf("adminID after reopen = %+v, want %s", got, created.AdminID)
	}
}

func TestFile_CorruptRecordTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	repo, _ := NewFileRepository(dir)
	ident, _ := repo.Create(ctx, "alice")

	path := filepath.Join(dir, adminsDir, ident.AdminID+recordSuffix)
	if err := os.WriteFile(path, []byte("{torn"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, ident.AdminID)
	if err != nil {
		t.Fatalf("corrupt record must not error: %v", err)
	}
	if got != nil {
		t.Error("corrupt record should read as absent")
	}
}

func TestFile_NewerSchemaTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	repo, _ := NewFileRepository(dir)
	ident, _ := repo.Create(ctx, "alice")

	path := filepath.Join(dir, adminsDir, ident.AdminID+recordSuffix)
	data := []byte(`{"admin_id":"` + ident.AdminID + `","username":"alice","schema_version":99}`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := repo.Get(ctx, ident.AdminID)
	if err != nil || got != nil {
		t.Errorf("newer-schema record = (%v, %v), want (nil, nil)", got, err)
	}
}

// A staging leftover from a crashed writer must never shadow the live record.
func TestFile_StagingLeftoverIgnored(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	repo, _ := NewFileRepository(dir)
	ident, _ := repo.Create(ctx, "alice")

	// Simulate a crash mid-write: partial staging file next to the record.
	staging := filepath.Join(dir, adminsDir, ".tmp-"+ident.AdminID)
	if err := os.WriteFile(staging, []byte(`{"admin_id":"torn`), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, ident.AdminID)
	if err != nil || got == nil || got.Username != "alice" {
		t.Fatalf("reader saw something other than the prior valid record: (%+v, %v)", got, err)
	}
}

func TestFile_IndexRebuiltWhenInconsistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	repo, _ := NewFileRepository(dir)
	created, _ := repo.Create(ctx, "alice")

	// Corrupt the index wholesale.
	if err := os.WriteFile(filepath.Join(dir, indexFile), []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	// Startup self-heals by full scan.
	reopened, err := NewFileRepository(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.AdminID != created.AdminID {
		t.Fatalf("rebuilt index lookup = %+v, want %s", got, created.AdminID)
	}
}

func TestFile_StaleIndexEntryTriggersRebuild(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	repo, _ := NewFileRepository(dir)
	ident, _ := repo.Create(ctx, "alice")

	// Remove the record behind the index's back.
	if err := os.Remove(filepath.Join(dir, adminsDir, ident.AdminID+recordSuffix)); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("inconsistent index lookup must not error: %v", err)
	}
	if got != nil {
		t.Error("dangling index entry should resolve to absent after rebuild")
	}
}

func TestFile_BackupWrittenBeforeModify(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	repo, _ := NewFileRepository(dir)
	ident, _ := repo.Create(ctx, "alice")

	_, err := repo.Update(ctx, ident.AdminID, func(i *domain.Identity) error {
		i.AddOwnedSession("s1")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	bak := filepath.Join(dir, adminsDir, ident.AdminID+recordSuffix+".bak")
	if _, err := os.Stat(bak); err != nil {
		t.Errorf("backup of previous version missing: %v", err)
	}
}

// Delete must hold the per-record lock so an in-flight Update cannot rewrite
// the record file after it was removed and leave a deleted identity behind.
func TestFile_DeleteSerializedAgainstUpdate(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	repo, _ := NewFileRepository(dir)
	ident, _ := repo.Create(ctx, "alice")

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := repo.Update(ctx, ident.AdminID, func(i *domain.Identity) error {
			close(entered)
			<-release
			i.AddOwnedSession("s1")
			return nil
		})
		done <- err
	}()
	<-entered

	// Let the update finish shortly after the delete starts waiting on the
	// record lock.
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	deleted, err := repo.Delete(ctx, ident.AdminID)
	if err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Fatal("delete reported nothing to remove")
	}
	if err := <-done; err != nil {
		t.Fatalf("update: %v", err)
	}

	if got, _ := repo.Get(ctx, ident.AdminID); got != nil {
		t.Fatalf("deleted identity record resurrected: %+v", got)
	}
	if _, err := os.Stat(filepath.Join(dir, adminsDir, ident.AdminID+recordSuffix)); !os.IsNotExist(err) {
		t.Error("deleted identity record still on disk")
	}
	if got, _ := repo.GetByUsername(ctx, "alice"); got != nil {
		t.Error("deleted username still resolves")
	}
}

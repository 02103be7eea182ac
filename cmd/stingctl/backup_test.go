package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestBackupManager(t *testing.T) (*DefaultBackupManager, string, string) {
	t.Helper()

	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	backupDir := filepath.Join(root, "backups")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatalf("mkdir data: %v", err)
	}

	mgr, err := NewBackupManager(BackupManagerConfig{
		DataDir:   dataDir,
		BackupDir: backupDir,
		Retain:    2,
	})
	if err != nil {
		t.Fatalf("NewBackupManager failed: %v", err)
	}
	return mgr, dataDir, backupDir
}

func writeServiceData(t *testing.T, dataDir, service string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(dataDir, service)
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func TestNewBackupManager_Validation(t *testing.T) {
	if _, err := NewBackupManager(BackupManagerConfig{BackupDir: "/tmp/b"}); err == nil {
		t.Error("missing DataDir accepted")
	}
	if _, err := NewBackupManager(BackupManagerConfig{DataDir: "/tmp/d"}); err == nil {
		t.Error("missing BackupDir accepted")
	}
}

func TestDefaultBackupManager_CreateAndRestore(t *testing.T) {
	mgr, dataDir, backupDir := newTestBackupManager(t)
	writeServiceData(t, dataDir, "postgres", map[string]string{
		"pgdata/base.db":   "original",
		"pgdata/wal/seg01": "wal segment",
	})

	backupPath, err := mgr.CreateBackup("postgres")
	if err != nil {
		t.Fatalf("CreateBackup failed: %v", err)
	}
	if filepath.Dir(backupPath) != backupDir {
		t.Errorf("backup %s not under %s", backupPath, backupDir)
	}

	// Corrupt the live data, then restore
	livePath := filepath.Join(dataDir, "postgres", "pgdata", "base.db")
	if err := os.WriteFile(livePath, []byte("corrupted"), 0644); err != nil {
		t.Fatalf("corrupt live data: %v", err)
	}

	if err := mgr.Restore(backupPath, "postgres"); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	restored, err := os.ReadFile(livePath)
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(restored) != "original" {
		t.Errorf("restored content = %q, want %q", restored, "original")
	}

	// Nested files survive the round trip
	if _, err := os.Stat(filepath.Join(dataDir, "postgres", "pgdata", "wal", "seg01")); err != nil {
		t.Errorf("nested file missing after restore: %v", err)
	}

	// The snapshot is kept intact after a restore
	if _, err := os.Stat(backupPath); err != nil {
		t.Errorf("backup removed by restore: %v", err)
	}
}

func TestDefaultBackupManager_CreateBackup_NoArtifacts(t *testing.T) {
	mgr, _, _ := newTestBackupManager(t)

	_, err := mgr.CreateBackup("stateless")
	if !errors.Is(err, ErrNoArtifacts) {
		t.Fatalf("error = %v, want ErrNoArtifacts", err)
	}
}

func TestDefaultBackupManager_Restore_MissingBackup(t *testing.T) {
	mgr, _, backupDir := newTestBackupManager(t)

	err := mgr.Restore(filepath.Join(backupDir, "postgres-gone"), "postgres")
	if err == nil {
		t.Fatal("Restore of a missing backup succeeded")
	}
}

func TestDefaultBackupManager_ListBackups(t *testing.T) {
	mgr, _, backupDir := newTestBackupManager(t)

	// Backups for two services plus junk the listing must skip
	for _, name := range []string{
		"postgres-2025-01-01_100000",
		"postgres-2025-01-03_100000",
		"postgres-2025-01-02_100000",
		"redis-2025-01-01_100000",
		"not-a-backup",
	} {
		if err := os.MkdirAll(filepath.Join(backupDir, name), 0755); err != nil {
			t.Fatalf("mkdir %s: %v", name, err)
		}
	}

	backups, err := mgr.ListBackups("postgres")
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(backups) != 3 {
		t.Fatalf("got %d backups, want 3", len(backups))
	}
	// Newest first
	for i := 1; i < len(backups); i++ {
		if backups[i].CreatedAt.After(backups[i-1].CreatedAt) {
			t.Error("backups not sorted newest first")
			break
		}
	}
	if filepath.Base(backups[0].Path) != "postgres-2025-01-03_100000" {
		t.Errorf("newest backup = %s, want postgres-2025-01-03_100000", backups[0].Path)
	}
}

func TestDefaultBackupManager_ListBackups_NoDir(t *testing.T) {
	mgr, _, _ := newTestBackupManager(t)

	backups, err := mgr.ListBackups("postgres")
	if err != nil {
		t.Fatalf("ListBackups on missing dir failed: %v", err)
	}
	if len(backups) != 0 {
		t.Errorf("got %d backups from a missing dir, want 0", len(backups))
	}
}

func TestDefaultBackupManager_Prune(t *testing.T) {
	mgr, _, backupDir := newTestBackupManager(t)

	names := []string{
		"postgres-2025-01-01_100000",
		"postgres-2025-01-02_100000",
		"postgres-2025-01-03_100000",
		"postgres-2025-01-04_100000",
	}
	for _, name := range names {
		if err := os.MkdirAll(filepath.Join(backupDir, name), 0755); err != nil {
			t.Fatalf("mkdir %s: %v", name, err)
		}
	}

	// Retain is 2: the two oldest go
	removed, err := mgr.Prune("postgres")
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	remaining, _ := mgr.ListBackups("postgres")
	if len(remaining) != 2 {
		t.Fatalf("%d backups remain, want 2", len(remaining))
	}
	if filepath.Base(remaining[1].Path) != "postgres-2025-01-03_100000" {
		t.Errorf("oldest remaining = %s, pruning should drop oldest first", remaining[1].Path)
	}

	// Under the retention count, prune is a no-op
	removed, err = mgr.Prune("postgres")
	if err != nil || removed != 0 {
		t.Errorf("second Prune = (%d, %v), want (0, nil)", removed, err)
	}
}

func TestDefaultBackupManager_Delete_OutsideBackupDirRefused(t *testing.T) {
	mgr, dataDir, _ := newTestBackupManager(t)
	writeServiceData(t, dataDir, "postgres", map[string]string{"base.db": "live"})

	if err := mgr.Delete(filepath.Join(dataDir, "postgres")); err == nil {
		t.Fatal("Delete accepted a path outside the backup dir")
	}
	if _, err := os.Stat(filepath.Join(dataDir, "postgres")); err != nil {
		t.Error("live data was deleted")
	}
}

func TestDefaultBackupManager_Delete(t *testing.T) {
	mgr, dataDir, _ := newTestBackupManager(t)
	writeServiceData(t, dataDir, "postgres", map[string]string{"base.db": "live"})

	backupPath, err := mgr.CreateBackup("postgres")
	if err != nil {
		t.Fatalf("CreateBackup failed: %v", err)
	}
	if err := mgr.Delete(backupPath); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(backupPath); !os.IsNotExist(err) {
		t.Error("backup still present after Delete")
	}
}

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoArtifacts indicates a service has no on-disk artifacts to back up.
var ErrNoArtifacts = errors.New("no artifacts to back up")

// BackupManager snapshots and restores per-service on-disk artifacts.
//
// # Description
//
// Reinstalls are destructive: containers and images are removed and the
// service's data directory may be re-seeded. The backup manager takes a
// timestamped copy of the service's artifacts before destruction and
// restores it if the rebuild fails, so a failed reinstall leaves the
// service byte-identical to its pre-reinstall state.
//
// Backups are copies, not renames: the live directory keeps serving
// while the snapshot is taken, and a restored backup remains on disk
// for the operator to inspect.
//
// # Thread Safety
//
// Implementations are safe for concurrent use on different services.
// Per-service exclusivity is the lock registry's job.
type BackupManager interface {
	// CreateBackup snapshots the service's artifacts.
	//
	// Returns the backup path, or ErrNoArtifacts when the service has
	// no data directory (a valid state for stateless services).
	CreateBackup(service string) (string, error)

	// Restore copies a backup back over the live artifact location.
	// The backup itself is kept intact.
	Restore(backupPath, service string) error

	// ListBackups returns the backups of a service, newest first.
	ListBackups(service string) ([]BackupInfo, error)

	// Prune removes the oldest backups of a service beyond the retention
	// count, returning how many were removed.
	Prune(service string) (int, error)

	// Delete removes one backup.
	Delete(backupPath string) error
}

// BackupInfo describes one service backup on disk.
type BackupInfo struct {
	// Path is the full path to the backup directory.
	Path string

	// Service is the service the backup belongs to.
	Service string

	// CreatedAt is parsed from the backup name.
	CreatedAt time.Time
}

// BackupManagerConfig configures the default backup manager.
type BackupManagerConfig struct {
	// DataDir is where live service artifacts live, one directory per
	// service: DataDir/<service>.
	DataDir string

	// BackupDir is where snapshots land: BackupDir/<service>-<timestamp>.
	BackupDir string

	// Retain is how many backups to keep per service. Default: 5
	Retain int

	// TimeFormat is the timestamp format in backup names.
	// Default: "2006-01-02_150405"
	TimeFormat string
}

// DefaultBackupManager implements BackupManager with filesystem copies.
//
// # Limitations
//
//   - Large data directories take time to copy; the saga's backup step
//     timeout must account for volume size
//   - Extended attributes are not preserved
//
// # Assumptions
//
//   - Sufficient disk space under BackupDir
//   - The service is stopped or quiesced while the snapshot is taken
type DefaultBackupManager struct {
	config BackupManagerConfig
}

// NewBackupManager creates a backup manager.
//
// # Example
//
//	mgr, err := NewBackupManager(BackupManagerConfig{
//	    DataDir:   "/opt/sting/data",
//	    BackupDir: "/opt/sting/backups",
//	    Retain:    5,
//	})
func NewBackupManager(config BackupManagerConfig) (*DefaultBackupManager, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("DataDir is required")
	}
	if config.BackupDir == "" {
		return nil, fmt.Errorf("BackupDir is required")
	}
	if config.Retain <= 0 {
		config.Retain = 5
	}
	if config.TimeFormat == "" {
		config.TimeFormat = "2006-01-02_150405"
	}
	return &DefaultBackupManager{config: config}, nil
}

// CreateBackup snapshots DataDir/<service> into a timestamped copy.
//
// # Outputs
//
//   - string: Backup path
//   - error: ErrNoArtifacts when there is nothing to back up; otherwise
//     the copy failure, with any partial backup removed
func (m *DefaultBackupManager) CreateBackup(service string) (string, error) {
	src := filepath.Join(m.config.DataDir, service)
	info, err := os.Stat(src)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNoArtifacts, service)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("artifact path %s is not a directory", src)
	}

	if err := os.MkdirAll(m.config.BackupDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup dir: %w", err)
	}

	timestamp := time.Now().Format(m.config.TimeFormat)
	dst := filepath.Join(m.config.BackupDir, service+"-"+timestamp)

	if err := copyTree(src, dst); err != nil {
		// Remove the partial copy so a later restore can't pick it up
		os.RemoveAll(dst)
		return "", fmt.Errorf("failed to snapshot %s: %w", service, err)
	}

	return dst, nil
}

// Restore copies a backup back over the live artifact location.
//
// # Description
//
// The live directory is removed and the backup copied into its place.
// The backup is preserved: a rolled-back reinstall keeps its snapshot
// for inspection.
func (m *DefaultBackupManager) Restore(backupPath, service string) error {
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup not found at %s: %w", backupPath, err)
	}

	live := filepath.Join(m.config.DataDir, service)
	if err := os.RemoveAll(live); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear %s: %w", live, err)
	}
	if err := copyTree(backupPath, live); err != nil {
		return fmt.Errorf("failed to restore %s from %s: %w", service, backupPath, err)
	}
	return nil
}

// ListBackups returns the backups of a service, newest first.
func (m *DefaultBackupManager) ListBackups(service string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(m.config.BackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup dir: %w", err)
	}

	prefix := service + "-"
	var backups []BackupInfo
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		timestampStr := strings.TrimPrefix(name, prefix)
		createdAt, err := time.Parse(m.config.TimeFormat, timestampStr)
		if err != nil {
			// Another service whose name shares this prefix, or junk
			continue
		}
		backups = append(backups, BackupInfo{
			Path:      filepath.Join(m.config.BackupDir, name),
			Service:   service,
			CreatedAt: createdAt,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// Prune removes backups beyond the retention count, oldest first.
func (m *DefaultBackupManager) Prune(service string) (int, error) {
	backups, err := m.ListBackups(service)
	if err != nil {
		return 0, err
	}
	if len(backups) <= m.config.Retain {
		return 0, nil
	}

	removed := 0
	for _, backup := range backups[m.config.Retain:] {
		if err := os.RemoveAll(backup.Path); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}

// Delete removes one backup.
func (m *DefaultBackupManager) Delete(backupPath string) error {
	// Refuse paths outside the backup dir
	cleaned := filepath.Clean(backupPath)
	if !strings.HasPrefix(cleaned, filepath.Clean(m.config.BackupDir)+string(os.PathSeparator)) {
		return fmt.Errorf("refusing to delete %s: outside backup dir", backupPath)
	}
	return os.RemoveAll(cleaned)
}

// copyTree recursively copies a directory preserving file modes.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if !info.Mode().IsRegular() {
			// Sockets and pipes left behind by containers are skipped
			return nil
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

// copyFile copies one regular file.
func copyFile(src, dst string, mode os.FileMode) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy to %s: %w", dst, err)
	}
	return dstFile.Sync()
}

// Compile-time interface check
var _ BackupManager = (*DefaultBackupManager)(nil)

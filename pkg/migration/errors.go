package migration

import (
	"errors"
	"fmt"
)

// ErrBackupNotFound is returned when a backup id does not exist
var ErrBackupNotFound = errors.New("backup not found")

// MigrationError reports the migration that stopped the chain
type MigrationError struct {
	Version string
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration to %s failed: %v", e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// BackupError reports a failed backup operation
type BackupError struct {
	Op  string
	ID  string
	Err error
}

func (e *BackupError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("backup %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backup %s %s failed: %v", e.Op, e.ID, e.Err)
}

func (e *BackupError) Unwrap() error {
	return e.Err
}

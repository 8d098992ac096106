// Package services defines the business logic for submissions and snapshots.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages, HTTP status codes or CLI exit codes
// is performed by the http and cli layers.
package services

import "errors"

var (
	// ErrStorage wraps any failure reported by the database. The wrapped
	// driver error is kept so its text can be surfaced.
	ErrStorage = errors.New("storage error")

	// ErrConfirmationDeclined is returned when the operator did not confirm a
	// destructive restore. It is a normal outcome, not a failure.
	ErrConfirmationDeclined = errors.New("restore declined")

	// ErrInvalidSnapshot indicates a backup file that cannot be decoded or
	// whose header disagrees with its payload.
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// ErrBackupNotFound is returned when a named backup file does not exist.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrNoBackups is returned when a restore was asked for the latest backup
	// and the directory holds none.
	ErrNoBackups = errors.New("no backups available")

	// ErrBackupExists is returned when a snapshot file name is already taken.
	ErrBackupExists = errors.New("backup file already exists")
)

// storageErr tags err as a storage failure. The message is the driver's.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Err: err}
}

// StorageError carries a database failure. It matches ErrStorage and unwraps
// to the driver error.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string { return e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports true for ErrStorage.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

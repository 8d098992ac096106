// Package services – BackupService
//
// This file implements BackupService, which snapshots the inscriptions table
// to a JSON file, enumerates existing snapshots, and replaces the table with
// a snapshot's contents. Snapshots keep emails exactly as stored, so no key is
// needed to take or restore one.
//
// Restore is all-or-nothing: the delete and every insert run in one
// transaction on one dedicated connection.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-inscriptions/internal/domain"
	"github.com/tbourn/go-inscriptions/internal/repo"
)

const (
	backupPrefix = "backup_"
	backupExt    = ".json"
)

// BackupService manages snapshots under Dir.
type BackupService struct {
	DB  *gorm.DB
	Dir string
	// Now is the clock used for backup_date; nil means time.Now. The local
	// zone is used, matching the operator's wall clock.
	Now func() time.Time
}

// BackupResult describes a freshly written snapshot.
type BackupResult struct {
	Path        string
	BackupDate  string
	RecordCount int
}

// BackupInfo is one entry of List. Err is set when the file could not be
// read or decoded; the other header fields are then zero.
type BackupInfo struct {
	Name        string
	Path        string
	Size        int64
	BackupDate  string
	RecordCount int
	Err         error
}

// RestoreError reports a restore that was rolled back. Written counts the
// rows inserted before the failure; none of them were committed.
type RestoreError struct {
	Written int
	Err     error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore rolled back after %d records: %v", e.Written, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

func (s *BackupService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func backupTracer() trace.Tracer { return otel.Tracer("services/BackupService") }

// FileName returns the snapshot file name for a backup_date value.
func FileName(backupDate string) string {
	return backupPrefix + backupDate + backupExt
}

// Create reads every row in id order and writes a new snapshot file. An
// existing file with the same name is never overwritten.
func (s *BackupService) Create(ctx context.Context) (res *BackupResult, err error) {
	ctx, span := backupTracer().Start(ctx, "Create")
	defer span.End()
	defer func() { backupOps.WithLabelValues("backup", outcome(err)).Inc() }()

	var rows []domain.Inscription
	if err := s.DB.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var lerr error
		rows, lerr = repo.ListInscriptionsByID(ctx, conn)
		return lerr
	}); err != nil {
		return nil, storageErr(err)
	}

	date := s.now().Format(domain.BackupDateLayout)
	snap := domain.Snapshot{
		BackupDate:  date,
		TableName:   domain.TableInscriptions,
		RecordCount: len(rows),
		Data:        make([]domain.SnapshotRecord, 0, len(rows)),
	}
	for _, r := range rows {
		snap.Data = append(snap.Data, domain.NewSnapshotRecord(r))
	}

	body, err := encodeSnapshot(&snap)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	path := filepath.Join(s.Dir, FileName(date))
	if err := writeNew(path, body); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("records", snap.RecordCount))
	return &BackupResult{Path: path, BackupDate: date, RecordCount: snap.RecordCount}, nil
}

// encodeSnapshot renders indented UTF-8 JSON with no HTML or non-ASCII
// escaping.
func encodeSnapshot(snap *domain.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// writeNew writes body to a temp file next to path and moves it into place,
// refusing to replace an existing file.
func writeNew(path string, body []byte) error {
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrBackupExists, path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".backup-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once linked away

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}

	// Link fails if path appeared in the meantime, unlike Rename.
	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrBackupExists, path)
		}
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// names returns the *.json files of Dir in lexicographic order. A missing
// directory yields no names.
func (s *BackupService) names() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), backupExt) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// List describes every snapshot in name order. A file that cannot be read
// is reported in its entry's Err and does not stop the listing.
func (s *BackupService) List() ([]BackupInfo, error) {
	names, err := s.names()
	if err != nil {
		return nil, err
	}
	out := make([]BackupInfo, 0, len(names))
	for _, n := range names {
		info := BackupInfo{Name: n, Path: filepath.Join(s.Dir, n)}
		if st, err := os.Stat(info.Path); err == nil {
			info.Size = st.Size()
		}
		snap, err := s.Load(info.Path)
		if err != nil {
			info.Err = err
		} else {
			info.BackupDate = snap.BackupDate
			info.RecordCount = snap.RecordCount
		}
		out = append(out, info)
	}
	return out, nil
}

// Resolve maps a restore argument to a file path. An empty name selects the
// lexicographically last snapshot, which is also the newest. Names are taken
// relative to Dir and may not contain a path.
func (s *BackupService) Resolve(name string) (string, error) {
	if name == "" {
		names, err := s.names()
		if err != nil {
			return "", err
		}
		if len(names) == 0 {
			return "", ErrNoBackups
		}
		return filepath.Join(s.Dir, names[len(names)-1]), nil
	}

	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %s", ErrBackupNotFound, name)
	}
	path := filepath.Join(s.Dir, name)
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrBackupNotFound, path)
	}
	return path, nil
}

// Load reads and checks a snapshot: the header must name the inscriptions
// table, record_count must match the payload, every timestamp must parse and
// every id must be non-zero and unique.
func (s *BackupService) Load(path string) (*domain.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, path)
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if snap.TableName != domain.TableInscriptions {
		return nil, fmt.Errorf("%w: table_name %q", ErrInvalidSnapshot, snap.TableName)
	}
	if snap.RecordCount != len(snap.Data) {
		return nil, fmt.Errorf("%w: record_count %d but %d records", ErrInvalidSnapshot, snap.RecordCount, len(snap.Data))
	}
	seen := make(map[uint]struct{}, len(snap.Data))
	for i, r := range snap.Data {
		if _, err := r.Inscription(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		// A zero id would be reassigned by the database on insert.
		if r.ID == 0 {
			return nil, fmt.Errorf("%w: record %d has no id", ErrInvalidSnapshot, i)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %d", ErrInvalidSnapshot, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return &snap, nil
}

// Restore replaces the whole table with snap's records, preserving ids and
// timestamps. On failure nothing changes and the error is a *RestoreError
// wrapping a storage error.
func (s *BackupService) Restore(ctx context.Context, snap *domain.Snapshot) (restored int, err error) {
	ctx, span := backupTracer().Start(ctx, "Restore",
		trace.WithAttributes(attribute.Int("records", len(snap.Data))),
	)
	defer span.End()
	defer func() { backupOps.WithLabelValues("restore", outcome(err)).Inc() }()

	rows := make([]domain.Inscription, 0, len(snap.Data))
	for _, r := range snap.Data {
		in, err := r.Inscription()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		rows = append(rows, in)
	}

	written := 0
	err = s.DB.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		return conn.Transaction(func(tx *gorm.DB) error {
			if _, err := repo.DeleteAllInscriptions(ctx, tx); err != nil {
				return err
			}
			for i := range rows {
				if err := repo.InsertInscription(ctx, tx, &rows[i]); err != nil {
					return err
				}
				written++
			}
			return repo.ResyncInscriptionSequence(ctx, tx)
		})
	})
	if err != nil {
		return 0, &RestoreError{Written: written, Err: storageErr(err)}
	}
	return written, nil
}

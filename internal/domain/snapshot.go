package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	// BackupDateLayout formats Snapshot.BackupDate and the snapshot file name.
	// Lexicographic order of formatted values equals chronological order.
	BackupDateLayout = "2006-01-02_15-04-05"

	// TimestampLayout is the textual form of date_inscription in listings
	// and snapshots. The fractional part is omitted when it is zero.
	TimestampLayout = "2006-01-02 15:04:05.999999"
)

// Snapshot is the JSON document written by the backup tool. It is a complete,
// self-describing copy of one table: RecordCount always equals len(Data).
type Snapshot struct {
	BackupDate  string           `json:"backup_date"`
	TableName   string           `json:"table_name"`
	RecordCount int              `json:"record_count"`
	Data        []SnapshotRecord `json:"data"`
}

// SnapshotRecord mirrors one inscriptions row byte for byte. Email stays in
// its stored (encrypted) form.
type SnapshotRecord struct {
	ID              uint   `json:"id"`
	Name            string `json:"nom"`
	Email           string `json:"email"`
	Message         string `json:"message"`
	DateInscription string `json:"date_inscription"`
}

// NewSnapshotRecord converts a stored row into its snapshot form.
func NewSnapshotRecord(in Inscription) SnapshotRecord {
	return SnapshotRecord{
		ID:              in.ID,
		Name:            in.Name,
		Email:           in.Email,
		Message:         in.Message,
		DateInscription: FormatTimestamp(in.DateInscription),
	}
}

// Inscription rebuilds the row, reconstructing the timestamp from its string.
func (r SnapshotRecord) Inscription() (Inscription, error) {
	ts, err := ParseTimestamp(r.DateInscription)
	if err != nil {
		return Inscription{}, fmt.Errorf("record %d: %w", r.ID, err)
	}
	return Inscription{
		ID:              r.ID,
		Name:            r.Name,
		Email:           r.Email,
		Message:         r.Message,
		DateInscription: ts,
	}, nil
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts TimestampLayout (with or without a fraction of up to
// nine digits) and RFC 3339. Values without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02 15:04:05.999999999", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// Package ledger implements the session ledger (spec §4.12): a
// SQLite-backed audit trail of every profiling session, independent of the
// sample file itself.
//
// The schema-init and WAL-mode idiom is adapted directly from the
// teacher's database.NewDB/initProcessSchema.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pkg/errors"
)

// Kind distinguishes which session type produced a ledger row.
type Kind string

const (
	Local  Kind = "LOCAL"
	Remote Kind = "REMOTE"
)

// Entry is one row of the sessions table.
type Entry struct {
	ID         int64
	StartTime  time.Time
	EndTime    *time.Time
	Kind       Kind
	Probes     string // CSV
	PMUPath    string
	SampleFile string
	Segments   int64
	Err        *string
}

// Ledger owns the sessions table.
type Ledger struct {
	db *sql.DB
}

// Open creates (or reuses) a SQLite file at dataDir/session_ledger.db and
// ensures its schema exists.
func Open(dataDir string) (*Ledger, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create ledger data directory")
	}

	dbPath := filepath.Join(dataDir, "session_ledger.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open session ledger database")
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable WAL mode on session ledger")
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialize session ledger schema")
	}

	return &Ledger{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		start_time   DATETIME NOT NULL,
		end_time     DATETIME,
		kind         TEXT NOT NULL,
		probes       TEXT NOT NULL DEFAULT '',
		pmu_path     TEXT NOT NULL DEFAULT '',
		sample_file  TEXT NOT NULL DEFAULT '',
		segments     INTEGER NOT NULL DEFAULT 0,
		error_text   TEXT
	)`
	_, err := db.Exec(schema)
	return err
}

// Begin inserts a new open session row and returns its id.
func (l *Ledger) Begin(kind Kind, probes, sampleFile string) (int64, error) {
	res, err := l.db.Exec(
		`INSERT INTO sessions (start_time, kind, probes, sample_file) VALUES (?, ?, ?, ?)`,
		time.Now().UTC(), string(kind), probes, sampleFile,
	)
	if err != nil {
		return 0, errors.Wrap(err, "insert session ledger row")
	}
	return res.LastInsertId()
}

// End closes session id, recording the PMU path taken, segments written,
// and an optional error string.
func (l *Ledger) End(id int64, pmuPath string, segments int64, sessionErr error) error {
	var errText sql.NullString
	if sessionErr != nil {
		errText = sql.NullString{String: sessionErr.Error(), Valid: true}
	}
	_, err := l.db.Exec(
		`UPDATE sessions SET end_time = ?, pmu_path = ?, segments = ?, error_text = ? WHERE id = ?`,
		time.Now().UTC(), pmuPath, segments, errText, id,
	)
	if err != nil {
		return errors.Wrapf(err, "close session ledger row %d", id)
	}
	return nil
}

// IncrementSegments bumps the segment count for an in-progress session.
func (l *Ledger) IncrementSegments(id int64) error {
	_, err := l.db.Exec(`UPDATE sessions SET segments = segments + 1 WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "increment segments for session ledger row %d", id)
	}
	return nil
}

// Entries returns every ledger row, most recent first.
func (l *Ledger) Entries() ([]Entry, error) {
	rows, err := l.db.Query(
		`SELECT id, start_time, end_time, kind, probes, pmu_path, sample_file, segments, error_text
		 FROM sessions ORDER BY id DESC`,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query session ledger")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var end sql.NullTime
		var errText sql.NullString
		var kind string
		if err := rows.Scan(&e.ID, &e.StartTime, &end, &kind, &e.Probes, &e.PMUPath, &e.SampleFile, &e.Segments, &errText); err != nil {
			return nil, errors.Wrap(err, "scan session ledger row")
		}
		e.Kind = Kind(kind)
		if end.Valid {
			t := end.Time
			e.EndTime = &t
		}
		if errText.Valid {
			s := errText.String
			e.Err = &s
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close session ledger: %w", err)
	}
	return nil
}

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"bingarchiver/internal/hash"
	"bingarchiver/internal/index"
	"bingarchiver/internal/models"
)

const (
	// IndexFileName is the well-known name of the index database inside a scanned folder.
	IndexFileName = "_images_index.db"
	// LockFileName guards a folder against concurrent runs.
	LockFileName = "_images_index.lock"
)

var (
	// ErrIndexLoad means the persisted index could not be read; callers start from an empty index.
	ErrIndexLoad = errors.New("failed to load index")
	// ErrIndexSave means the index could not be persisted; the run must stop.
	ErrIndexSave = errors.New("failed to save index")
	// ErrLocked means another process owns the folder.
	ErrLocked = errors.New("folder is locked by another run")
)

// IsStoreFile reports whether name is one of the files the store keeps in a scanned folder.
func IsStoreFile(name string) bool {
	return strings.HasPrefix(name, "_images_index.")
}

// Store persists the similarity index, archive progress and run history of one folder.
// It holds an exclusive lock on the folder until Close.
type Store struct {
	db     *sql.DB
	dbPath string
	lock   *flock.Flock
	log    zerolog.Logger

	// saved mirrors the images table so SaveIndex only writes what changed.
	// nil until the table has been read.
	saved   map[string]savedRow
	nextSeq int64
}

type savedRow struct {
	seq  int64
	info *models.ImageInfo
}

// Open locks folder and opens its index database, creating it if absent. A database
// that cannot be initialised is moved aside as <name>.corrupt and replaced.
func Open(folder string, log zerolog.Logger) (*Store, error) {
	lock := flock.New(filepath.Join(folder, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", folder, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, folder)
	}

	dbPath := filepath.Join(folder, IndexFileName)
	s := &Store{dbPath: dbPath, lock: lock, log: log}

	if err := s.open(); err != nil {
		log.Warn().Err(err).Str("path", dbPath).Msg("index database unreadable, starting fresh")
		if qerr := s.quarantine(); qerr != nil {
			lock.Unlock()
			return nil, fmt.Errorf("%w: %v (quarantine failed: %v)", ErrIndexLoad, err, qerr)
		}
		if err := s.open(); err != nil {
			lock.Unlock()
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	return s, nil
}

func (s *Store) open() error {
	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s.db = db
	if err := s.init(); err != nil {
		db.Close()
		s.db = nil
		return err
	}
	return nil
}

// quarantine moves an unreadable database out of the way.
func (s *Store) quarantine() error {
	for _, suffix := range []string{"-journal", "-wal", "-shm"} {
		os.Remove(s.dbPath + suffix)
	}
	err := os.Rename(s.dbPath, s.dbPath+".corrupt")
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database and releases the folder lock
func (s *Store) Close() error {
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// Current schema version
const schemaVersion = 2

// migrations defines all schema migrations.
// Each migration should be idempotent (safe to run multiple times).
var migrations = []struct {
	version     int
	description string
	up          string
}{
	{
		version:     1,
		description: "Initial schema",
		up:          "", // Handled by base schema creation
	},
	{
		version:     2,
		description: "Track archive progress",
		up: `
			CREATE TABLE IF NOT EXISTS scan_progress (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TEXT NOT NULL
			);
		`,
	},
}

// init creates the database schema
func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS images (
		seq INTEGER NOT NULL,
		path TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		format TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		mod_time TEXT NOT NULL,
		has_exif INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_images_seq ON images(seq);

	CREATE TABLE IF NOT EXISTS run_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		folder TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		scanned INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		ignored INTEGER NOT NULL,
		kept INTEGER NOT NULL,
		duplicates INTEGER NOT NULL,
		mismatches INTEGER NOT NULL,
		errors INTEGER NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if err := s.migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// migrate runs pending schema migrations
func (s *Store) migrate() error {
	currentVersion := s.getSchemaVersion()

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if m.up != "" {
			if _, err := s.db.Exec(m.up); err != nil {
				return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.description, err)
			}
		}
		if err := s.setSchemaVersion(m.version); err != nil {
			return err
		}
	}

	return nil
}

// getSchemaVersion returns the current schema version
func (s *Store) getSchemaVersion() int {
	var version int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0
	}
	return version
}

// setSchemaVersion records a migration as applied
func (s *Store) setSchemaVersion(version int) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version)
	return err
}

// LoadIndex reads the persisted index in insertion order. Read failures are logged
// and yield an empty index; rows with unparseable fingerprints are dropped.
func (s *Store) LoadIndex() *index.Index {
	idx := index.New()
	s.saved = nil

	rows, err := s.db.Query(`
		SELECT seq, path, fingerprint, width, height, format, file_size, mod_time, has_exif
		FROM images
		ORDER BY seq
	`)
	if err != nil {
		s.log.Warn().Err(fmt.Errorf("%w: %v", ErrIndexLoad, err)).Msg("starting with an empty index")
		return index.New()
	}
	defer rows.Close()

	saved := make(map[string]savedRow)
	var nextSeq int64
	for rows.Next() {
		img := &models.ImageInfo{}
		var seq int64
		var fingerprint, modTime string
		var hasExifInt int
		err := rows.Scan(
			&seq,
			&img.Path,
			&fingerprint,
			&img.Width,
			&img.Height,
			&img.Format,
			&img.FileSize,
			&modTime,
			&hasExifInt,
		)
		if err != nil {
			s.log.Warn().Err(fmt.Errorf("%w: %v", ErrIndexLoad, err)).Msg("starting with an empty index")
			return index.New()
		}
		nextSeq = max(nextSeq, seq+1)
		saved[img.Path] = savedRow{seq: seq}

		img.Fingerprint, err = hash.ParseFingerprint(fingerprint)
		if err != nil {
			s.log.Warn().Err(err).Str("path", img.Path).Msg("dropping index entry")
			continue
		}
		img.HasExif = hasExifInt == 1
		img.ModTime, _ = time.Parse(time.RFC3339Nano, modTime)

		if err := idx.Put(img); err != nil {
			s.log.Warn().Err(err).Str("path", img.Path).Msg("dropping index entry")
			continue
		}
		saved[img.Path] = savedRow{seq: seq, info: img}
	}
	if err := rows.Err(); err != nil {
		s.log.Warn().Err(fmt.Errorf("%w: %v", ErrIndexLoad, err)).Msg("starting with an empty index")
		return index.New()
	}

	s.saved, s.nextSeq = saved, nextSeq
	return idx
}

// SaveIndex makes the persisted index match idx in a single transaction. Only
// entries that were added, replaced or removed since the last load or save are
// written.
func (s *Store) SaveIndex(idx *index.Index) error {
	if err := s.saveIndex(idx); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexSave, err)
	}
	return nil
}

func (s *Store) saveIndex(idx *index.Index) error {
	if s.saved == nil {
		if err := s.loadSaved(); err != nil {
			return err
		}
	}

	// Rows keep their seq while it stays ascending in index order; anything
	// new, or out of order, is appended after the current maximum.
	var upserts []savedRow
	nextSeq := s.nextSeq
	last := int64(-1)
	for _, img := range idx.Entries() {
		row, ok := s.saved[img.Path]
		switch {
		case ok && row.seq > last && row.info == img:
		case ok && row.seq > last:
			upserts = append(upserts, savedRow{seq: row.seq, info: img})
		default:
			row = savedRow{seq: nextSeq}
			nextSeq++
			upserts = append(upserts, savedRow{seq: row.seq, info: img})
		}
		last = row.seq
	}

	var deletes []string
	for path := range s.saved {
		if !idx.Has(path) {
			deletes = append(deletes, path)
		}
	}
	if len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, path := range deletes {
		if _, err := tx.Exec(`DELETE FROM images WHERE path = ?`, path); err != nil {
			return fmt.Errorf("failed to delete image %s: %w", path, err)
		}
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO images (seq, path, fingerprint, width, height, format, file_size, mod_time, has_exif)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range upserts {
		img := row.info
		hasExifInt := 0
		if img.HasExif {
			hasExifInt = 1
		}
		_, err := stmt.Exec(
			row.seq,
			img.Path,
			hash.FormatFingerprint(img.Fingerprint),
			img.Width,
			img.Height,
			img.Format,
			img.FileSize,
			img.ModTime.UTC().Format(time.RFC3339Nano),
			hasExifInt,
		)
		if err != nil {
			return fmt.Errorf("failed to write image %s: %w", img.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	for _, path := range deletes {
		delete(s.saved, path)
	}
	for _, row := range upserts {
		s.saved[row.info.Path] = row
	}
	s.nextSeq = nextSeq
	return nil
}

// loadSaved reads which rows exist when SaveIndex runs before any LoadIndex.
func (s *Store) loadSaved() error {
	rows, err := s.db.Query(`SELECT path, seq FROM images`)
	if err != nil {
		return fmt.Errorf("failed to read images: %w", err)
	}
	defer rows.Close()

	saved := make(map[string]savedRow)
	var nextSeq int64
	for rows.Next() {
		var path string
		var seq int64
		if err := rows.Scan(&path, &seq); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		saved[path] = savedRow{seq: seq}
		nextSeq = max(nextSeq, seq+1)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.saved, s.nextSeq = saved, nextSeq
	return nil
}

const lastScannedKey = "last_scanned_date"

// LastScannedDate returns the last day the archive driver finished, if any.
func (s *Store) LastScannedDate() (time.Time, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM scan_progress WHERE key = ?`, lastScannedKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read progress: %w", err)
	}

	date, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse progress date %q: %w", value, err)
	}
	return date, true, nil
}

// SetLastScannedDate records day as fully processed.
func (s *Store) SetLastScannedDate(day time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO scan_progress (key, value, updated_at)
		VALUES (?, ?, ?)
	`, lastScannedKey, day.Format(time.DateOnly), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record progress: %w", err)
	}
	return nil
}

// RecordRun records a finished triage run in history
func (s *Store) RecordRun(r *models.Report) error {
	_, err := s.db.Exec(`
		INSERT INTO run_history (run_id, folder, started_at, finished_at, scanned, skipped, ignored, kept, duplicates, mismatches, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.RunID,
		r.Folder,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		r.FinishedAt.UTC().Format(time.RFC3339Nano),
		r.Scanned,
		r.Skipped,
		r.Ignored,
		r.Kept,
		r.Duplicates,
		r.Mismatches,
		r.Errors,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first. A limit <= 0 returns all runs.
func (s *Store) RecentRuns(limit int) ([]*models.Report, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT run_id, folder, started_at, finished_at, scanned, skipped, ignored, kept, duplicates, mismatches, errors
		FROM run_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Report
	for rows.Next() {
		r := &models.Report{}
		var startedAt, finishedAt string
		err := rows.Scan(
			&r.RunID,
			&r.Folder,
			&startedAt,
			&finishedAt,
			&r.Scanned,
			&r.Skipped,
			&r.Ignored,
			&r.Kept,
			&r.Duplicates,
			&r.Mismatches,
			&r.Errors,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

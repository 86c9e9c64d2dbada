package journal

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	closed  bool
	writeMu sync.Mutex
}

// NewSQLiteStore opens or creates the journal database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(60000)&_pragma=foreign_keys(1)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// one aggregating writer; readers only during undo
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		roots TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS renames (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (run_id, source)
	);

	CREATE INDEX IF NOT EXISTS idx_renames_status ON renames(run_id, status);
	`

	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("journal is closed")
	}
	return nil
}

// BeginRun records the start of a run
func (s *SQLiteStore) BeginRun(run *Run) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		_, err := s.db.Exec(`INSERT INTO runs (id, started_at, roots) VALUES (?, ?, ?)`,
			run.ID, run.StartedAt, strings.Join(run.Roots, "\n"))
		return err
	})
}

// LastRun returns the most recently started run, or nil if there is none
func (s *SQLiteStore) LastRun() (*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRow(`SELECT id, started_at, roots FROM runs ORDER BY rowid DESC LIMIT 1`)

	var run Run
	var roots string
	err := row.Scan(&run.ID, &run.StartedAt, &roots)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if roots != "" {
		run.Roots = strings.Split(roots, "\n")
	}
	return &run, nil
}

// SaveRename saves or updates a rename record
func (s *SQLiteStore) SaveRename(record *RenameRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	// Serialize writes to avoid SQLITE_BUSY from multiple concurrent writers
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		return s.saveRenameWithTransaction(record)
	})
}

func (s *SQLiteStore) saveRenameWithTransaction(record *RenameRecord) error {
	record.UpdatedAt = time.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // This will be ignored if Commit() succeeds

	query := `
	INSERT INTO renames
	(run_id, source, target, payload, status, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, source) DO UPDATE SET
		target = excluded.target,
		payload = excluded.payload,
		status = excluded.status,
		updated_at = excluded.updated_at
	`

	_, err = tx.Exec(query,
		record.RunID,
		record.Source,
		record.Target,
		record.Payload,
		record.Status,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to execute insert: %w", err)
	}

	return tx.Commit()
}

// ListRenames returns the renames of a run in the order they were performed
func (s *SQLiteStore) ListRenames(runID string) ([]*RenameRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
	SELECT run_id, source, target, payload, status, updated_at
	FROM renames WHERE run_id = ?
	ORDER BY seq ASC
	`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*RenameRecord
	for rows.Next() {
		var record RenameRecord
		err := rows.Scan(
			&record.RunID,
			&record.Source,
			&record.Target,
			&record.Payload,
			&record.Status,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, &record)
	}

	return records, rows.Err()
}

// MarkUndone flags a rename as reverted
func (s *SQLiteStore) MarkUndone(runID, source string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		_, err := s.db.Exec(`UPDATE renames SET status = ?, updated_at = ? WHERE run_id = ? AND source = ?`,
			StatusUndone, time.Now(), runID, source)
		return err
	})
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	maxRetries := 10
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil || !isSQLiteBusyError(err) {
			return err
		}
		time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
	}
	return err
}

// isSQLiteBusyError checks if the error is a SQLite busy error
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.closed = true
	return s.db.Close()
}

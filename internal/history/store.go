package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// StoreFileName is the history database file inside the librarian directory.
const StoreFileName = "history.db"

// timeLayout has a fixed width so recorded_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store persists run outcomes across reviews.
type Store struct {
	conn   *sql.DB
	logger *slog.Logger
	dbPath string
}

// RunInfo describes one recorded review run.
type RunInfo struct {
	ID         string    `json:"id"`
	RecordedAt time.Time `json:"recordedAt"`
	Results    int       `json:"results"`
}

// OpenStore opens or creates the history database in dir.
func OpenStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dbPath := filepath.Join(dir, StoreFileName)
	dbExists := fileExists(dbPath)

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	store := &Store{
		conn:   conn,
		logger: logger,
		dbPath: dbPath,
	}

	if !dbExists {
		logger.Info("Creating history database", "path", dbPath)
	}
	if err := store.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	return store, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// initializeSchema creates the history tables
func (s *Store) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS review_runs (
			id TEXT PRIMARY KEY,
			recorded_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_review_runs_recorded ON review_runs(recorded_at DESC);

		CREATE TABLE IF NOT EXISTS run_results (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			repo TEXT,
			use_case_id TEXT NOT NULL,
			success INTEGER NOT NULL,
			strict_signals TEXT,
			dependency_ready INTEGER,
			PRIMARY KEY (run_id, seq),
			FOREIGN KEY (run_id) REFERENCES review_runs(id)
		);
		CREATE INDEX IF NOT EXISTS idx_run_results_use_case ON run_results(use_case_id);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Append records the results of one completed run.
func (s *Store) Append(ctx context.Context, runID string, records []Record, at time.Time) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO review_runs (id, recorded_at) VALUES (?, ?)`,
		runID, at.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_results (run_id, seq, repo, use_case_id, success, strict_signals, dependency_ready)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		signals, err := json.Marshal(rec.StrictSignals)
		if err != nil {
			return fmt.Errorf("failed to encode strict signals: %w", err)
		}
		var ready sql.NullBool
		if rec.DependencyReady != nil {
			ready = sql.NullBool{Bool: *rec.DependencyReady, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, runID, i, nullString(rec.Repo), rec.UseCaseID, rec.Success, string(signals), ready); err != nil {
			return fmt.Errorf("failed to insert result %s: %w", rec.UseCaseID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	s.logger.Debug("Recorded review run", "runId", runID, "results", len(records))
	return nil
}

// Records returns the results of the most recent maxRuns runs, oldest first.
// maxRuns <= 0 returns every run.
func (s *Store) Records(ctx context.Context, maxRuns int) ([]Record, error) {
	limit := -1
	if maxRuns > 0 {
		limit = maxRuns
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT r.repo, r.use_case_id, r.success, r.strict_signals, r.dependency_ready
		FROM run_results r
		JOIN (SELECT id, recorded_at FROM review_runs ORDER BY recorded_at DESC LIMIT ?) recent
		  ON recent.id = r.run_id
		ORDER BY recent.recorded_at ASC, r.seq ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			repo    sql.NullString
			rec     Record
			signals sql.NullString
			ready   sql.NullBool
		)
		if err := rows.Scan(&repo, &rec.UseCaseID, &rec.Success, &signals, &ready); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		rec.Repo = repo.String
		if signals.Valid && signals.String != "" {
			if err := json.Unmarshal([]byte(signals.String), &rec.StrictSignals); err != nil {
				return nil, fmt.Errorf("failed to decode strict signals: %w", err)
			}
		}
		if ready.Valid {
			v := ready.Bool
			rec.DependencyReady = &v
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Snapshot loads the most recent maxRuns runs as a history snapshot.
func (s *Store) Snapshot(ctx context.Context, maxRuns int) (Snapshot, error) {
	records, err := s.Records(ctx, maxRuns)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Present: len(records) > 0, Source: s.dbPath, Records: records}, nil
}

// Runs lists recorded runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT rr.id, rr.recorded_at, COUNT(r.seq)
		FROM review_runs rr
		LEFT JOIN run_results r ON r.run_id = rr.id
		GROUP BY rr.id, rr.recorded_at
		ORDER BY rr.recorded_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var (
			info RunInfo
			at   string
		)
		if err := rows.Scan(&info.ID, &at, &info.Results); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		info.RecordedAt, _ = time.Parse(timeLayout, at)
		runs = append(runs, info)
	}
	return runs, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

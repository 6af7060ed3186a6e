package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/awaistahir/tou-shift/internal/engine"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// Appliance holds the stored settings of one appliance
type Appliance struct {
	Name           string  `json:"name"`
	PowerKWh       float64 `json:"power_kwh"`
	MinOns         int     `json:"min_ons"`
	ThresholdRatio float64 `json:"threshold_ratio"`
	AllowPeak      bool    `json:"allow_peak"`
	Enabled        bool    `json:"enabled"`
}

// Run is one completed scheduling cycle
type Run struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Currency  string        `json:"currency"`
	Baseline  float64       `json:"baseline"`
	Optimized float64       `json:"optimized"`
	Savings   float64       `json:"savings"`
	Schedules []RunSchedule `json:"schedules"`
}

// RunSchedule is one appliance's result within a run
type RunSchedule struct {
	Appliance string          `json:"appliance"`
	Original  engine.Schedule `json:"original"`
	Final     engine.Schedule `json:"final"`
	Outcome   string          `json:"outcome"`
	Baseline  float64         `json:"baseline"`
	Optimized float64         `json:"optimized"`
	Savings   float64         `json:"savings"`
	Reasons   []engine.Reason `json:"reasons"`
}

// CachedTariff is the most recently received tariff
type CachedTariff struct {
	Spec       engine.TouSpec `json:"spec"`
	ReceivedAt time.Time      `json:"received_at"`
}

// Store handles persistent storage using SQLite
type Store struct {
	db *sql.DB
}

// NewStore creates a new store and initializes the database
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// initialize creates the database schema
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS appliances (
		name TEXT PRIMARY KEY,
		power_kwh REAL NOT NULL DEFAULT 1.0,
		min_ons INTEGER NOT NULL DEFAULT 0,
		threshold_ratio REAL NOT NULL DEFAULT 0.8,
		allow_peak INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tariff_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		spec TEXT NOT NULL,
		received_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		currency TEXT NOT NULL,
		baseline REAL NOT NULL,
		optimized REAL NOT NULL,
		savings REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_schedules (
		run_id TEXT NOT NULL,
		appliance TEXT NOT NULL,
		original TEXT NOT NULL,
		final TEXT NOT NULL,
		outcome TEXT NOT NULL,
		baseline REAL NOT NULL,
		optimized REAL NOT NULL,
		savings REAL NOT NULL,
		reasons TEXT NOT NULL,
		PRIMARY KEY (run_id, appliance),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveAppliance saves or updates an appliance
func (s *Store) SaveAppliance(ctx context.Context, a Appliance) error {
	query := `INSERT OR REPLACE INTO appliances
		(name, power_kwh, min_ons, threshold_ratio, allow_peak, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query, a.Name, a.PowerKWh, a.MinOns, a.ThresholdRatio,
		boolToInt(a.AllowPeak), boolToInt(a.Enabled), time.Now())
	return err
}

const applianceColumns = `name, power_kwh, min_ons, threshold_ratio, allow_peak, enabled`

type scanner interface {
	Scan(dest ...any) error
}

func scanAppliance(row scanner) (Appliance, error) {
	var (
		a                  Appliance
		allowPeak, enabled int
	)
	err := row.Scan(&a.Name, &a.PowerKWh, &a.MinOns, &a.ThresholdRatio, &allowPeak, &enabled)
	a.AllowPeak = allowPeak == 1
	a.Enabled = enabled == 1
	return a, err
}

// GetAppliances retrieves all stored appliances ordered by name
func (s *Store) GetAppliances(ctx context.Context) ([]Appliance, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+applianceColumns+` FROM appliances ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appliances := []Appliance{}
	for rows.Next() {
		a, err := scanAppliance(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning appliance: %w", err)
		}
		appliances = append(appliances, a)
	}
	return appliances, rows.Err()
}

// GetAppliance retrieves a single appliance by name
func (s *Store) GetAppliance(ctx context.Context, name string) (Appliance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+applianceColumns+` FROM appliances WHERE name = ?`, name)
	a, err := scanAppliance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Appliance{}, fmt.Errorf("appliance %s: %w", name, ErrNotFound)
	}
	return a, err
}

// DeleteAppliance deletes an appliance by name
func (s *Store) DeleteAppliance(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM appliances WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("appliance %s: %w", name, ErrNotFound)
	}
	return nil
}

// CacheTariff stores a received tariff
func (s *Store) CacheTariff(ctx context.Context, spec engine.TouSpec) error {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encoding tariff: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO tariff_cache (spec, received_at) VALUES (?, ?)`,
		string(specJSON), time.Now().UTC())
	return err
}

// LatestTariff retrieves the most recently cached tariff
func (s *Store) LatestTariff(ctx context.Context) (CachedTariff, error) {
	var (
		c        CachedTariff
		specJSON string
	)
	err := s.db.QueryRowContext(ctx, `SELECT spec, received_at FROM tariff_cache ORDER BY id DESC LIMIT 1`).
		Scan(&specJSON, &c.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CachedTariff{}, fmt.Errorf("tariff: %w", ErrNotFound)
	}
	if err != nil {
		return CachedTariff{}, err
	}
	if err := json.Unmarshal([]byte(specJSON), &c.Spec); err != nil {
		return CachedTariff{}, fmt.Errorf("decoding tariff: %w", err)
	}
	return c, nil
}

// SaveRun stores a run and all of its schedules in one transaction. A non-nil
// finalize runs after the inserts and before the commit; its error rolls the run back.
func (s *Store) SaveRun(ctx context.Context, r Run, finalize func() error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (id, started_at, currency, baseline, optimized, savings)
		VALUES (?, ?, ?, ?, ?, ?)`, r.ID, r.StartedAt.UTC(), r.Currency, r.Baseline, r.Optimized, r.Savings)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	query := `INSERT INTO run_schedules
		(run_id, appliance, original, final, outcome, baseline, optimized, savings, reasons)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, rs := range r.Schedules {
		originalJSON, _ := json.Marshal(rs.Original)
		finalJSON, _ := json.Marshal(rs.Final)
		reasonsJSON, err := json.Marshal(rs.Reasons)
		if err != nil {
			return fmt.Errorf("encoding reasons: %w", err)
		}
		_, err = tx.ExecContext(ctx, query, r.ID, rs.Appliance, string(originalJSON), string(finalJSON),
			rs.Outcome, rs.Baseline, rs.Optimized, rs.Savings, string(reasonsJSON))
		if err != nil {
			return fmt.Errorf("inserting schedule for %s: %w", rs.Appliance, err)
		}
	}

	if finalize != nil {
		if err := finalize(); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LatestRun retrieves the most recent run with its schedules
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	var r Run
	err := s.db.QueryRowContext(ctx, `SELECT id, started_at, currency, baseline, optimized, savings
		FROM runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&r.ID, &r.StartedAt, &r.Currency, &r.Baseline, &r.Optimized, &r.Savings)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run: %w", ErrNotFound)
	}
	if err != nil {
		return Run{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT appliance, original, final, outcome, baseline, optimized, savings, reasons
		FROM run_schedules WHERE run_id = ? ORDER BY rowid`, r.ID)
	if err != nil {
		return Run{}, err
	}
	defer rows.Close()

	r.Schedules = []RunSchedule{}
	for rows.Next() {
		var (
			rs                                   RunSchedule
			originalJSON, finalJSON, reasonsJSON string
		)
		if err := rows.Scan(&rs.Appliance, &originalJSON, &finalJSON, &rs.Outcome,
			&rs.Baseline, &rs.Optimized, &rs.Savings, &reasonsJSON); err != nil {
			return Run{}, fmt.Errorf("scanning schedule: %w", err)
		}
		json.Unmarshal([]byte(originalJSON), &rs.Original)
		json.Unmarshal([]byte(finalJSON), &rs.Final)
		json.Unmarshal([]byte(reasonsJSON), &rs.Reasons)
		r.Schedules = append(r.Schedules, rs)
	}
	return r, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

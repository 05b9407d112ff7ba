package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// CatalogFile is the catalog database name inside the results directory.
const CatalogFile = "runs.db"

// Kind distinguishes catalog rows.
type Kind string

const (
	KindCalibration Kind = "calibration"
	KindMeasurement Kind = "measurement"
)

// Run is one catalog row.
type Run struct {
	ID        string
	Kind      Kind
	Remark    string
	Started   time.Time
	Finished  time.Time
	DataPath  string
	PlotPath  string
	ChartPath string
	Points    int

	// Coefficients is set for calibration runs.
	Coefficients []float64
	// PeakFrequency is set for measurement runs when PeakFound.
	PeakFrequency float64
	PeakFound     bool
}

// Catalog indexes every result file written during a session.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens (creating if needed) the catalog at path and applies
// pending migrations.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; keeps ":memory:" databases on a single connection too.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	c := &Catalog{db: db}
	if err := c.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// MigrateUp runs all pending migrations up to the latest version.
func (c *Catalog) MigrateUp() error {
	m, err := c.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it would close c.db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version and dirty state.
// Returns 0, false, nil if no migrations have been applied yet.
func (c *Catalog) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := c.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (c *Catalog) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(c.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Record inserts run, assigning a new ID when run.ID is empty.
func (c *Catalog) Record(ctx context.Context, run *Run) error {
	if run.Kind != KindCalibration && run.Kind != KindMeasurement {
		return fmt.Errorf("record run: unknown kind %q", run.Kind)
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	var coeffs sql.NullString
	if len(run.Coefficients) > 0 {
		b, err := json.Marshal(run.Coefficients)
		if err != nil {
			return fmt.Errorf("record run: %w", err)
		}
		coeffs = sql.NullString{String: string(b), Valid: true}
	}
	var peak sql.NullFloat64
	if run.PeakFound {
		peak = sql.NullFloat64{Float64: run.PeakFrequency, Valid: true}
	}

	_, err := c.db.ExecContext(ctx, `INSERT INTO runs (
			run_id, kind, remark, started_unix_ns, finished_unix_ns,
			data_path, plot_path, chart_path, points,
			coefficients, peak_frequency, peak_found
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.Remark, run.Started.UnixNano(), run.Finished.UnixNano(),
		run.DataPath, run.PlotPath, run.ChartPath, run.Points,
		coeffs, peak, run.PeakFound,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// Runs lists runs of the given kind, oldest first. An empty kind lists all.
func (c *Catalog) Runs(ctx context.Context, kind Kind) ([]Run, error) {
	query := `SELECT run_id, kind, remark, started_unix_ns, finished_unix_ns,
			data_path, plot_path, chart_path, points,
			coefficients, peak_frequency, peak_found
		FROM runs`
	var args []interface{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY started_unix_ns, rowid`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			k                 string
			started, finished int64
			coeffs            sql.NullString
			peak              sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &k, &r.Remark, &started, &finished,
			&r.DataPath, &r.PlotPath, &r.ChartPath, &r.Points,
			&coeffs, &peak, &r.PeakFound); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Kind = Kind(k)
		r.Started = time.Unix(0, started)
		r.Finished = time.Unix(0, finished)
		if coeffs.Valid {
			if err := json.Unmarshal([]byte(coeffs.String), &r.Coefficients); err != nil {
				return nil, fmt.Errorf("run %s coefficients: %w", r.ID, err)
			}
		}
		r.PeakFrequency = peak.Float64
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestCalibration returns the most recent calibration run.
func (c *Catalog) LatestCalibration(ctx context.Context) (Run, bool, error) {
	runs, err := c.Runs(ctx, KindCalibration)
	if err != nil || len(runs) == 0 {
		return Run{}, false, err
	}
	return runs[len(runs)-1], true, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

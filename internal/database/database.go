// Package database stores dispatched price changes in PostgreSQL or SQLite.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/andygrunwald/fuel-price-watcher/internal/models"
)

// NotifierName is the identifier used when the database acts as a notifier.
const NotifierName = "database"

const sqlitePrefix = "sqlite:"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS fuel_price_changes (
	id             BIGSERIAL PRIMARY KEY,
	notified_at    TIMESTAMPTZ NOT NULL,
	station_code   INTEGER NOT NULL,
	station_name   TEXT NOT NULL,
	fuel_type      TEXT NOT NULL,
	price_old      NUMERIC(10,2) NOT NULL,
	price_new      NUMERIC(10,2) NOT NULL,
	variance       NUMERIC(10,2) NOT NULL,
	variance_class TEXT NOT NULL,
	last_updated   TIMESTAMPTZ NOT NULL,
	UNIQUE (station_code, fuel_type, last_updated, price_new)
);
CREATE INDEX IF NOT EXISTS idx_fuel_price_changes_notified ON fuel_price_changes (notified_at);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fuel_price_changes (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	notified_at    DATETIME NOT NULL,
	station_code   INTEGER NOT NULL,
	station_name   TEXT NOT NULL,
	fuel_type      TEXT NOT NULL,
	price_old      TEXT NOT NULL,
	price_new      TEXT NOT NULL,
	variance       TEXT NOT NULL,
	variance_class TEXT NOT NULL CHECK (variance_class IN ('increase','decrease','unchanged')),
	last_updated   DATETIME NOT NULL,
	UNIQUE (station_code, fuel_type, last_updated, price_new)
);
CREATE INDEX IF NOT EXISTS idx_fuel_price_changes_notified ON fuel_price_changes (notified_at);
`

// DB wraps the change outbox connection.
type DB struct {
	db       *sql.DB
	postgres bool
	logger   zerolog.Logger
	now      func() time.Time
}

// New opens the database and creates the schema if needed.
// A DSN of the form sqlite:<path> selects SQLite, anything else is passed to pgx.
func New(dsn string, logger zerolog.Logger) (*DB, error) {
	d := &DB{
		logger: logger.With().Str("component", "database").Logger(),
		now:    time.Now,
	}

	var (
		db  *sql.DB
		err error
	)
	if path, ok := strings.CutPrefix(dsn, sqlitePrefix); ok {
		db, err = sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
		if err != nil {
			return nil, fmt.Errorf("opening database connection: %w", err)
		}
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	} else {
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("opening database connection: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		d.postgres = true
	}
	d.db = db

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	schema := sqliteSchema
	if d.postgres {
		schema = postgresSchema
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	d.logger.Info().Str("driver", d.driver()).Msg("connected to database")
	return d, nil
}

func (d *DB) driver() string {
	if d.postgres {
		return "pgx"
	}
	return "sqlite"
}

// rebind converts ? placeholders to $n for PostgreSQL.
func (d *DB) rebind(query string) string {
	if !d.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks if the database connection is alive.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// Name returns the notifier identifier.
func (d *DB) Name() string {
	return NotifierName
}

// Notify stores one row per fuel entry with a non-zero variance. Rows already
// stored for the same observation are skipped, so re-sending a change set is safe.
func (d *DB) Notify(ctx context.Context, cs models.ChangeSet) error {
	if len(cs) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := d.rebind(`
		INSERT INTO fuel_price_changes
			(notified_at, station_code, station_name, fuel_type, price_old, price_new, variance, variance_class, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (station_code, fuel_type, last_updated, price_new) DO NOTHING
	`)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	notifiedAt := d.now().UTC()
	inserted := 0
	for code, st := range cs {
		for fuelType, e := range st.FuelEntries {
			if e.VarianceClass == models.VarianceUnchanged {
				continue
			}
			res, err := stmt.ExecContext(ctx,
				notifiedAt,
				code,
				st.Metadata.Name,
				fuelType,
				e.PriceOld,
				e.PriceNew,
				e.Variance,
				string(e.VarianceClass),
				e.LastUpdated.UTC(),
			)
			if err != nil {
				return fmt.Errorf("inserting change for station %d fuel %s: %w", code, fuelType, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Debug().
		Int("stations", len(cs)).
		Int("rows", inserted).
		Msg("stored price changes")
	return nil
}

// GetTotalChangesCount returns the number of stored change rows.
func (d *DB) GetTotalChangesCount(ctx context.Context) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fuel_price_changes").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting changes: %w", err)
	}
	return count, nil
}

// ListRecentChanges returns up to limit rows, newest first.
// A non-zero stationCode restricts the result to that station.
func (d *DB) ListRecentChanges(ctx context.Context, stationCode, limit int) ([]models.PriceChange, error) {
	query := `
		SELECT id, notified_at, station_code, station_name, fuel_type, price_old, price_new, variance, variance_class, last_updated
		FROM fuel_price_changes`
	var args []any
	if stationCode != 0 {
		query += " WHERE station_code = ?"
		args = append(args, stationCode)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying changes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var changes []models.PriceChange
	for rows.Next() {
		var (
			c     models.PriceChange
			class string
		)
		if err := rows.Scan(
			&c.ID,
			&c.NotifiedAt,
			&c.StationCode,
			&c.StationName,
			&c.FuelType,
			&c.PriceOld,
			&c.PriceNew,
			&c.Variance,
			&class,
			&c.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("scanning change: %w", err)
		}
		c.VarianceClass = models.VarianceClass(class)
		c.NotifiedAt = c.NotifiedAt.UTC()
		c.LastUpdated = c.LastUpdated.UTC()
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating changes: %w", err)
	}
	return changes, nil
}

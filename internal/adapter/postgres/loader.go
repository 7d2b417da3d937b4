// Package postgres bulk-loads fetched records into PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/crop-climate-etl/internal/domain"
	"github.com/couchcryptid/crop-climate-etl/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sink = "postgres"

const schema = `
CREATE TABLE IF NOT EXISTS noaa_observations (
	run_id      TEXT             NOT NULL,
	obs_date    DATE             NOT NULL,
	station     TEXT             NOT NULL,
	datatype    TEXT             NOT NULL,
	value       DOUBLE PRECISION NOT NULL,
	attributes  TEXT             NOT NULL DEFAULT '',
	fetched_at  TIMESTAMPTZ      NOT NULL
);
CREATE INDEX IF NOT EXISTS noaa_observations_station_date_idx
	ON noaa_observations (station, obs_date);

CREATE TABLE IF NOT EXISTS nass_yields (
	run_id       TEXT             NOT NULL,
	year         INTEGER          NOT NULL,
	state        TEXT             NOT NULL,
	state_fips   TEXT             NOT NULL,
	county       TEXT             NOT NULL,
	county_ansi  TEXT             NOT NULL,
	county_fips  TEXT             NOT NULL,
	commodity    TEXT             NOT NULL,
	statistic    TEXT             NOT NULL,
	unit         TEXT             NOT NULL,
	value        DOUBLE PRECISION,
	value_code   TEXT             NOT NULL DEFAULT '',
	fetched_at   TIMESTAMPTZ      NOT NULL
);
CREATE INDEX IF NOT EXISTS nass_yields_county_year_idx
	ON nass_yields (county_fips, year);
`

var observationColumns = []string{"run_id", "obs_date", "station", "datatype", "value", "attributes", "fetched_at"}

var yieldColumns = []string{"run_id", "year", "state", "state_fips", "county", "county_ansi", "county_fips", "commodity", "statistic", "unit", "value", "value_code", "fetched_at"}

// Loader copies observations and yields into their tables.
type Loader struct {
	pool    *pgxpool.Pool
	metrics *observability.Metrics
	logger  *slog.Logger
}

// Connect opens a pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string, metrics *observability.Metrics, logger *slog.Logger) (*Loader, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Loader{pool: pool, metrics: metrics, logger: logger}, nil
}

// EnsureSchema creates the tables if they are missing.
func (l *Loader) EnsureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// LoadObservations copies obs into noaa_observations.
func (l *Loader) LoadObservations(ctx context.Context, runID string, obs []domain.Observation) (int64, error) {
	n, err := l.pool.CopyFrom(ctx,
		pgx.Identifier{"noaa_observations"},
		observationColumns,
		pgx.CopyFromSlice(len(obs), func(i int) ([]any, error) {
			return observationRow(runID, obs[i]), nil
		}),
	)
	if err != nil {
		return n, fmt.Errorf("copy observations: %w", err)
	}
	l.metrics.RecordsWritten.WithLabelValues(sink).Add(float64(n))
	l.logger.Info("observations loaded", "table", "noaa_observations", "rows", n, "run_id", runID)
	return n, nil
}

// LoadYields copies yields into nass_yields. Suppressed values are stored
// as NULL with their code in value_code.
func (l *Loader) LoadYields(ctx context.Context, runID string, yields []domain.YieldRecord) (int64, error) {
	n, err := l.pool.CopyFrom(ctx,
		pgx.Identifier{"nass_yields"},
		yieldColumns,
		pgx.CopyFromSlice(len(yields), func(i int) ([]any, error) {
			return yieldRow(runID, yields[i]), nil
		}),
	)
	if err != nil {
		return n, fmt.Errorf("copy yields: %w", err)
	}
	l.metrics.RecordsWritten.WithLabelValues(sink).Add(float64(n))
	l.logger.Info("yields loaded", "table", "nass_yields", "rows", n, "run_id", runID)
	return n, nil
}

// Ping verifies the connection.
func (l *Loader) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// Close releases the pool.
func (l *Loader) Close() {
	l.pool.Close()
}

func observationRow(runID string, o domain.Observation) []any {
	return []any{runID, o.Date, o.Station, o.DataType, o.Value, o.Attributes, o.FetchedAt}
}

func yieldRow(runID string, y domain.YieldRecord) []any {
	var value *float64
	if !y.Suppressed {
		v := y.Value
		value = &v
	}
	return []any{
		runID, y.Year, y.State, y.StateFIPS, y.County, y.CountyANSI, y.CountyFIPS,
		y.Commodity, y.Statistic, y.Unit, value, y.ValueCode, y.FetchedAt,
	}
}

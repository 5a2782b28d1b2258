package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/config"
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
	"github.com/berfenger/setpoint2mqtt/internal/core/port"

	_ "github.com/lib/pq"
)

const (
	averageRampRatesQuery = `SELECT zone_id, mode, AVG(rate_per_minute), COUNT(*)
FROM hvac_ramp_events
WHERE recorded_at >= $1 AND rate_per_minute > 0
GROUP BY zone_id, mode
ORDER BY zone_id, mode`

	insertRampSampleQuery = `INSERT INTO hvac_ramp_events (zone_id, mode, rate_per_minute, recorded_at)
VALUES ($1, $2, $3, $4)`
)

// PostgresRampHistory reads and writes the ramp rates observed while pre-conditioning.
type PostgresRampHistory struct {
	db *sql.DB
}

// ensure interface compliance
var _ port.RampHistoryRepository = (*PostgresRampHistory)(nil)

func NewPostgresDB(cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func NewPostgresRampHistory(db *sql.DB) *PostgresRampHistory {
	return &PostgresRampHistory{db: db}
}

func (r *PostgresRampHistory) AverageRampRates(ctx context.Context, since time.Time) ([]domain.RampRateStat, error) {
	rows, err := r.db.QueryContext(ctx, averageRampRatesQuery, since)
	if err != nil {
		return nil, fmt.Errorf("querying ramp rates: %w", err)
	}
	defer rows.Close()

	var stats []domain.RampRateStat
	for rows.Next() {
		var stat domain.RampRateStat
		var mode string
		if err := rows.Scan(&stat.ZoneId, &mode, &stat.RatePerMinute, &stat.Samples); err != nil {
			return nil, fmt.Errorf("scanning ramp rate: %w", err)
		}
		stat.Mode = domain.HVACMode(mode)
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *PostgresRampHistory) RecordRampSample(ctx context.Context, sample domain.RampSample) error {
	_, err := r.db.ExecContext(ctx, insertRampSampleQuery,
		sample.ZoneId, string(sample.Mode), sample.RatePerMinute, sample.RecordedAt)
	if err != nil {
		return fmt.Errorf("recording ramp sample for %s: %w", sample.ZoneId, err)
	}
	return nil
}

func (r *PostgresRampHistory) Close() error {
	return r.db.Close()
}

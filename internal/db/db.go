// Package db provides a pgxpool-based connection pool with prepared statement
// registration and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soccerops/alertcore/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// registerPreparedStatements registers the statements the alert store and
// trigger store use. Prepared statements eliminate parse overhead on every
// evaluation tick, which matters since alerts are read at least once per
// ingestion cycle.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		"health_check": "SELECT 1",

		// Alerts
		"active_alerts":        "SELECT id, user_id, name, description, fixture_id, expression_json, channels, priority, cooldown_seconds, trigger_count, last_triggered_at FROM alerts WHERE active = true",
		"alert_by_id":          "SELECT id, user_id, name, description, fixture_id, expression_json, channels, priority, cooldown_seconds, active, trigger_count, last_triggered_at FROM alerts WHERE id = $1",
		"bump_trigger_counter": "UPDATE alerts SET trigger_count = trigger_count + 1, last_triggered_at = $2 WHERE id = $1",
		"set_alert_active":     "UPDATE alerts SET active = $2 WHERE id = $1",

		// Trigger records (append-only audit log)
		"insert_trigger_record":  "INSERT INTO alert_triggers (id, alert_id, fixture_id, triggered_at, metric_snapshot_json, channels_attempted, channels_succeeded) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		"update_trigger_outcome": "UPDATE alert_triggers SET channels_succeeded = $2 WHERE id = $1",
		"last_trigger_for_alert": "SELECT triggered_at FROM alert_triggers WHERE alert_id = $1 ORDER BY triggered_at DESC LIMIT 1",

		// Custom metrics
		"custom_metrics_by_owner": "SELECT id, user_id, name, formula_text FROM custom_metrics WHERE user_id = $1",
		"insert_custom_metric":    "INSERT INTO custom_metrics (user_id, name, formula_text, created_at) VALUES ($1, $2, $3, $4) RETURNING id",

		// Users (phone/email lookup for delivery, no further joins)
		"user_contact_by_alert": "SELECT u.phone, u.email FROM alerts a JOIN users u ON u.id = a.user_id WHERE a.id = $1",
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}

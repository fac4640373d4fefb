// Package alertstore persists alerts, the append-only trigger audit log,
// and per-user custom metrics to Postgres through the prepared statements
// registered in internal/db.
package alertstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soccerops/alertcore/internal/sportdata"
)

// Store wraps a pgxpool connection pool with the queries the alert core
// needs: "read alerts where active=true; append to alert_triggers;
// read/write trigger counters and last_triggered_at; read custom_metrics
// by owner" — no joins beyond alert->user for contact lookup.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The pool's AfterConnect hook is expected to
// have already registered the prepared statements in internal/db.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ActiveAlerts returns every alert with active=true, ready for the engine
// to evaluate on the next tick.
func (s *Store) ActiveAlerts(ctx context.Context) ([]sportdata.Alert, error) {
	rows, err := s.pool.Query(ctx, "active_alerts")
	if err != nil {
		return nil, fmt.Errorf("query active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []sportdata.Alert
	for rows.Next() {
		a, err := scanAlert(rows, true)
		if err != nil {
			return nil, err
		}
		a.Active = true
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AlertByID fetches a single alert, used by the control surface and by
// reload validation.
func (s *Store) AlertByID(ctx context.Context, id int64) (sportdata.Alert, error) {
	rows, err := s.pool.Query(ctx, "alert_by_id", id)
	if err != nil {
		return sportdata.Alert{}, fmt.Errorf("query alert %d: %w", id, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return sportdata.Alert{}, fmt.Errorf("alert %d not found", id)
	}
	return scanAlert(rows, false)
}

type scannableRow interface {
	Scan(dest ...any) error
}

// scanAlert scans one alerts row. activeOmitted controls whether the row
// carries an `active` column (active_alerts filters to true server-side
// and omits the column; alert_by_id includes it).
func scanAlert(row scannableRow, activeOmitted bool) (sportdata.Alert, error) {
	var (
		a            sportdata.Alert
		exprJSON     []byte
		channelsText []string
		active       bool
	)
	var err error
	if activeOmitted {
		err = row.Scan(&a.ID, &a.OwnerUserID, &a.Name, &a.Description, &a.FixtureID,
			&exprJSON, &channelsText, &a.Priority, &a.CooldownSeconds,
			&a.TriggerCount, &a.LastTriggeredAt)
	} else {
		err = row.Scan(&a.ID, &a.OwnerUserID, &a.Name, &a.Description, &a.FixtureID,
			&exprJSON, &channelsText, &a.Priority, &a.CooldownSeconds, &active,
			&a.TriggerCount, &a.LastTriggeredAt)
		a.Active = active
	}
	if err != nil {
		return sportdata.Alert{}, fmt.Errorf("scan alert: %w", err)
	}
	if err := json.Unmarshal(exprJSON, &a.Expression); err != nil {
		return sportdata.Alert{}, fmt.Errorf("unmarshal expression for alert %d: %w", a.ID, err)
	}
	for _, c := range channelsText {
		a.Channels = append(a.Channels, sportdata.Channel(strings.ToUpper(c)))
	}
	return a, nil
}

// BumpTriggerCounter increments trigger_count and sets last_triggered_at
// atomically, the persisted half of the monotone-trigger-counter
// invariant. Must be called after (or as part of) a successful
// TriggerRecord insert, never before — see InsertTriggerRecord.
func (s *Store) BumpTriggerCounter(ctx context.Context, alertID int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, "bump_trigger_counter", alertID, at)
	if err != nil {
		return fmt.Errorf("bump trigger counter for alert %d: %w", alertID, err)
	}
	return nil
}

// SetActive flips an alert's active flag, used by deactivate/reactivate
// control-surface operations.
func (s *Store) SetActive(ctx context.Context, alertID int64, active bool) error {
	_, err := s.pool.Exec(ctx, "set_alert_active", alertID, active)
	if err != nil {
		return fmt.Errorf("set alert %d active=%v: %w", alertID, active, err)
	}
	return nil
}

// InsertTriggerRecord durably persists a TriggerRecord before dispatch
// begins, so a crash mid-delivery never produces a duplicate send.
// channels_succeeded starts empty and is filled in by UpdateTriggerOutcome
// once delivery completes.
func (s *Store) InsertTriggerRecord(ctx context.Context, rec sportdata.TriggerRecord) error {
	metricJSON, err := json.Marshal(rec.MetricSnapshot)
	if err != nil {
		return fmt.Errorf("marshal metric snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, "insert_trigger_record",
		rec.ID, rec.AlertID, rec.FixtureID, rec.TriggeredAt, metricJSON,
		channelsToText(rec.ChannelsAttempted), channelsToText(rec.ChannelsSucceeded))
	if err != nil {
		return fmt.Errorf("insert trigger record %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateTriggerOutcome records which channels actually succeeded once
// fan-out delivery completes.
func (s *Store) UpdateTriggerOutcome(ctx context.Context, recordID string, succeeded []sportdata.Channel) error {
	_, err := s.pool.Exec(ctx, "update_trigger_outcome", recordID, channelsToText(succeeded))
	if err != nil {
		return fmt.Errorf("update trigger outcome %s: %w", recordID, err)
	}
	return nil
}

// LastTriggerTime returns the most recent triggered_at for an alert from
// the audit log, used to reconcile the in-memory cooldown map on restart
// (the in-memory map is authoritative while the process runs, but a
// restarted engine must not forget a recent trigger before its cooldown
// expires).
func (s *Store) LastTriggerTime(ctx context.Context, alertID int64) (time.Time, bool, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, "last_trigger_for_alert", alertID).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("last trigger time for alert %d: %w", alertID, err)
	}
	return t, true, nil
}

// CustomMetricsByOwner returns every custom metric a user owns. Formulas
// are never stored in parsed form, only formula_text.
func (s *Store) CustomMetricsByOwner(ctx context.Context, ownerUserID int64) ([]sportdata.CustomMetric, error) {
	rows, err := s.pool.Query(ctx, "custom_metrics_by_owner", ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("query custom metrics for owner %d: %w", ownerUserID, err)
	}
	defer rows.Close()

	var metrics []sportdata.CustomMetric
	for rows.Next() {
		var m sportdata.CustomMetric
		if err := rows.Scan(&m.ID, &m.OwnerUserID, &m.Name, &m.FormulaText); err != nil {
			return nil, fmt.Errorf("scan custom metric: %w", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// InsertCustomMetric persists a new custom metric. Callers must validate
// the formula with internal/formula.Validate first so creation fails
// closed on UnsafeExpression before anything is stored.
func (s *Store) InsertCustomMetric(ctx context.Context, m sportdata.CustomMetric) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, "insert_custom_metric", m.OwnerUserID, m.Name, m.FormulaText, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert custom metric: %w", err)
	}
	return id, nil
}

// ContactForAlert resolves the owning user's phone and email for SMS/Email
// delivery — the one alert->user join the core requires.
func (s *Store) ContactForAlert(ctx context.Context, alertID int64) (phone, email string, err error) {
	err = s.pool.QueryRow(ctx, "user_contact_by_alert", alertID).Scan(&phone, &email)
	if err != nil {
		return "", "", fmt.Errorf("contact for alert %d: %w", alertID, err)
	}
	return phone, email, nil
}

func channelsToText(channels []sportdata.Channel) []string {
	out := make([]string, len(channels))
	for i, c := range channels {
		out[i] = string(c)
	}
	return out
}

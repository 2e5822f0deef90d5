// Package journal records load passes and command invocations in SQLite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/hostbridge/internal/loader"
)

// DefaultLimit is used by Recent when limit is not positive.
const DefaultLimit = 50

const maxParamsBytes = 64 * 1024

// Fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Invocation statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Invocation is one command execution.
type Invocation struct {
	ID        string          `json:"id"`
	Command   string          `json:"command"`
	Status    string          `json:"status"`
	Params    json.RawMessage `json:"params,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// LoadEntry is one descriptor outcome of a recorded load pass.
type LoadEntry struct {
	ID          string    `json:"id"`
	PassID      string    `json:"pass_id"`
	Command     string    `json:"command"`
	Path        string    `json:"path,omitempty"`
	Status      string    `json:"status"`
	Type        string    `json:"type,omitempty"`
	HostVersion string    `json:"host_version"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Journal is the history store.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an already bootstrapped database.
func New(db *sql.DB) *Journal {
	return &Journal{db: db, now: time.Now}
}

// RecordLoad stores every outcome of summary under a new pass id and returns it.
func (j *Journal) RecordLoad(ctx context.Context, summary loader.Summary) (string, error) {
	passID := uuid.New().String()
	created := j.now().UTC().Format(timeFormat)

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, o := range summary.Outcomes {
		var errText sql.NullString
		if o.Err != nil {
			errText = sql.NullString{String: o.Err.Error(), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO load_log(id, pass_id, command, module_path, status, type_name, host_version, error, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, uuid.New().String(), passID, o.Command, o.Path, string(o.Status), o.Type, summary.HostVersion, errText, created)
		if err != nil {
			return "", fmt.Errorf("insert load outcome: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}
	return passID, nil
}

// Loads returns the outcomes recorded for passID in insertion order.
func (j *Journal) Loads(ctx context.Context, passID string) ([]LoadEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT id, pass_id, command, COALESCE(module_path, ''), status, COALESCE(type_name, ''), host_version, COALESCE(error, ''), created_at
FROM load_log WHERE pass_id = ? ORDER BY rowid;
`, passID)
	if err != nil {
		return nil, fmt.Errorf("query load log: %w", err)
	}
	defer rows.Close()

	var out []LoadEntry
	for rows.Next() {
		var (
			e       LoadEntry
			created string
		)
		if err := rows.Scan(&e.ID, &e.PassID, &e.Command, &e.Path, &e.Status, &e.Type, &e.HostVersion, &e.Error, &created); err != nil {
			return nil, fmt.Errorf("scan load log: %w", err)
		}
		e.CreatedAt, _ = time.Parse(timeFormat, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordInvocation stores inv. A missing ID is generated; params that are not
// valid JSON or exceed 64 KiB are dropped.
func (j *Journal) RecordInvocation(ctx context.Context, inv Invocation) (string, error) {
	if inv.Command == "" {
		return "", errors.New("invocation command is empty")
	}
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.StartedAt.IsZero() {
		inv.StartedAt = j.now()
	}

	var params sql.NullString
	if len(inv.Params) > 0 && len(inv.Params) <= maxParamsBytes && json.Valid(inv.Params) {
		params = sql.NullString{String: string(inv.Params), Valid: true}
	}
	var errText sql.NullString
	if inv.Error != "" {
		errText = sql.NullString{String: inv.Error, Valid: true}
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO invocation_log(id, command, status, params, error, started_at, duration_ms)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, inv.ID, inv.Command, inv.Status, params, errText,
		inv.StartedAt.UTC().Format(timeFormat), inv.Duration.Milliseconds())
	if err != nil {
		return "", fmt.Errorf("insert invocation: %w", err)
	}
	return inv.ID, nil
}

// Recent returns up to limit invocations, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Invocation, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, command, status, COALESCE(params, ''), COALESCE(error, ''), started_at, duration_ms
FROM invocation_log ORDER BY started_at DESC, rowid DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer rows.Close()

	out := make([]Invocation, 0, limit)
	for rows.Next() {
		var (
			inv     Invocation
			params  string
			started string
			ms      int64
		)
		if err := rows.Scan(&inv.ID, &inv.Command, &inv.Status, &params, &inv.Error, &started, &ms); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		if params != "" {
			inv.Params = json.RawMessage(params)
		}
		inv.StartedAt, _ = time.Parse(timeFormat, started)
		inv.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, inv)
	}
	return out, rows.Err()
}

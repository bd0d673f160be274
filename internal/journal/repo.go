package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cortexlab/cortex/internal/connectors"
)

// Repo reads and writes journal rows.
type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) InsertCommand(ctx context.Context, res connectors.CommandResult) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO commands(instrument, parameter, input, error_kind, error_text, at)
		VALUES(?, ?, ?, ?, ?, ?)
	`,
		res.Instrument,
		res.Parameter,
		res.Input,
		nullableString(res.Kind),
		nullableString(res.Err),
		timeToUnixMillis(res.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert command: %w", err)
	}

	return nil
}

// RecentCommands returns up to limit commands, newest first. An empty
// instrument matches all.
func (r *Repo) RecentCommands(ctx context.Context, instrument string, limit int) ([]connectors.CommandResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT instrument, parameter, input, error_kind, error_text, at
		FROM commands
		WHERE ? = '' OR instrument = ?
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, instrument, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []connectors.CommandResult
	for rows.Next() {
		var (
			res      connectors.CommandResult
			kind, et sql.NullString
			at       int64
		)
		if err := rows.Scan(&res.Instrument, &res.Parameter, &res.Input, &kind, &et, &at); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		res.Kind = kind.String
		res.Err = et.String
		res.Timestamp = unixMillisToTime(at)
		out = append(out, res)
	}

	return out, rows.Err()
}

func (r *Repo) InsertConnection(ctx context.Context, status connectors.ConnectionStatus) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO connection_events(backend, target, state, error_text, at)
		VALUES(?, ?, ?, ?, ?)
	`,
		status.Backend,
		nullableString(status.Target),
		string(status.State),
		nullableString(status.Err),
		timeToUnixMillis(status.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert connection event: %w", err)
	}

	return nil
}

// LastConnection returns the newest connection event, if any.
func (r *Repo) LastConnection(ctx context.Context) (connectors.ConnectionStatus, bool, error) {
	var (
		status  connectors.ConnectionStatus
		state   string
		target  sql.NullString
		errText sql.NullString
		at      int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT backend, target, state, error_text, at
		FROM connection_events
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&status.Backend, &target, &state, &errText, &at)
	if err == sql.ErrNoRows {
		return connectors.ConnectionStatus{}, false, nil
	}
	if err != nil {
		return connectors.ConnectionStatus{}, false, fmt.Errorf("query last connection: %w", err)
	}
	status.State = connectors.ConnectionState(state)
	status.Target = target.String
	status.Err = errText.String
	status.Timestamp = unixMillisToTime(at)

	return status, true, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}

	return v
}

func timeToUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixMilli()
}

func unixMillisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}

	return time.UnixMilli(v)
}

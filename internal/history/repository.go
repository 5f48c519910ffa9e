// Package history provides the journal of app lifecycle events: every
// start, stop, restart, idle shutdown, activity ping, and registry
// reload, with its outcome.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event actions.
const (
	ActionStart    = "start"
	ActionStop     = "stop"
	ActionRestart  = "restart"
	ActionIdleStop = "idle_stop"
	ActionActivity = "activity"
	ActionReload   = "reload"
)

// Event outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// timeLayout is RFC 3339 with a fixed-width fraction so the TEXT column
// sorts chronologically even for events written in the same second.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Event represents a single journal entry.
type Event struct {
	ID        string    `json:"id"`
	AppID     string    `json:"app_id"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	PID       int       `json:"pid,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which events to return.
type Filter struct {
	AppID  string // optional: filter by app
	Action string // optional: filter by action (start, stop, restart, idle_stop, activity, reload)
	Limit  int    // default 100, max 1000
	Offset int    // pagination offset
}

// ListResult contains the paginated event results.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository defines the interface for journal operations.
type Repository interface {
	Append(ctx context.Context, event *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores events in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new event journal repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append inserts a new event. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Append(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = "evt-" + uuid.NewString()[:8]
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var pid any
	if event.PID > 0 {
		pid = event.PID
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO events (id, app_id, action, outcome, pid, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.AppID, event.Action, event.Outcome,
		pid, nullableString(event.Detail),
		event.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns events matching the filter, ordered by most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 { //nolint:mnd // max page size for journal queries
		filter.Limit = 1000
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.AppID != "" {
		conditions = append(conditions, "app_id = ?")
		args = append(args, filter.AppID)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM events %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, app_id, action, outcome, pid, detail, created_at FROM events %s ORDER BY created_at DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var pid sql.NullInt64
		var detail sql.NullString
		var createdAt string

		if err := rows.Scan(&event.ID, &event.AppID, &event.Action, &event.Outcome,
			&pid, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}

		if pid.Valid {
			event.PID = int(pid.Int64)
		}
		if detail.Valid {
			event.Detail = detail.String
		}

		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp %q: %w", createdAt, err)
		}
		event.CreatedAt = t

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	if events == nil {
		events = []Event{}
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

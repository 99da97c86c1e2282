// Package ledger keeps an append-only history of light events: transitions,
// forced offs, counter resets and operator resets.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names a ledger event.
type EventType string

const (
	EventSwitchedOn      EventType = "switched_on"
	EventSwitchedOff     EventType = "switched_off"
	EventForcedOff       EventType = "forced_off"
	EventForcedOffFailed EventType = "forced_off_failed"
	EventCounterReset    EventType = "counter_reset"
	EventTotalsReset     EventType = "totals_reset"
)

// Entry is one recorded event.
type Entry struct {
	ID        int64
	EventID   string
	EventType EventType
	LightID   string
	Timestamp time.Time
	Payload   map[string]any
}

// Ledger writes and queries the event_ledger table.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a Ledger on an opened database.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append records an event for a light and returns its event id.
func (l *Ledger) Append(eventType EventType, lightID string, payload map[string]any) (string, error) {
	var encoded sql.NullString
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("encode %s payload: %w", eventType, err)
		}
		encoded = sql.NullString{String: string(b), Valid: true}
	}

	eventID := uuid.NewString()
	if _, err := l.db.Exec(
		`INSERT INTO event_ledger (event_id, event_type, light_id, timestamp, payload) VALUES (?, ?, ?, ?, ?)`,
		eventID, string(eventType), lightID, l.now().UTC().UnixMilli(), encoded,
	); err != nil {
		return "", fmt.Errorf("append %s for %s: %w", eventType, lightID, err)
	}
	return eventID, nil
}

// GetByLight returns up to limit entries for a light, newest first.
func (l *Ledger) GetByLight(lightID string, limit int) ([]*Entry, error) {
	return l.query("light_id = ?", lightID, limit)
}

// DeleteOlderThan drops entries older than retention and reports how many went.
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).UTC().UnixMilli()
	res, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (l *Ledger) query(where string, arg any, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(
		`SELECT id, event_id, event_type, light_id, timestamp, payload FROM event_ledger
		WHERE `+where+` ORDER BY timestamp DESC, id DESC LIMIT ?`,
		arg, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e       Entry
			ms      int64
			payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.EventType, &e.LightID, &ms, &payload); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ms).UTC()

		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of %s: %w", e.EventID, err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

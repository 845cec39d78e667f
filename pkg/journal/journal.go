// Package journal persists link events to SQLite.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"mavwatch/pkg/link"
	"mavwatch/pkg/mavlink"
)

// DB wraps *sql.DB with event helpers.
type DB struct {
	*sql.DB
}

// Record is one stored link event.
type Record struct {
	ID    int64
	Event link.Event
}

// Open opens (or creates) the SQLite file at path in WAL mode.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	raw, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if err := raw.Ping(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	raw.SetMaxOpenConns(1)
	return &DB{raw}, nil
}

// Migrate is idempotent.
func Migrate(db *DB) error {
	for _, stmt := range []string{ddlEvents, ddlEventsTS} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("journal: migrate: %w", err)
		}
	}
	return nil
}

const ddlEvents = `
CREATE TABLE IF NOT EXISTS link_events (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    ts_ns         INTEGER NOT NULL,
    kind          TEXT    NOT NULL,
    has_identity  INTEGER NOT NULL DEFAULT 0,
    system_id     INTEGER,
    component_id  INTEGER,
    vehicle_type  INTEGER
)`

const ddlEventsTS = `CREATE INDEX IF NOT EXISTS idx_link_events_ts ON link_events(ts_ns)`

func (db *DB) Record(ctx context.Context, ev link.Event) (int64, error) {
	var sys, comp, typ sql.NullInt64
	if ev.HasIdentity {
		sys = sql.NullInt64{Int64: int64(ev.Identity.SystemID), Valid: true}
		comp = sql.NullInt64{Int64: int64(ev.Identity.ComponentID), Valid: true}
		typ = sql.NullInt64{Int64: int64(ev.Identity.VehicleType), Valid: true}
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO link_events (ts_ns, kind, has_identity, system_id, component_id, vehicle_type)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Time.UnixNano(), string(ev.Kind), ev.HasIdentity, sys, comp, typ,
	)
	if err != nil {
		return 0, fmt.Errorf("journal: record %s: %w", ev.Kind, err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit events, newest first.
func (db *DB) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, ts_ns, kind, has_identity, system_id, component_id, vehicle_type
		 FROM link_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec         Record
			tsNS        int64
			kind        string
			hasIdentity bool
			sys         sql.NullInt64
			comp        sql.NullInt64
			typ         sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &tsNS, &kind, &hasIdentity, &sys, &comp, &typ); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		rec.Event = link.Event{
			Kind:        link.EventKind(kind),
			Time:        time.Unix(0, tsNS),
			HasIdentity: hasIdentity,
		}
		if hasIdentity {
			rec.Event.Identity = mavlink.VehicleIdentity{
				SystemID:    uint8(sys.Int64),
				ComponentID: uint8(comp.Int64),
				VehicleType: uint8(typ.Int64),
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Consume records events from in until it is closed or ctx ends.
func (db *DB) Consume(ctx context.Context, in <-chan link.Event, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if _, err := db.Record(ctx, ev); err != nil {
				log.Warn("journal write failed", zap.Error(err))
			}
		}
	}
}

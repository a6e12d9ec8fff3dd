// Package audit keeps a history of power commands in a local SQLite file.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/wakegate/wakegate/logger"
	"github.com/wakegate/wakegate/pkg/metrics"
	"github.com/wakegate/wakegate/server/registry"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDisabled is returned by Open when no database path is configured
var ErrDisabled = errors.New("audit disabled")

const (
	ActionStart      = "start"
	ActionStop       = "stop"
	ActionGateStart  = "gate_start"
	ActionIdleStop   = "idle_stop"
	ActionAdminStart = "admin_start"
	ActionAdminStop  = "admin_stop"

	DefaultListLimit = 50
	maxListLimit     = 1000
)

// Event is one recorded power command
type Event struct {
	ID       int64     `json:"id"`
	Server   string    `json:"server"`
	RemoteID string    `json:"remote_id"`
	Action   string    `json:"action"`
	Source   string    `json:"source,omitempty"`
	Result   string    `json:"result"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Filter narrows List. A zero Filter returns the latest DefaultListLimit rows.
type Filter struct {
	Server string
	Since  time.Time
	Limit  int
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path and applies pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrDisabled
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit DB: %w", err)
	}

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		logger.Warn("[AUDIT] Failed to enable WAL journal", "error", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit DB ping failed: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("[AUDIT] Store opened", "path", path)
	return &Store{db: db, now: time.Now}, nil
}

func migrateUp(db *sql.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations subdirectory: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source driver: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrationLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply audit migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err == nil {
		logger.Debug("[AUDIT] Schema ready", "version", version, "dirty", dirty)
	}
	return nil
}

type migrationLogger struct{}

func (migrationLogger) Printf(format string, v ...any) {
	logger.Debug("[AUDIT] " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (migrationLogger) Verbose() bool { return false }

// Record stores ev. A zero At is set to the current time.
func (s *Store) Record(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	if ev.Result == "" {
		ev.Result = "ok"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO power_events (server, remote_id, action, source, result, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Server, ev.RemoteID, ev.Action, ev.Source, ev.Result, ev.Error, ev.At.UnixMilli())
	if err != nil {
		metrics.AuditEvents.WithLabelValues(ev.Action, "error").Inc()
		return fmt.Errorf("failed to record power event: %w", err)
	}
	metrics.AuditEvents.WithLabelValues(ev.Action, "success").Inc()
	return nil
}

// List returns matching events, newest first
func (s *Store) List(ctx context.Context, f Filter) ([]Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var (
		where []string
		args  []any
	)
	if f.Server != "" {
		where = append(where, "server = ?")
		args = append(args, f.Server)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	query := `SELECT id, server, remote_id, action, source, result, error, created_at FROM power_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query power events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var at int64
		if err := rows.Scan(&ev.ID, &ev.Server, &ev.RemoteID, &ev.Action, &ev.Source, &ev.Result, &ev.Error, &at); err != nil {
			return nil, fmt.Errorf("failed to scan power event: %w", err)
		}
		ev.At = time.UnixMilli(at).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Prune deletes events older than olderThan and returns how many went
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM power_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune power events: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	if s.db != nil {
		logger.Info("[AUDIT] Closing store")
		return s.db.Close()
	}
	return nil
}

// ActionFor maps a power signal and the component that sent it to an action
func ActionFor(source, signal string) string {
	switch source {
	case "gate", "idle", "admin":
		return source + "_" + signal
	default:
		return signal
	}
}

// RecordPower implements the panel client's recorder hook. Recording
// failures are logged only.
func (s *Store) RecordPower(ctx context.Context, b registry.Backend, signal, source string, result error) {
	ev := Event{
		Server:   b.Name,
		RemoteID: b.RemoteID,
		Action:   ActionFor(source, signal),
		Source:   source,
		Result:   "ok",
	}
	if result != nil {
		ev.Result = "error"
		ev.Error = result.Error()
	}
	// The caller's context may already be done by the time we write
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.Record(ctx, ev); err != nil {
		logger.Warn("[AUDIT] Failed to record power event", "server", b.Name, "action", ev.Action, "error", err)
	}
}

// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// Package audit keeps an append-only journal of committed key transitions.
// The journal is informational: the store document stays the system of
// record and a journal failure never undoes a transition.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os/user"
	"strings"
	"time"

	"github.com/toeirei/keyctl/internal/model"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Action names written to the journal.
const (
	ActionCreate       = "KEY_CREATE"
	ActionRotate       = "KEY_ROTATE"
	ActionDelete       = "KEY_DELETE"
	ActionExpirySet    = "EXPIRY_SET"
	ActionExpiryRemove = "EXPIRY_REMOVE"
	ActionBackup       = "BACKUP"
	ActionRestore      = "RESTORE"
	ActionLinkHost     = "LINK_HOST"
	ActionUnlinkHost   = "UNLINK_HOST"
	ActionLinkRepo     = "LINK_REPO"
	ActionUnlinkRepo   = "UNLINK_REPO"
	ActionRecover      = "RECOVER"
)

// Journal records and lists audit entries.
type Journal interface {
	Record(ctx context.Context, action, key, details string) error
	List(ctx context.Context, limit int) ([]model.AuditEntry, error)
	Close() error
}

// Nop is a Journal that drops everything. Used when auditing is disabled.
type Nop struct{}

func (Nop) Record(context.Context, string, string, string) error { return nil }
func (Nop) List(context.Context, int) ([]model.AuditEntry, error) { return nil, nil }
func (Nop) Close() error { return nil }

type entryModel struct {
	bun.BaseModel `bun:"table:audit_log"`
	ID            int64     `bun:"id,pk,autoincrement"`
	Timestamp     time.Time `bun:"timestamp,notnull"`
	Username      string    `bun:"username"`
	Action        string    `bun:"action,notnull"`
	Key           string    `bun:"key_name"`
	Details       string    `bun:"details"`
}

// DB is a bun-backed Journal.
type DB struct {
	bun  *bun.DB
	now  func() time.Time
	user func() string
}

// sqlOpenFunc allows tests to override database opening behavior.
var sqlOpenFunc = sql.Open

// Open connects to dbType (sqlite, postgres or mysql) and creates the
// journal table if needed.
func Open(ctx context.Context, dbType, dsn string) (*DB, error) {
	driverName := dbType
	// pgx registers itself as "pgx".
	if dbType == "postgres" {
		driverName = "pgx"
	}
	switch dbType {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported audit database type %q", dbType)
	}
	sqlDB, err := sqlOpenFunc(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if dbType == "sqlite" {
		// One writer; also keeps ":memory:" databases on a single connection.
		sqlDB.SetMaxOpenConns(1)
	}
	d := &DB{bun: createBunDB(sqlDB, dbType), now: time.Now, user: currentUser}
	if _, err := d.bun.NewCreateTable().Model((*entryModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		_ = d.bun.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}
	return d, nil
}

func createBunDB(sqlDB *sql.DB, dbType string) *bun.DB {
	switch dbType {
	case "postgres":
		return bun.NewDB(sqlDB, pgdialect.New())
	case "mysql":
		return bun.NewDB(sqlDB, mysqldialect.New())
	default:
		return bun.NewDB(sqlDB, sqlitedialect.New())
	}
}

// currentUser strips a Windows domain prefix from the OS user name.
func currentUser() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	if parts := strings.Split(u.Username, `\`); len(parts) > 1 {
		return parts[1]
	}
	return u.Username
}

// Record appends one entry stamped with the current time and OS user.
func (d *DB) Record(ctx context.Context, action, key, details string) error {
	e := &entryModel{Timestamp: d.now().UTC(), Username: d.user(), Action: action, Key: key, Details: details}
	if _, err := d.bun.NewInsert().Model(e).Exec(ctx); err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// List returns the newest entries first. limit <= 0 returns everything.
func (d *DB) List(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	var rows []entryModel
	q := d.bun.NewSelect().Model(&rows).OrderExpr("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	out := make([]model.AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.AuditEntry{
			ID: r.ID, Timestamp: r.Timestamp, Username: r.Username,
			Action: r.Action, Key: r.Key, Details: r.Details,
		})
	}
	return out, nil
}

// Close releases the database.
func (d *DB) Close() error { return d.bun.Close() }

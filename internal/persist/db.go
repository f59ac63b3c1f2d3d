package persist

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/posekit/overlay/internal/config"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Dialect names the SQL backend behind a DB.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// DB wraps a database/sql handle over either a local SQLite file or a
// PostgreSQL pool shared between several overlay installs.
type DB struct {
	SQL     *sql.DB
	Dialect Dialect
	pool    *pgxpool.Pool
	log     *zap.Logger
}

func NewDB(ctx context.Context, cfg config.CacheConfig, log *zap.Logger) (*DB, error) {
	var db *DB
	var err error
	if isPostgres(cfg.DSN) {
		db, err = openPostgres(ctx, cfg)
	} else {
		db, err = openSQLite(cfg)
	}
	if err != nil {
		return nil, err
	}
	db.log = log

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.SQL.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func openPostgres(ctx context.Context, cfg config.CacheConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	return &DB{SQL: stdlib.OpenDBFromPool(pool), Dialect: DialectPostgres, pool: pool}, nil
}

func openSQLite(cfg config.CacheConfig) (*DB, error) {
	path := strings.TrimSpace(cfg.DSN)
	if path == "" {
		return nil, fmt.Errorf("cache dsn is required")
	}
	dsn := path
	if !strings.Contains(path, "?") {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer; SQLite serializes anyway.
	sqlDB.SetMaxOpenConns(1)
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return &DB{SQL: sqlDB, Dialect: DialectSQLite}, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (db *DB) rebind(query string) string {
	if db.Dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) Close() {
	if err := db.SQL.Close(); err != nil && db.log != nil {
		db.log.Warn("close db", zap.Error(err))
	}
	if db.pool != nil {
		db.pool.Close()
	}
}

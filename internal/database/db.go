package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kdimtricp/sitewatch/internal/logging"
)

type DB struct {
	conn   *sql.DB
	dbType string
}

type Config struct {
	Type       string
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	SQLitePath string
}

func (c Config) dsn() (driver, dsn string, err error) {
	switch c.Type {
	case "sqlite":
		// _txlock=immediate avoids SQLITE_BUSY upgrades when two writers race.
		return "sqlite3", c.SQLitePath + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", nil
	case "postgres":
		return "pgx", fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.User, c.Password, c.Name), nil
	}
	return "", "", fmt.Errorf("unsupported database type: %s", c.Type)
}

func NewDB(ctx context.Context, config Config) (*DB, error) {
	driver, dsn, err := config.dsn()
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if config.Type == "sqlite" {
		conn.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logging.Info().Str("type", config.Type).Msg("database connected")
	return &DB{conn: conn, dbType: config.Type}, nil
}

// RunMigrations applies pending migrations from dir, or the built-in set when
// dir is empty.
func (db *DB) RunMigrations(ctx context.Context, dir string) error {
	return NewMigrator(db.conn, db.dbType).Run(ctx, MigrationSource(dir))
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) Type() string {
	return db.dbType
}

// rebind rewrites ? placeholders as $1, $2, ... for postgres.
func rebind(dbType, query string) string {
	if dbType != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
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

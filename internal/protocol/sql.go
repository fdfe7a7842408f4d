package protocol

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" driver

	"github.com/nmslite/engine/internal/config"
)

const defaultSQLTimeout = 30 * time.Second

// SQLBackend runs queries against a database reachable from the engine.
// Connection pools are kept per driver and DSN.
type SQLBackend struct {
	mu    sync.Mutex
	pools map[string]*sql.DB
}

func NewSQLBackend() *SQLBackend {
	return &SQLBackend{pools: make(map[string]*sql.DB)}
}

func (b *SQLBackend) Execute(ctx context.Context, target Target, req Request) (*Result, error) {
	if target.Config == nil || target.Config.Protocols.SQL == nil {
		return nil, fmt.Errorf("%w: sql", ErrMissingConfiguration)
	}
	cfg := target.Config.Protocols.SQL

	db, err := b.pool(cfg)
	if err != nil {
		return nil, newError(KindSQL, "open", target.Hostname, err)
	}

	ctx, cancel := context.WithTimeout(ctx, config.Timeout(cfg.TimeoutMS, defaultSQLTimeout))
	defer cancel()

	rows, err := db.QueryContext(ctx, req.Query)
	if err != nil {
		return nil, newError(KindSQL, "query", target.Hostname, err)
	}
	defer rows.Close()

	table, err := scanRows(rows)
	if err != nil {
		return nil, newError(KindSQL, "scan", target.Hostname, err)
	}
	return &Result{Rows: table}, nil
}

func (b *SQLBackend) pool(cfg *config.SQLConfig) (*sql.DB, error) {
	key := cfg.Driver + "|" + cfg.DSN

	b.mu.Lock()
	defer b.mu.Unlock()
	if db, ok := b.pools[key]; ok {
		return db, nil
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	b.pools[key] = db
	return db, nil
}

func scanRows(rows *sql.Rows) ([][]string, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	table := [][]string{}
	values := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = v.String
		}
		table = append(table, row)
	}
	return table, rows.Err()
}

// Close closes every pool.
func (b *SQLBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for key, db := range b.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.pools, key)
	}
	return firstErr
}

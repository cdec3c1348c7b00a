// Package repository implements the time-series store adapter on TimescaleDB.
// All reads against telemetry go through the continuous aggregates
// (<table>_1min|_15min|_1hour|_1day), each materialized directly from its raw
// hypertable. Stacked aggregates are never assumed.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/models"
)

// TimescaleStore implements Store on PostgreSQL/TimescaleDB via sqlx.
type TimescaleStore struct {
	db *sqlx.DB
}

// NewTimescaleStore connects to the store and sizes the pool. poolSize is
// clamped to 30 by config; <=0 falls back to 20.
func NewTimescaleStore(dsn string, poolSize int) (*TimescaleStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, enmserr.Wrap(err, enmserr.KindTransientUnavailable, "failed to connect to store")
	}

	if poolSize <= 0 {
		poolSize = 20
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize / 4)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &TimescaleStore{db: db}, nil
}

// Close closes the connection pool.
func (s *TimescaleStore) Close() error {
	return s.db.Close()
}

// Ping verifies store connectivity.
func (s *TimescaleStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return enmserr.Wrap(err, enmserr.KindTransientUnavailable, "store unreachable")
	}
	return nil
}

// RunMigrations applies the owned-table DDL. Idempotent.
func (s *TimescaleStore) RunMigrations(migrationSQL string) error {
	if _, err := s.db.Exec(migrationSQL); err != nil {
		return storeErr(err, "run migrations")
	}
	return nil
}

// storeErr maps driver errors onto the service error taxonomy. Connection
// failures are retryable; unique violations surface as conflicts.
func storeErr(err error, notFoundMsg string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return enmserr.New(enmserr.KindNotFound, notFoundMsg, args...)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return enmserr.Wrap(err, enmserr.KindTransientUnavailable, "store I/O failed")
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "23": // integrity constraint violation
			return enmserr.Wrap(err, enmserr.KindConflict, "store constraint violated")
		case "08", "57": // connection exception, operator intervention
			return enmserr.Wrap(err, enmserr.KindTransientUnavailable, "store connection lost")
		}
	}
	return enmserr.Wrap(err, enmserr.KindInternal, "store query failed: %s", fmt.Sprintf(notFoundMsg, args...))
}

// aggTable resolves the continuous-aggregate table name for a hypertable at a
// granularity. Only the four materialized resolutions exist.
func aggTable(base string, g models.Granularity) string {
	return base + "_" + string(g)
}

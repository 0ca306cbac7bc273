// Package kvdb assembles Storage, Queue, and Notifier into the single
// Database facade application code calls against: it retries transient
// failures and notifies watchers after a successful commit.
package kvdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/rawkakani/denokv-postgres/internal/config"
	"github.com/rawkakani/denokv-postgres/internal/errs"
	"github.com/rawkakani/denokv-postgres/internal/kvproto"
	"github.com/rawkakani/denokv-postgres/internal/notifier"
	"github.com/rawkakani/denokv-postgres/internal/queue"
	"github.com/rawkakani/denokv-postgres/internal/storage"
	"github.com/rawkakani/denokv-postgres/internal/watch"
)

// retryBackoffs is the fixed backoff schedule for transient-failure retry:
// up to four attempts in total, waiting 100ms, 200ms and 400ms before the
// second, third and fourth.
var retryBackoffs = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// DB is the Database facade: the one object application code constructs and
// calls against.
type DB struct {
	sqlDB    *sql.DB
	storage  *storage.Storage
	queue    *queue.Queue
	notifier *notifier.Notifier
	watcher  *watch.Watcher
}

// Open connects to the configured PostgreSQL-compatible engine, applies the
// connection pool and statement_timeout settings from cfg, ensures the
// schema exists, and returns a ready DB.
func Open(ctx context.Context, cfg *config.Config) (*DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionFailed, "open database", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxConnections)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConnectionTimeoutSeconds)*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, errs.Wrap(errs.ConnectionFailed, "ping database", err)
	}

	timeoutStmt := fmt.Sprintf("SET statement_timeout = '%d'", cfg.StatementTimeoutSeconds*1000)
	if _, err := sqlDB.ExecContext(ctx, timeoutStmt); err != nil {
		_ = sqlDB.Close()
		return nil, errs.Wrap(errs.ConnectionFailed, "set statement_timeout", err)
	}

	st := storage.New(sqlDB)
	if err := st.EnsureSchema(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	n := notifier.New()
	return &DB{
		sqlDB:    sqlDB,
		storage:  st,
		queue:    queue.New(sqlDB, st, n),
		notifier: n,
		watcher:  watch.New(st, n),
	}, nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	return d.sqlDB.Close()
}

// Ping verifies the connection pool is healthy.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.sqlDB.PingContext(ctx); err != nil {
		return errs.Wrap(errs.ConnectionFailed, "ping", err)
	}
	return nil
}

// SnapshotRead reads a key range, retrying transient failures with the
// same backoff schedule as AtomicWrite.
func (d *DB) SnapshotRead(ctx context.Context, rr kvproto.ReadRange) ([]kvproto.KvEntry, error) {
	var entries []kvproto.KvEntry
	err := withRetry(ctx, func() error {
		e, err := d.storage.ReadRange(ctx, rr)
		if err != nil {
			return err
		}
		entries = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// AtomicWrite retries transient failures with the fixed backoff schedule,
// and on a successful, non-aborted commit, notifies the Notifier for every
// mutated key so in-flight Watch calls wake.
func (d *DB) AtomicWrite(ctx context.Context, write kvproto.AtomicWrite) (*storage.WriteResult, error) {
	var result *storage.WriteResult
	err := withRetry(ctx, func() error {
		res, err := d.storage.AtomicWrite(ctx, write)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result != nil {
		for _, key := range result.MutatedKeys {
			d.notifier.Notify(key)
		}
	}
	return result, nil
}

// DequeueNextMessage leases the next ready queue message, retrying
// transient failures.
func (d *DB) DequeueNextMessage(ctx context.Context) (*queue.MessageHandle, error) {
	var handle *queue.MessageHandle
	err := withRetry(ctx, func() error {
		h, err := d.queue.DequeueNext(ctx)
		if err != nil {
			return err
		}
		handle = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// Watch streams snapshots for keys until ctx is canceled.
func (d *DB) Watch(ctx context.Context, keys [][]byte) (<-chan watch.KeyChange, error) {
	return d.watcher.Watch(ctx, keys)
}

// withRetry runs fn up to len(retryBackoffs)+1 times, retrying only errors
// classified transient by isTransient, sleeping the fixed backoff schedule
// between attempts.
func withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= len(retryBackoffs); attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) || attempt == len(retryBackoffs) {
			return lastErr
		}
		select {
		case <-time.After(retryBackoffs[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// transientSQLStateNames are the Postgres SQLSTATE classes considered safe
// to retry: serialization failures, deadlocks, and connection-loss classes
// (including pool exhaustion and server shutdown). lib/pq's
// ErrorCode.Name() exposes these as symbolic names rather than raw
// five-character codes.
var transientSQLStateNames = map[string]bool{
	"serialization_failure":     true,
	"deadlock_detected":         true,
	"connection_exception":      true,
	"connection_does_not_exist": true,
	"connection_failure":        true,
	"cannot_connect_now":        true,

	"sqlclient_unable_to_establish_sqlconnection":       true,
	"sqlserver_rejected_establishment_of_sqlconnection": true,
	"admin_shutdown":       true,
	"crash_shutdown":       true,
	"too_many_connections": true,
}

// transientMessageSubstrings catches connection-loss errors that surface
// from the driver itself rather than as a *pq.Error.
var transientMessageSubstrings = []string{
	"connection reset",
	"broken pipe",
	"connection refused",
	"bad connection",
	"i/o timeout",
	"eof",
	"connection closed",
	"connection terminated",
	"server closed the connection",
	"terminating connection because of crash",
}

// isTransient classifies an error as safe to retry: a *pq.Error in one of
// the transient SQLSTATE classes, a dropped-connection sentinel from
// database/sql itself, or a connection-loss error recognized by message
// substring.
func isTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return transientSQLStateNames[pqErr.Code.Name()]
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range transientMessageSubstrings {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

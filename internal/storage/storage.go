// Package storage executes range reads and atomic writes against a SQL
// pool: every write runs as a single transaction performing its
// preconditions, mutations, and enqueues before committing.
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/rawkakani/denokv-postgres/internal/encoding"
	"github.com/rawkakani/denokv-postgres/internal/errs"
	"github.com/rawkakani/denokv-postgres/internal/kvproto"
	"github.com/rawkakani/denokv-postgres/internal/versionstamp"
)

// Storage executes range reads and atomic writes against a SQL pool.
type Storage struct {
	db  *sql.DB
	gen versionstamp.Generator
}

// New constructs a Storage bound to db.
func New(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// EnsureSchema creates the tables and indexes this package relies on if
// they do not already exist. Idempotent; safe to call concurrently.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return errs.Wrap(errs.DatabaseError, "ensure schema", err)
	}
	return nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// ReadRange returns the entries with keys in [start, end), ordered
// ascending or descending, capped at limit, with expired rows filtered out.
// There is no background sweeper; expiry is enforced on read.
func (s *Storage) ReadRange(ctx context.Context, rr kvproto.ReadRange) ([]kvproto.KvEntry, error) {
	return readRange(ctx, s.db, rr)
}

// queryer is satisfied by both *sql.DB and *sql.Tx, so readRange can run
// either as a standalone query or inside a transaction. ReadRange passes the
// pool; AtomicWrite's check step and Sum/Min/Max's read-before-write query
// the transaction directly rather than through readRange.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readRange(ctx context.Context, q queryer, rr kvproto.ReadRange) ([]kvproto.KvEntry, error) {
	order := "ASC"
	if rr.Reverse {
		order = "DESC"
	}
	limit := rr.Limit
	if limit == 0 {
		limit = 1
	}

	query := `
SELECT key, value, value_encoding, versionstamp
FROM kv_store
WHERE key >= $1 AND key < $2 AND (expires_at IS NULL OR expires_at > $3)
ORDER BY key ` + order + `
LIMIT $4`

	rows, err := q.QueryContext(ctx, query, rr.Start, rr.End, nowMillis(), int64(limit))
	if err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "read_range", err)
	}
	defer rows.Close()

	var out []kvproto.KvEntry
	for rows.Next() {
		var (
			key, value, vsBytes []byte
			tag                 byte
		)
		if err := rows.Scan(&key, &value, &tag, &vsBytes); err != nil {
			return nil, errs.Wrap(errs.DatabaseError, "read_range scan", err)
		}
		val, err := encoding.Decode(value, tag)
		if err != nil {
			return nil, err
		}
		var vs kvproto.Versionstamp
		copy(vs[:], vsBytes)
		out = append(out, kvproto.KvEntry{Key: key, Value: val, Versionstamp: vs})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "read_range iterate", err)
	}
	return out, nil
}

// WriteResult is returned by AtomicWrite on a successful commit, along with
// the set of keys that were mutated so the facade can notify watchers.
type WriteResult struct {
	Commit        kvproto.CommitResult
	MutatedKeys   [][]byte
	EnqueuedCount int
}

// AtomicWrite runs one SQL transaction performing preconditions, mutations
// in input order, and enqueues, followed by commit. A failed precondition
// rolls back and returns (nil, nil): a normal outcome, not an error.
func (s *Storage) AtomicWrite(ctx context.Context, write kvproto.AtomicWrite) (*WriteResult, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, errs.Wrap(errs.TransactionError, "begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := nowMillis()

	// 1. Preconditions.
	for _, chk := range write.Checks {
		ok, err := checkPrecondition(ctx, tx, chk, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	}

	// 2. Commit versionstamp, shared by every mutation in this write.
	vs, err := s.gen.Next()
	if err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "generate versionstamp", err)
	}

	var mutatedKeys [][]byte

	// 3. Mutations, applied in input order.
	for _, m := range write.Mutations {
		key, err := applyMutation(ctx, tx, m, vs, now)
		if err != nil {
			return nil, err
		}
		mutatedKeys = append(mutatedKeys, key)
	}

	// 4. Enqueues.
	for _, enq := range write.Enqueues {
		if err := insertEnqueue(ctx, tx, enq); err != nil {
			return nil, err
		}
	}

	// 5. Commit.
	if err := tx.Commit(); err != nil {
		return nil, errs.Wrap(errs.TransactionError, "commit", err)
	}
	committed = true

	return &WriteResult{
		Commit:        kvproto.CommitResult{Versionstamp: vs},
		MutatedKeys:   mutatedKeys,
		EnqueuedCount: len(write.Enqueues),
	}, nil
}

func checkPrecondition(ctx context.Context, tx *sql.Tx, chk kvproto.Check, now int64) (bool, error) {
	var vsBytes []byte
	err := tx.QueryRowContext(ctx,
		`SELECT versionstamp FROM kv_store WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		chk.Key, now,
	).Scan(&vsBytes)

	switch {
	case err == sql.ErrNoRows:
		// Key absent: check passes only if caller expected absence.
		return chk.Expected == nil, nil
	case err != nil:
		return false, errs.Wrap(errs.DatabaseError, "check precondition", err)
	}

	if chk.Expected == nil {
		// Caller expected absence, but the key exists.
		return false, nil
	}
	var current kvproto.Versionstamp
	copy(current[:], vsBytes)
	return current == *chk.Expected, nil
}

func applyMutation(ctx context.Context, tx *sql.Tx, m kvproto.Mutation, vs kvproto.Versionstamp, now int64) ([]byte, error) {
	switch m.Kind {
	case kvproto.MutationSet:
		return m.Key, setKey(ctx, tx, m.Key, m.Value, vs, m.ExpireAt)
	case kvproto.MutationDelete:
		_, err := tx.ExecContext(ctx, `DELETE FROM kv_store WHERE key = $1`, m.Key)
		if err != nil {
			return m.Key, errs.Wrap(errs.DatabaseError, "delete", err)
		}
		return m.Key, nil
	case kvproto.MutationSum:
		return m.Key, accumulate(ctx, tx, m.Key, m.Value, vs, now, sumOp)
	case kvproto.MutationMin:
		return m.Key, accumulate(ctx, tx, m.Key, m.Value, vs, now, minOp)
	case kvproto.MutationMax:
		return m.Key, accumulate(ctx, tx, m.Key, m.Value, vs, now, maxOp)
	case kvproto.MutationSetSuffixVersionstampedKey:
		newKey := suffixedKey(m.Key, vs)
		if err := insertSuffixVersionstamped(ctx, tx, newKey, m.Value, vs, m.ExpireAt); err != nil {
			return newKey, err
		}
		return newKey, nil
	default:
		return m.Key, errs.New(errs.QueryError, "unknown mutation kind")
	}
}

func setKey(ctx context.Context, tx *sql.Tx, key []byte, value kvproto.Value, vs kvproto.Versionstamp, expireAt *int64) error {
	raw, tag := encoding.Encode(value)
	_, err := tx.ExecContext(ctx, `
INSERT INTO kv_store (key, value, value_encoding, versionstamp, expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
ON CONFLICT (key) DO UPDATE SET
	value = EXCLUDED.value,
	value_encoding = EXCLUDED.value_encoding,
	versionstamp = EXCLUDED.versionstamp,
	expires_at = EXCLUDED.expires_at,
	updated_at = now()
`, key, raw, tag, vs[:], expireAt)
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "set", err)
	}
	return nil
}

// suffixedKey builds the key used by a versionstamp-suffixed set: the
// caller's prefix followed by the commit's 10-byte versionstamp.
func suffixedKey(prefix []byte, vs kvproto.Versionstamp) []byte {
	return append(append([]byte{}, prefix...), vs[:]...)
}

func insertSuffixVersionstamped(ctx context.Context, tx *sql.Tx, key []byte, value kvproto.Value, vs kvproto.Versionstamp, expireAt *int64) error {
	raw, tag := encoding.Encode(value)
	_, err := tx.ExecContext(ctx, `
INSERT INTO kv_store (key, value, value_encoding, versionstamp, expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
`, key, raw, tag, vs[:], expireAt)
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "set_suffix_versionstamped_key", err)
	}
	return nil
}

type accumulatorOp func(prior, operand int64) int64

func sumOp(prior, operand int64) int64 { return prior + operand } // wraps around on signed overflow
func minOp(prior, operand int64) int64 {
	if operand < prior {
		return operand
	}
	return prior
}
func maxOp(prior, operand int64) int64 {
	if operand > prior {
		return operand
	}
	return prior
}

// accumulate implements the shared shape of Sum/Min/Max: require
// u64-tagged storage, reinterpret the 8 bytes as signed i64, apply op,
// write back as 8 little-endian bytes. An absent or expired key stores the
// operand directly.
func accumulate(ctx context.Context, tx *sql.Tx, key []byte, operand kvproto.Value, vs kvproto.Versionstamp, now int64, op accumulatorOp) error {
	if operand.Tag != kvproto.TagUint64 {
		return errs.New(errs.InvalidData, "sum/min/max require a u64-tagged operand")
	}
	operandI64 := int64(operand.U64)

	var currentRaw []byte
	var currentTag byte
	err := tx.QueryRowContext(ctx,
		`SELECT value, value_encoding FROM kv_store WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		key, now,
	).Scan(&currentRaw, &currentTag)

	var result int64
	switch {
	case err == sql.ErrNoRows:
		result = operandI64
	case err != nil:
		return errs.Wrap(errs.DatabaseError, "accumulate read", err)
	default:
		if kvproto.ValueTag(currentTag) != kvproto.TagUint64 {
			return errs.New(errs.InvalidData, "sum/min/max require the existing value to be u64-tagged")
		}
		if len(currentRaw) != 8 {
			return errs.New(errs.InvalidData, "stored u64 value must be exactly 8 bytes")
		}
		prior, decodeErr := decodeI64LE(currentRaw)
		if decodeErr != nil {
			return decodeErr
		}
		result = op(prior, operandI64)
	}

	newRaw := encodeI64LE(result)
	_, err = tx.ExecContext(ctx, `
INSERT INTO kv_store (key, value, value_encoding, versionstamp, created_at, updated_at)
VALUES ($1, $2, $3, $4, now(), now())
ON CONFLICT (key) DO UPDATE SET
	value = EXCLUDED.value,
	value_encoding = EXCLUDED.value_encoding,
	versionstamp = EXCLUDED.versionstamp,
	expires_at = CASE WHEN kv_store.expires_at > $5 THEN kv_store.expires_at END,
	updated_at = now()
WHERE kv_store.value_encoding = $3 OR kv_store.expires_at <= $5
`, key, newRaw, byte(kvproto.TagUint64), vs[:], now)
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "accumulate write", err)
	}
	return nil
}

func insertEnqueue(ctx context.Context, tx *sql.Tx, enq kvproto.Enqueue) error {
	id := uuid.New()
	var backoff any
	if enq.BackoffSchedule != nil {
		backoff = pq.Int64Array(int32SliceToInt64(enq.BackoffSchedule))
	}
	keys := pq.ByteaArray(enq.KeysIfUndelivered)
	_, err := tx.ExecContext(ctx, `
INSERT INTO queue_messages (id, payload, deadline, keys_if_undelivered, backoff_schedule, created_at, retry_count)
VALUES ($1, $2, $3, $4, $5, now(), 0)
`, id, enq.Payload, enq.DeadlineMillis, keys, backoff)
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "enqueue", err)
	}
	return nil
}

func int32SliceToInt64(s []int32) []int64 {
	out := make([]int64, len(s))
	for i, v := range s {
		out[i] = int64(v)
	}
	return out
}

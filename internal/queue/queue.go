// Package queue implements a two-table lease protocol over SQL:
// queue_messages holds pending deliveries, queue_running holds active
// leases, and dequeue uses SKIP LOCKED so concurrent workers never block on
// one another.
package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/rawkakani/denokv-postgres/internal/errs"
	"github.com/rawkakani/denokv-postgres/internal/kvproto"
	"github.com/rawkakani/denokv-postgres/internal/notifier"
	"github.com/rawkakani/denokv-postgres/internal/storage"
)

// Queue executes dequeue and finish operations against the queue_messages /
// queue_running tables.
type Queue struct {
	db       *sql.DB
	storage  *storage.Storage // used only for dead-lettering on exhausted retries
	notifier *notifier.Notifier
}

// New constructs a Queue bound to db, using st for the atomic dead-letter
// write when a message's backoff schedule is exhausted, and n to wake
// watchers of any key that write touches.
func New(db *sql.DB, st *storage.Storage, n *notifier.Notifier) *Queue {
	return &Queue{db: db, storage: st, notifier: n}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// MessageHandle is a live, leased delivery returned by DequeueNext.
type MessageHandle struct {
	q    *Queue
	id   uuid.UUID
	msg  kvproto.QueueMessage
	took bool
}

// ID returns the message's identifier.
func (h *MessageHandle) ID() string { return h.id.String() }

// DequeueNext selects the oldest eligible message with SKIP LOCKED, moves
// it into queue_running, and commits before returning the handle. Returns
// (nil, nil) if no message is eligible.
func (q *Queue) DequeueNext(ctx context.Context) (*MessageHandle, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Wrap(errs.TransactionError, "begin dequeue", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var (
		id         uuid.UUID
		payload    []byte
		deadline   int64
		keysIfUnd  pq.ByteaArray
		backoff    pq.Int64Array
		retryCount int
	)

	row := tx.QueryRowContext(ctx, `
SELECT id, payload, deadline, keys_if_undelivered, backoff_schedule, retry_count
FROM queue_messages
WHERE deadline <= $1
  AND id NOT IN (SELECT message_id FROM queue_running)
ORDER BY deadline ASC
LIMIT 1
FOR UPDATE SKIP LOCKED
`, nowMillis())

	if err := row.Scan(&id, &payload, &deadline, &keysIfUnd, &backoff, &retryCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errs.Wrap(errs.DatabaseError, "dequeue select", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO queue_running (message_id, deadline, started_at, updated_at)
VALUES ($1, $2, now(), now())
`, id, deadline); err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "dequeue lease insert", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Wrap(errs.TransactionError, "commit dequeue", err)
	}
	committed = true

	msg := kvproto.QueueMessage{
		ID:                id.String(),
		Payload:           payload,
		DeadlineMillis:    deadline,
		KeysIfUndelivered: [][]byte(keysIfUnd),
		BackoffSchedule:   int64SliceToInt32(backoff),
		RetryCount:        retryCount,
	}
	return &MessageHandle{q: q, id: id, msg: msg}, nil
}

// TakePayload is one-shot: it returns the payload the first time it's
// called and InvalidData on every call after that.
func (h *MessageHandle) TakePayload() ([]byte, error) {
	if h.took {
		return nil, errs.New(errs.InvalidData, "payload already taken")
	}
	h.took = true
	return h.msg.Payload, nil
}

// Finish resolves a leased delivery. success=true deletes the message (and
// its lease). success=false advances retry_count and pushes the deadline
// forward by the next backoff_schedule entry; once the schedule is
// exhausted, it atomically writes the payload to every key in
// keys_if_undelivered and deletes the message instead of leaving it for
// redelivery.
func (h *MessageHandle) Finish(ctx context.Context, success bool) error {
	if success {
		return h.deleteMessage(ctx)
	}

	delayMillis, ok := nextBackoffDelay(h.msg.BackoffSchedule, h.msg.RetryCount)
	if !ok {
		return h.deadLetter(ctx)
	}

	tx, err := h.q.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.TransactionError, "begin finish", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	newDeadline := nowMillis() + int64(delayMillis)
	if _, err := tx.ExecContext(ctx, `
UPDATE queue_messages SET deadline = $1, retry_count = retry_count + 1 WHERE id = $2
`, newDeadline, h.id); err != nil {
		return errs.Wrap(errs.DatabaseError, "advance retry", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_running WHERE message_id = $1`, h.id); err != nil {
		return errs.Wrap(errs.DatabaseError, "release lease", err)
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.TransactionError, "commit finish", err)
	}
	committed = true
	return nil
}

func (h *MessageHandle) deleteMessage(ctx context.Context) error {
	tx, err := h.q.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.TransactionError, "begin finish", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_running WHERE message_id = $1`, h.id); err != nil {
		return errs.Wrap(errs.DatabaseError, "delete lease", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_messages WHERE id = $1`, h.id); err != nil {
		return errs.Wrap(errs.DatabaseError, "delete message", err)
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.TransactionError, "commit finish", err)
	}
	committed = true
	return nil
}

// deadLetter writes the message's payload to every key_if_undelivered
// under the same atomic-write contract storage uses, then deletes the
// message. The dead-letter write and the message deletion are deliberately
// two separate operations (not one transaction): the former goes through
// Storage's own AtomicWrite, which owns its own transaction and
// versionstamp generation.
func (h *MessageHandle) deadLetter(ctx context.Context) error {
	if h.q.storage != nil && len(h.msg.KeysIfUndelivered) > 0 {
		mutations := make([]kvproto.Mutation, len(h.msg.KeysIfUndelivered))
		for i, key := range h.msg.KeysIfUndelivered {
			mutations[i] = kvproto.Mutation{
				Key:   key,
				Kind:  kvproto.MutationSet,
				Value: kvproto.Value{Tag: kvproto.TagBytes, Bytes: h.msg.Payload},
			}
		}
		result, err := h.q.storage.AtomicWrite(ctx, kvproto.AtomicWrite{Mutations: mutations})
		if err != nil {
			return errs.Wrap(errs.DatabaseError, "dead-letter write", err)
		}
		if h.q.notifier != nil && result != nil {
			for _, key := range result.MutatedKeys {
				h.q.notifier.Notify(key)
			}
		}
	}
	return h.deleteMessage(ctx)
}

// nextBackoffDelay returns the backoff schedule's entry at index
// retryCount, and whether one exists. A nil/empty schedule has no entries,
// so the first failure already dead-letters.
func nextBackoffDelay(schedule []int32, retryCount int) (int32, bool) {
	if retryCount < 0 || retryCount >= len(schedule) {
		return 0, false
	}
	return schedule[retryCount], true
}

func int64SliceToInt32(s []int64) []int32 {
	if s == nil {
		return nil
	}
	out := make([]int32, len(s))
	for i, v := range s {
		out[i] = int32(v)
	}
	return out
}

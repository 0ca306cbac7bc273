package kvdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestIsTransientClassifiesSQLStates(t *testing.T) {
	require.True(t, isTransient(&pq.Error{Code: "40001"}))  // serialization_failure
	require.True(t, isTransient(&pq.Error{Code: "40P01"}))  // deadlock_detected
	require.False(t, isTransient(&pq.Error{Code: "23505"})) // unique_violation
}

func TestIsTransientClassifiesConnectionSentinels(t *testing.T) {
	require.True(t, isTransient(sql.ErrConnDone))
	require.True(t, isTransient(driver.ErrBadConn))
}

func TestIsTransientClassifiesMessageSubstrings(t *testing.T) {
	require.True(t, isTransient(errors.New("read tcp: connection reset by peer")))
	require.True(t, isTransient(errors.New("write: broken pipe")))
	require.False(t, isTransient(errors.New("syntax error near SELECT")))
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return &pq.Error{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		return &pq.Error{Code: "40001"}
	})
	require.Error(t, err)
	require.Equal(t, len(retryBackoffs)+1, attempts)
}

func TestWithRetryDoesNotRetryNonTransientErrors(t *testing.T) {
	attempts := 0
	sentinel := errors.New("syntax error")
	err := withRetry(context.Background(), func() error {
		attempts++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, attempts)
}

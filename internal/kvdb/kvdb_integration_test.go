package kvdb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rawkakani/denokv-postgres/internal/config"
	"github.com/rawkakani/denokv-postgres/internal/kvproto"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	url := os.Getenv("KVD_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("KVD_TEST_POSTGRES_URL not set, skipping PostgreSQL integration test")
	}
	return &config.Config{
		URL:                      url,
		MaxConnections:           5,
		ConnectionTimeoutSeconds: 5,
		StatementTimeoutSeconds:  30,
	}
}

func TestIntegrationOpenAndWriteNotifiesWatch(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	db, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()

	key := []byte("kvdb_watch_key")
	changes, err := db.Watch(ctx, [][]byte{key})
	require.NoError(t, err)

	initial := <-changes
	require.Nil(t, initial.Entry)

	res, err := db.AtomicWrite(ctx, kvproto.AtomicWrite{
		Mutations: []kvproto.Mutation{{
			Key: key, Kind: kvproto.MutationSet,
			Value: kvproto.Value{Tag: kvproto.TagBytes, Bytes: []byte("hello")},
		}},
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	select {
	case change := <-changes:
		require.NotNil(t, change.Entry)
		require.Equal(t, []byte("hello"), change.Entry.Value.Bytes)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch to observe the write")
	}
}

func TestIntegrationDequeueNextMessageThroughFacade(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	db, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.AtomicWrite(ctx, kvproto.AtomicWrite{
		Enqueues: []kvproto.Enqueue{{Payload: []byte("facade-payload")}},
	})
	require.NoError(t, err)

	h, err := db.DequeueNextMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, h)

	payload, err := h.TakePayload()
	require.NoError(t, err)
	require.Equal(t, []byte("facade-payload"), payload)

	require.NoError(t, h.Finish(ctx, true))
}

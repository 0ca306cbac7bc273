package storage

const schemaDDL = `
CREATE TABLE IF NOT EXISTS kv_store (
	key            BYTEA PRIMARY KEY,
	value          BYTEA,
	value_encoding INT,
	versionstamp   BYTEA,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at     BIGINT
);

CREATE INDEX IF NOT EXISTS idx_kv_store_versionstamp ON kv_store (versionstamp);
CREATE INDEX IF NOT EXISTS idx_kv_store_expires_at ON kv_store (expires_at) WHERE expires_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_kv_store_updated_at ON kv_store (updated_at);

CREATE TABLE IF NOT EXISTS queue_messages (
	id                  UUID PRIMARY KEY,
	payload             BYTEA,
	deadline            BIGINT NOT NULL,
	keys_if_undelivered BYTEA[] NOT NULL DEFAULT '{}',
	backoff_schedule    INT[],
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	retry_count         INT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_queue_messages_deadline ON queue_messages (deadline);

CREATE TABLE IF NOT EXISTS queue_running (
	message_id  UUID PRIMARY KEY REFERENCES queue_messages (id),
	deadline    BIGINT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_queue_running_deadline ON queue_running (deadline);
`

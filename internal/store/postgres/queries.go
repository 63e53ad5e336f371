package postgres

const schemaStatements = `
CREATE TABLE IF NOT EXISTS schedule_events (
    id          UUID PRIMARY KEY,
    revision    BIGINT NOT NULL UNIQUE,
    type        TEXT NOT NULL,
    job_id      UUID,
    machine_id  TEXT,
    occurred_at TIMESTAMPTZ NOT NULL,
    payload     JSONB NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS schedule_checkpoints (
    id              UUID PRIMARY KEY,
    revision        BIGINT NOT NULL,
    idempotency_key TEXT NOT NULL UNIQUE,
    state           JSONB NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS schedule_checkpoints_revision_idx ON schedule_checkpoints (revision DESC);
`

const queryInsertEvent = `
INSERT INTO schedule_events (id, revision, type, job_id, machine_id, occurred_at, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryEventsSince = `
SELECT payload
FROM schedule_events
WHERE revision > $1
ORDER BY revision
LIMIT $2
`

const queryInsertCheckpoint = `
INSERT INTO schedule_checkpoints (id, revision, idempotency_key, state, created_at)
VALUES ($1, $2, $3, $4, $5)
`

const queryLatestCheckpoint = `
SELECT id, revision, idempotency_key, state, created_at
FROM schedule_checkpoints
ORDER BY revision DESC, created_at DESC
LIMIT 1
`

const queryPruneEvents = `
DELETE FROM schedule_events
WHERE revision <= $1
`

const queryEventIDAtRevision = `
SELECT id
FROM schedule_events
WHERE revision = $1
`

const queryTruncateEventsAfter = `
DELETE FROM schedule_events
WHERE revision > $1
`

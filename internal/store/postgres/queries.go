package postgres

// Expected schema:
//
//	CREATE TABLE processing_records (
//	    id             TEXT PRIMARY KEY,
//	    state          TEXT NOT NULL,
//	    outcome        TEXT NOT NULL DEFAULT '',
//	    failed_targets TEXT[] NOT NULL DEFAULT '{}',
//	    first_seen     TIMESTAMPTZ NOT NULL,
//	    last_updated   TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX processing_records_last_updated_idx ON processing_records (last_updated);

const queryAdmit = `
INSERT INTO processing_records (id, state, first_seen, last_updated)
VALUES ($1, $2, $3, $3)
ON CONFLICT (id) DO NOTHING`

const queryGetRecord = `
SELECT state, outcome, failed_targets
FROM processing_records
WHERE id = $1`

const queryComplete = `
UPDATE processing_records
SET state = $1, outcome = $2, failed_targets = $3, last_updated = $4
WHERE id = $5 AND state = 'in_flight'`

const queryRecordExists = `
SELECT EXISTS (SELECT 1 FROM processing_records WHERE id = $1)`

const querySweep = `
DELETE FROM processing_records
WHERE state <> $1 AND last_updated < $2`

const queryStaleInFlight = `
SELECT COUNT(*)
FROM processing_records
WHERE state = $1 AND first_seen < $2`

package postgres

// SQL queries for versioned observation storage

const (
	// querySaveObservation inserts one version row idempotently.
	// Uses the full cell identity (dataset, geo, other keys, time,
	// version) as the conflict target.
	// RETURNING retrieves the auto-generated ingest_seq.
	// ON CONFLICT DO NOTHING returns no rows (sql.ErrNoRows) for duplicates.
	querySaveObservation = `
		INSERT INTO observations (
			dataset, geo_value, other_keys, partition_id,
			time_value, version, data, issue_id, ingested_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (dataset, geo_value, other_keys, time_value, version) DO NOTHING
		RETURNING ingest_seq
	`

	// queryRetrieveAsOf reconstructs a snapshot: per cell, the row with
	// the latest version at or before the as-of date. DISTINCT ON with
	// version DESC picks exactly that row. Empty geo / NULL bounds
	// leave the corresponding filter open.
	queryRetrieveAsOf = `
		SELECT DISTINCT ON (geo_value, other_keys, time_value)
			geo_value, other_keys, time_value, version, data, issue_id, ingested_at, ingest_seq
		FROM observations
		WHERE dataset = $1
		  AND version <= $2
		  AND ($3 = '' OR geo_value = $3)
		  AND ($4::timestamptz IS NULL OR time_value >= $4)
		  AND ($5::timestamptz IS NULL OR time_value <= $5)
		ORDER BY geo_value, other_keys, time_value, version DESC
	`

	// queryRetrieveVersions fetches one compaction shard's full version
	// history in canonical order, so redundant-version detection can
	// compare each row with its predecessor.
	queryRetrieveVersions = `
		SELECT geo_value, other_keys, time_value, version, data, issue_id, ingested_at, ingest_seq
		FROM observations
		WHERE dataset = $1
		  AND partition_id = $2
		ORDER BY geo_value, other_keys, time_value, version
	`

	// queryDeleteObservations removes compacted rows by sequence.
	queryDeleteObservations = `
		DELETE FROM observations
		WHERE ingest_seq = ANY($1)
	`
)

// Package statslog is a local, append-only transfer statistics log
// backing the -s stats web UI's history (MOREINFO does not read it),
// grounded on
// daemon/manager/persistence.go's PersistentStore: same sql.DB-over-
// modernc.org/sqlite shape, retargeted from whole-session state
// snapshots to periodic per-swarm throughput samples, since this
// engine's session state already lives in the .mbinmap/.mhash sidecars
// rather than a database.
package statslog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Sample is one periodic throughput reading for a swarm.
type Sample struct {
	SwarmID   string
	UpBytes   uint64
	DownBytes uint64
	SampledAt time.Time
}

// Log is a sqlite-backed append-only store of throughput samples.
type Log struct {
	db *sql.DB
}

// Open creates or attaches to the statistics database at path.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("statslog: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE IF NOT EXISTS throughput_samples (
			swarm_id   TEXT NOT NULL,
			up_bytes   INTEGER NOT NULL,
			down_bytes INTEGER NOT NULL,
			sampled_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_samples_swarm_time
			ON throughput_samples(swarm_id, sampled_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("statslog: init schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Record appends one throughput sample for a swarm.
func (l *Log) Record(swarmID string, up, down uint64, at time.Time) error {
	_, err := l.db.Exec(
		`INSERT INTO throughput_samples (swarm_id, up_bytes, down_bytes, sampled_at) VALUES (?, ?, ?, ?)`,
		swarmID, up, down, at,
	)
	if err != nil {
		return fmt.Errorf("statslog: record sample: %w", err)
	}
	return nil
}

// RecentSamples returns up to limit of the most recent samples for a
// swarm, oldest first.
func (l *Log) RecentSamples(swarmID string, limit int) ([]Sample, error) {
	rows, err := l.db.Query(
		`SELECT up_bytes, down_bytes, sampled_at FROM throughput_samples
		 WHERE swarm_id = ? ORDER BY sampled_at DESC LIMIT ?`,
		swarmID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("statslog: query samples: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		s.SwarmID = swarmID
		if err := rows.Scan(&s.UpBytes, &s.DownBytes, &s.SampledAt); err != nil {
			return nil, fmt.Errorf("statslog: scan sample: %w", err)
		}
		samples = append(samples, s)
	}
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// Prune deletes samples older than before, keeping the log bounded.
func (l *Log) Prune(before time.Time) error {
	_, err := l.db.Exec(`DELETE FROM throughput_samples WHERE sampled_at < ?`, before)
	if err != nil {
		return fmt.Errorf("statslog: prune: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

package costs

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq" // postgres driver
)

// MemorySink keeps usage records in process memory. Appends are safe for
// concurrent use; records are never mutated after the append.
type MemorySink struct {
	mu      sync.Mutex
	records []UsageRecord
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append adds a record to the log.
func (s *MemorySink) Append(_ context.Context, rec UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of all appended records in arrival order.
func (s *MemorySink) Records() []UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UsageRecord, len(s.records))
	copy(out, s.records)
	return out
}

// PostgresSink persists usage records to PostgreSQL.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink opens a connection pool for the given DSN and ensures the
// usage table exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS usage_records (
			id           TEXT PRIMARY KEY,
			tenant_id    TEXT NOT NULL,
			provider_id  TEXT NOT NULL,
			input_units  INTEGER NOT NULL,
			output_units INTEGER NOT NULL,
			cost_usd     DOUBLE PRECISION NOT NULL,
			recorded_at  TIMESTAMPTZ NOT NULL
		)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure usage table: %w", err)
	}

	return &PostgresSink{db: db}, nil
}

// Append inserts one usage record.
func (s *PostgresSink) Append(ctx context.Context, rec UsageRecord) error {
	const query = `
		INSERT INTO usage_records (
			id, tenant_id, provider_id, input_units, output_units, cost_usd, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.TenantID, rec.ProviderID,
		rec.InputUnits, rec.OutputUnits, rec.CostUSD, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

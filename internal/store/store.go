// Package store persists harvested records and override rules in Postgres.
//
// Stores are programmed against the narrow Querier interface so the same
// code runs over a pgxpool.Pool, a job-scoped pgx.Tx, or a pgxmock pool in
// tests. Expected schema:
//
//	CREATE TABLE harvested_records (
//		source_url        TEXT PRIMARY KEY,
//		source_repository TEXT NOT NULL,
//		source_checksum   TEXT NOT NULL DEFAULT '',
//		registry_id       TEXT NOT NULL DEFAULT '',
//		registry_checksum TEXT NOT NULL DEFAULT '',
//		status            TEXT NOT NULL,
//		last_harvested    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//		last_seen_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//		title             TEXT NOT NULL DEFAULT ''
//	);
//
//	CREATE TABLE record_rules (
//		id           UUID PRIMARY KEY,
//		registry_id  TEXT NOT NULL,
//		rule_type    TEXT NOT NULL,
//		target_path  TEXT NOT NULL,
//		before_value JSONB,
//		after_value  JSONB,
//		UNIQUE (registry_id, target_path)
//	);
package store

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx operations the stores need. pgxpool.Pool,
// pgx.Tx, and pgxmock all satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner starts job-scoped transactions. pgxpool.Pool and pgxmock
// satisfy it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Stores bundles the record and rule DAOs over one Querier.
//
// A repository job shares a single transaction across concurrent per-record
// goroutines; pgx.Tx is not safe for concurrent use, so both DAOs serialize
// every statement (including row scans) behind one shared mutex.
type Stores struct {
	Records *RecordStore
	Rules   *RuleStore
}

// New builds both DAOs over q with a shared statement mutex.
func New(q Querier) *Stores {
	mu := &sync.Mutex{}
	return &Stores{
		Records: &RecordStore{db: q, mu: mu},
		Rules:   &RuleStore{db: q, mu: mu},
	}
}

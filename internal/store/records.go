package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// Status tracks a record through a synchronization job.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// Record is one harvested dataset as tracked locally. SourceURL is the
// primary key; RegistryID is empty until the dataset has been created in
// the registry. SourceChecksum covers the raw repository payload,
// RegistryChecksum the canonical dataset after override rules.
type Record struct {
	SourceURL        string
	SourceRepository string
	SourceChecksum   string
	RegistryID       string
	RegistryChecksum string
	Status           Status
	LastHarvested    time.Time
	LastSeenAt       time.Time
	Title            string
}

// RecordStore persists harvested_records rows.
type RecordStore struct {
	db Querier
	mu *sync.Mutex
}

const recordColumns = `source_url, source_repository, source_checksum, registry_id, registry_checksum, status, last_harvested, last_seen_at, title`

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		r      Record
		status string
	)
	err := row.Scan(&r.SourceURL, &r.SourceRepository, &r.SourceChecksum, &r.RegistryID,
		&r.RegistryChecksum, &status, &r.LastHarvested, &r.LastSeenAt, &r.Title)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	return &r, nil
}

// GetBySourceURL returns the record keyed by url, or nil when none exists.
func (s *RecordStore) GetBySourceURL(ctx context.Context, url string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM harvested_records WHERE source_url = $1`, url)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", url, err)
	}
	return rec, nil
}

// GetByRegistryID returns the record with the given registry identifier, or
// nil when none exists.
func (s *RecordStore) GetByRegistryID(ctx context.Context, registryID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM harvested_records WHERE registry_id = $1`, registryID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record by registry id %s: %w", registryID, err)
	}
	return rec, nil
}

// Create inserts a new record. Timestamps are set server-side.
func (s *RecordStore) Create(ctx context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(ctx,
		`INSERT INTO harvested_records
			(source_url, source_repository, source_checksum, registry_id,
			 registry_checksum, status, last_harvested, last_seen_at, title)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), $7)`,
		r.SourceURL, r.SourceRepository, r.SourceChecksum, r.RegistryID,
		r.RegistryChecksum, r.Status, r.Title)
	if err != nil {
		return fmt.Errorf("create record %s: %w", r.SourceURL, err)
	}
	return nil
}

// Update rewrites all mutable columns of the record keyed by r.SourceURL and
// refreshes both timestamps.
func (s *RecordStore) Update(ctx context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(ctx,
		`UPDATE harvested_records
		 SET source_repository = $2, source_checksum = $3, registry_id = $4,
		     registry_checksum = $5, status = $6, title = $7,
		     last_harvested = NOW(), last_seen_at = NOW()
		 WHERE source_url = $1`,
		r.SourceURL, r.SourceRepository, r.SourceChecksum, r.RegistryID,
		r.RegistryChecksum, r.Status, r.Title)
	if err != nil {
		return fmt.Errorf("update record %s: %w", r.SourceURL, err)
	}
	return nil
}

// UpdateStatus sets only the status column.
func (s *RecordStore) UpdateStatus(ctx context.Context, url string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(ctx,
		`UPDATE harvested_records SET status = $2 WHERE source_url = $1`, url, status)
	if err != nil {
		return fmt.Errorf("update status of %s: %w", url, err)
	}
	return nil
}

// Touch marks the record as seen and successfully processed in the current
// job without changing its checksums.
func (s *RecordStore) Touch(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(ctx,
		`UPDATE harvested_records
		 SET status = $2, last_harvested = NOW(), last_seen_at = NOW()
		 WHERE source_url = $1`,
		url, StatusSuccess)
	if err != nil {
		return fmt.Errorf("touch record %s: %w", url, err)
	}
	return nil
}

// Delete removes the record keyed by url.
func (s *RecordStore) Delete(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(ctx,
		`DELETE FROM harvested_records WHERE source_url = $1`, url)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", url, err)
	}
	return nil
}

// RewriteSourceURL moves a record to a new primary key. Used when a
// repository publishes a new version of a dataset under a new URL and the
// registry entry is carried over.
func (s *RecordStore) RewriteSourceURL(ctx context.Context, oldURL string, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(ctx,
		`UPDATE harvested_records
		 SET source_url = $2, source_repository = $3, source_checksum = $4,
		     registry_id = $5, registry_checksum = $6, status = $7, title = $8,
		     last_harvested = NOW(), last_seen_at = NOW()
		 WHERE source_url = $1`,
		oldURL, r.SourceURL, r.SourceRepository, r.SourceChecksum,
		r.RegistryID, r.RegistryChecksum, r.Status, r.Title)
	if err != nil {
		return fmt.Errorf("rewrite record %s -> %s: %w", oldURL, r.SourceURL, err)
	}
	return nil
}

// ListByRepository returns all records harvested from one repository.
func (s *RecordStore) ListByRepository(ctx context.Context, repository string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(ctx,
		`SELECT `+recordColumns+` FROM harvested_records
		 WHERE source_repository = $1 ORDER BY source_url`, repository)
	if err != nil {
		return nil, fmt.Errorf("list records for %s: %w", repository, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records for %s: %w", repository, err)
	}
	return out, nil
}

// MarkRepositoryInProgress flips every record of the repository to
// in_progress at the start of a job so records not touched by the job remain
// distinguishable afterwards. Failed rows keep their status; the job must see
// the earlier failure and re-attempt them in full.
func (s *RecordStore) MarkRepositoryInProgress(ctx context.Context, repository string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(ctx,
		`UPDATE harvested_records SET status = $2 WHERE source_repository = $1 AND status <> $3`,
		repository, StatusInProgress, StatusFailed)
	if err != nil {
		return fmt.Errorf("mark %s in progress: %w", repository, err)
	}
	return nil
}

// ListRegistryIDs returns the registry identifiers of all records of the
// repository that have been created in the registry.
func (s *RecordStore) ListRegistryIDs(ctx context.Context, repository string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(ctx,
		`SELECT registry_id FROM harvested_records
		 WHERE source_repository = $1 AND registry_id <> ''`, repository)
	if err != nil {
		return nil, fmt.Errorf("list registry ids for %s: %w", repository, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan registry id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list registry ids for %s: %w", repository, err)
	}
	return ids, nil
}

// DeleteUnseen removes records of the repository whose last_seen_at is older
// than cutoff and returns the registry identifiers of the removed rows, so
// the caller can retire the matching registry entries. Records with curator
// rules are never retired.
func (s *RecordStore) DeleteUnseen(ctx context.Context, repository string, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(ctx,
		`DELETE FROM harvested_records
		 WHERE source_repository = $1 AND last_seen_at < $2
		   AND registry_id NOT IN (SELECT registry_id FROM record_rules)
		 RETURNING registry_id`, repository, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete unseen records of %s: %w", repository, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted registry id: %w", err)
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delete unseen records of %s: %w", repository, err)
	}
	return ids, nil
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStores(t *testing.T) (*Stores, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(mock), mock
}

func recordRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"source_url", "source_repository", "source_checksum", "registry_id",
		"registry_checksum", "status", "last_harvested", "last_seen_at", "title",
	})
}

func TestRecordStoreGetBySourceURL(t *testing.T) {
	s, mock := newMockStores(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM harvested_records WHERE source_url = \$1`).
		WithArgs("https://zenodo.org/api/records/42").
		WillReturnRows(recordRows().AddRow(
			"https://zenodo.org/api/records/42", "zenodo", "abc", "dar-1",
			"def", "success", now, now, "Soil moisture"))

	rec, err := s.Records.GetBySourceURL(context.Background(), "https://zenodo.org/api/records/42")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "zenodo", rec.SourceRepository)
	assert.Equal(t, "dar-1", rec.RegistryID)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreGetBySourceURLMissing(t *testing.T) {
	s, mock := newMockStores(t)

	mock.ExpectQuery(`SELECT .+ FROM harvested_records WHERE source_url = \$1`).
		WithArgs("https://zenodo.org/api/records/404").
		WillReturnRows(recordRows())

	rec, err := s.Records.GetBySourceURL(context.Background(), "https://zenodo.org/api/records/404")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreCreate(t *testing.T) {
	s, mock := newMockStores(t)

	mock.ExpectExec(`INSERT INTO harvested_records`).
		WithArgs("https://zenodo.org/api/records/42", "zenodo", "abc", "dar-1",
			"def", StatusSuccess, "Soil moisture").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.Records.Create(context.Background(), &Record{
		SourceURL:        "https://zenodo.org/api/records/42",
		SourceRepository: "zenodo",
		SourceChecksum:   "abc",
		RegistryID:       "dar-1",
		RegistryChecksum: "def",
		Status:           StatusSuccess,
		Title:            "Soil moisture",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreRewriteSourceURL(t *testing.T) {
	s, mock := newMockStores(t)

	mock.ExpectExec(`UPDATE harvested_records`).
		WithArgs("https://zenodo.org/api/records/42",
			"https://zenodo.org/api/records/43", "zenodo", "abc", "dar-1",
			"def", StatusSuccess, "Soil moisture v2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.Records.RewriteSourceURL(context.Background(),
		"https://zenodo.org/api/records/42", &Record{
			SourceURL:        "https://zenodo.org/api/records/43",
			SourceRepository: "zenodo",
			SourceChecksum:   "abc",
			RegistryID:       "dar-1",
			RegistryChecksum: "def",
			Status:           StatusSuccess,
			Title:            "Soil moisture v2",
		})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreMarkRepositoryInProgressKeepsFailedRows(t *testing.T) {
	s, mock := newMockStores(t)

	mock.ExpectExec(`UPDATE harvested_records SET status = \$2 WHERE source_repository = \$1 AND status <> \$3`).
		WithArgs("b2share", StatusInProgress, StatusFailed).
		WillReturnResult(pgxmock.NewResult("UPDATE", 7))

	require.NoError(t, s.Records.MarkRepositoryInProgress(context.Background(), "b2share"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreDelete(t *testing.T) {
	s, mock := newMockStores(t)

	mock.ExpectExec(`DELETE FROM harvested_records WHERE source_url = \$1`).
		WithArgs("https://zenodo.org/api/records/42").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.Records.Delete(context.Background(), "https://zenodo.org/api/records/42"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreDeleteUnseenSparesCuratedRecords(t *testing.T) {
	s, mock := newMockStores(t)
	cutoff := time.Now().Add(-30 * 24 * time.Hour)

	mock.ExpectQuery(`DELETE FROM harvested_records\s+WHERE source_repository = \$1 AND last_seen_at < \$2\s+AND registry_id NOT IN \(SELECT registry_id FROM record_rules\)\s+RETURNING registry_id`).
		WithArgs("zenodo", cutoff).
		WillReturnRows(pgxmock.NewRows([]string{"registry_id"}).
			AddRow("dar-1").
			AddRow("").
			AddRow("dar-2"))

	ids, err := s.Records.DeleteUnseen(context.Background(), "zenodo", cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"dar-1", "dar-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreListByRepository(t *testing.T) {
	s, mock := newMockStores(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM harvested_records\s+WHERE source_repository = \$1`).
		WithArgs("sites").
		WillReturnRows(recordRows().
			AddRow("https://a", "sites", "c1", "dar-1", "r1", "success", now, now, "A").
			AddRow("https://b", "sites", "c2", "", "", "failed", now, now, "B"))

	recs, err := s.Records.ListByRepository(context.Background(), "sites")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, StatusFailed, recs[1].Status)
	assert.Empty(t, recs[1].RegistryID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

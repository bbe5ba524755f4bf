package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func mockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "postgres"), 5*time.Second), mock
}

var (
	loadQuery = regexp.QuoteMeta(`
		SELECT version, payload
		FROM state_snapshots
		ORDER BY version DESC
		LIMIT 1`)
	saveQuery = regexp.QuoteMeta(`
		INSERT INTO state_snapshots (version, saved_at, payload)
		SELECT $1, $2, $3
		WHERE $1 = COALESCE((SELECT MAX(version) FROM state_snapshots), 0) + 1`)
)

func TestPostgresStore_LoadEmptyTable(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectQuery(loadQuery).WillReturnError(sql.ErrNoRows)

	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Version != 0 {
		t.Fatalf("Version = %d, want 0", snap.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresStore_LoadLatest(t *testing.T) {
	s, mock := mockStore(t)

	want := Empty()
	want.Version = 7
	want.Knobs["memory_alpha"] = 0.12
	payload, _ := json.Marshal(want)

	mock.ExpectQuery(loadQuery).WillReturnRows(
		sqlmock.NewRows([]string{"version", "payload"}).AddRow(7, payload))

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Version != 7 || got.Knobs["memory_alpha"] != 0.12 {
		t.Fatalf("got %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresStore_LoadVersionSkewIsCorrupt(t *testing.T) {
	s, mock := mockStore(t)

	want := Empty()
	want.Version = 6
	payload, _ := json.Marshal(want)
	mock.ExpectQuery(loadQuery).WillReturnRows(
		sqlmock.NewRows([]string{"version", "payload"}).AddRow(7, payload))

	if _, err := s.Load(context.Background()); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load: err = %v, want ErrCorrupt", err)
	}
}

func TestPostgresStore_LoadCorruptPayload(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectQuery(loadQuery).WillReturnRows(
		sqlmock.NewRows([]string{"version", "payload"}).AddRow(3, []byte("{broken")))

	if _, err := s.Load(context.Background()); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load: err = %v, want ErrCorrupt", err)
	}
}

func TestPostgresStore_SaveNextVersion(t *testing.T) {
	s, mock := mockStore(t)

	snap := Empty()
	snap.Version = 8
	snap.SavedAt = time.Now().UTC()

	mock.ExpectExec(saveQuery).
		WithArgs(8, snap.SavedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Save(context.Background(), snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresStore_SaveStaleVersionRejected(t *testing.T) {
	s, mock := mockStore(t)

	snap := Empty()
	snap.Version = 8
	snap.SavedAt = time.Now().UTC()

	// The guard predicate matched nothing: another writer advanced.
	mock.ExpectExec(saveQuery).
		WithArgs(8, snap.SavedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Save(context.Background(), snap); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("Save: err = %v, want ErrVersionMismatch", err)
	}
}

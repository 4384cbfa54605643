package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/authkeeper/internal/common"
)

func newPostgresWithMock(t *testing.T, opts ...Option) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db, opts...), mock, db
}

const (
	insertTokenQuery = `(?s)^INSERT\s+INTO\s+refresh_tokens\s*\(token,\s*token_id,\s*user_id,\s*created_at,\s*expires_at,\s*used,\s*invalidated\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*FALSE,\s*FALSE\)\s*$`
	selectTokenQuery = `(?s)^SELECT\s+token,\s*token_id,\s*user_id,\s*created_at,\s*expires_at,\s*used,\s*invalidated\s+FROM\s+refresh_tokens\s+WHERE\s+token\s*=\s*\$1\s*$`
	markUsedQuery    = `(?s)^UPDATE\s+refresh_tokens\s+SET\s+used\s*=\s*TRUE\s+WHERE\s+token\s*=\s*\$1\s*$`
	invalidateQuery  = `(?s)^UPDATE\s+refresh_tokens\s+SET\s+invalidated\s*=\s*TRUE\s+WHERE\s+token\s*=\s*\$1\s*$`
	invalidateAll    = `(?s)^UPDATE\s+refresh_tokens\s+SET\s+invalidated\s*=\s*TRUE\s+WHERE\s+user_id\s*=\s*\$1\s*$`
	consumeQuery     = `(?s)^UPDATE\s+refresh_tokens\s+SET\s+used\s*=\s*TRUE\s+WHERE\s+token\s*=\s*\$1\s+AND\s+user_id\s*=\s*\$2\s+AND\s+NOT\s+used\s+AND\s+NOT\s+invalidated\s+AND\s+expires_at\s*>=\s*\$3\s*$`
)

func TestPostgresCreate_Success(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo, mock, db := newPostgresWithMock(t, WithClock(func() time.Time { return now }), WithValidity(time.Hour))
	defer db.Close()

	mock.ExpectExec(insertTokenQuery).
		WithArgs(sqlmock.AnyArg(), "jti-1", "u1", now, now.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := repo.Create(context.Background(), "u1", "jti-1")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if rec.Token == "" || rec.UserID != "u1" || rec.TokenID != "jti-1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresCreate_DBError(t *testing.T) {
	repo, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertTokenQuery).WillReturnError(errors.New("insert failed"))

	if _, err := repo.Create(context.Background(), "u1", "jti"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPostgresFindByToken(t *testing.T) {
	repo, mock, db := newPostgresWithMock(t)
	defer db.Close()

	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"token", "token_id", "user_id", "created_at", "expires_at", "used", "invalidated"}).
		AddRow("tok", "jti", "u1", created, created.Add(time.Hour), true, false)
	mock.ExpectQuery(selectTokenQuery).WithArgs("tok").WillReturnRows(rows)

	rec, err := repo.FindByToken(context.Background(), "tok")
	if err != nil {
		t.Fatalf("FindByToken error: %v", err)
	}
	if rec.UserID != "u1" || !rec.Used || rec.Invalidated || !rec.ExpiresAt.Equal(created.Add(time.Hour)) {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestPostgresFindByToken_NotFound(t *testing.T) {
	repo, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectQuery(selectTokenQuery).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByToken(context.Background(), "nope")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestPostgresFindByToken_DBError(t *testing.T) {
	repo, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectQuery(selectTokenQuery).WithArgs("tok").WillReturnError(errors.New("conn reset"))

	_, err := repo.FindByToken(context.Background(), "tok")
	if err == nil || errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want wrapped db error, got %v", err)
	}
}

func TestPostgresFlags(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		affected int64
		call     func(r *PostgresRepository) (bool, error)
		want     bool
	}{
		{"mark used", markUsedQuery, 1, func(r *PostgresRepository) (bool, error) { return r.MarkUsed(context.Background(), "tok") }, true},
		{"mark used missing", markUsedQuery, 0, func(r *PostgresRepository) (bool, error) { return r.MarkUsed(context.Background(), "tok") }, false},
		{"invalidate", invalidateQuery, 1, func(r *PostgresRepository) (bool, error) { return r.Invalidate(context.Background(), "tok") }, true},
		{"invalidate missing", invalidateQuery, 0, func(r *PostgresRepository) (bool, error) { return r.Invalidate(context.Background(), "tok") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newPostgresWithMock(t)
			defer db.Close()

			mock.ExpectExec(tt.query).WithArgs("tok").WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := tt.call(repo)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPostgresInvalidateAllForIdentity(t *testing.T) {
	repo, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectExec(invalidateAll).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 3))

	if err := repo.InvalidateAllForIdentity(context.Background(), "u1"); err != nil {
		t.Fatalf("InvalidateAllForIdentity error: %v", err)
	}

	mock.ExpectExec(invalidateAll).WithArgs("u1").WillReturnError(errors.New("boom"))
	if err := repo.InvalidateAllForIdentity(context.Background(), "u1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPostgresRotate_Success(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo, mock, db := newPostgresWithMock(t, WithClock(func() time.Time { return now }))
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(consumeQuery).WithArgs("old", "u1", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertTokenQuery).
		WithArgs(sqlmock.AnyArg(), "jti-2", "u1", now, now.Add(DefaultValidity)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	next, err := repo.Rotate(context.Background(), "old", "u1", "jti-2")
	if err != nil {
		t.Fatalf("Rotate error: %v", err)
	}
	if next.Token == "" || next.Token == "old" {
		t.Fatalf("unexpected token: %q", next.Token)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRotate_NotLiveRollsBack(t *testing.T) {
	repo, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(consumeQuery).WithArgs("old", "u1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.Rotate(context.Background(), "old", "u1", "jti-2")
	if !errors.Is(err, common.ErrRefreshTokenNotLive) {
		t.Fatalf("want ErrRefreshTokenNotLive, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresCreate_WrapsDriverError(t *testing.T) {
	repo, mock, db := newPostgresWithMock(t)
	defer db.Close()

	driverErr := errors.New("connection reset")
	mock.ExpectExec(insertTokenQuery).WillReturnError(driverErr)

	_, err := repo.Create(context.Background(), "u1", "jti-1")
	if !errors.Is(err, driverErr) {
		t.Fatalf("want wrapped driver error, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "db error: ") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRotate_InsertFailureRollsBack(t *testing.T) {
	repo, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(consumeQuery).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertTokenQuery).WillReturnError(errors.New("insert failed"))
	mock.ExpectRollback()

	_, err := repo.Rotate(context.Background(), "old", "u1", "jti-2")
	if err == nil || errors.Is(err, common.ErrRefreshTokenNotLive) {
		t.Fatalf("want insert error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRotate_BeginError(t *testing.T) {
	repo, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("no tx"))

	if _, err := repo.Rotate(context.Background(), "old", "u1", "jti-2"); err == nil {
		t.Fatal("expected error")
	}
}

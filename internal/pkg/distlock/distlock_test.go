package distlock

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGAdvisoryLockAcquireRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	lock := NewPGAdvisoryLock(db, "ses-rules:example.com")

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WithArgs(lock.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WithArgs(lock.lockID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	acquired, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !acquired {
		t.Fatal("expected lock acquired")
	}
	// Acquire must keep the session checked out so unlock runs where the
	// lock lives.
	if lock.conn == nil {
		t.Fatal("lock did not pin its connection")
	}

	if err := lock.Release(context.Background()); err != nil {
		t.Fatal(err)
	}
	if lock.conn != nil {
		t.Error("release did not return the pinned connection")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPGAdvisoryLockDeniedReleasesConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	lock := NewPGAdvisoryLock(db, "ses-rules:example.com")

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WithArgs(lock.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	acquired, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if acquired {
		t.Fatal("expected lock denied")
	}
	if lock.conn != nil {
		t.Error("denied acquire must not pin a connection")
	}

	// Release after a denied acquire must not issue an unlock on some
	// other session.
	if err := lock.Release(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPGAdvisoryLockIDDeterministic(t *testing.T) {
	a := NewPGAdvisoryLock(nil, "ses-rules:example.com")
	b := NewPGAdvisoryLock(nil, "ses-rules:example.com")
	c := NewPGAdvisoryLock(nil, "ses-rules:other.com")
	if a.lockID != b.lockID {
		t.Error("same key must derive the same lock id")
	}
	if a.lockID == c.lockID {
		t.Error("different keys should derive different lock ids")
	}
}

package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"multirole-accounts/internal/audit/domain"
)

func TestCreate(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer mockDB.Close()

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	entry := &domain.AuditLog{
		ID:        "a1",
		UserID:    "u1",
		Action:    "role.grant",
		Resource:  "student",
		IP:        "unknown",
		CreatedAt: now,
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs("a1", "u1", "role.grant", "student", "unknown", "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewPostgresRepository(mockDB).Create(context.Background(), entry); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListByUser(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer mockDB.Close()

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"id", "user_id", "action", "resource", "ip", "metadata", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_logs")).
		WithArgs("u1", int32(10), int32(0)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a2", "u1", "role.switch", "tutor", "unknown", "", now).
			AddRow("a1", "u1", "role.grant", "tutor", "unknown", "", now.Add(-time.Hour)))

	got, err := NewPostgresRepository(mockDB).ListByUser(context.Background(), "u1", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Action != "role.switch" {
		t.Errorf("newest action = %q, want role.switch", got[0].Action)
	}
}

package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestOrderRepositoryFindByClientID(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &OrderRepository{db: mockDB, now: time.Now}

	createdAt := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "client_id", "instrument", "side", "status", "created_at"}).
			AddRow(uint(1), "abc-123", "AAPL", "buy", "filled", createdAt)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE client_id = $1 ORDER BY "orders"."id" LIMIT $2`)).
			WithArgs("abc-123", 1).
			WillReturnRows(rows)

		order, err := repo.FindByClientID(context.Background(), "abc-123")
		if err != nil {
			t.Fatalf("unexpected error fetching order: %v", err)
		}
		if order == nil || order.Instrument != "AAPL" {
			t.Fatalf("unexpected order returned: %+v", order)
		}
	})

	t.Run("not found yields nil, nil", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE client_id = $1 ORDER BY "orders"."id" LIMIT $2`)).
			WithArgs("missing", 1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		order, err := repo.FindByClientID(context.Background(), "missing")
		if err != nil {
			t.Fatalf("unexpected error for missing order: %v", err)
		}
		if order != nil {
			t.Fatalf("expected nil order, got %+v", order)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestOrderRepositoryFindRecentByInstrument(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &OrderRepository{db: mockDB, now: time.Now}

	rows := sqlmock.NewRows([]string{"id", "client_id", "instrument", "side", "status"}).
		AddRow(uint(7), "c-7", "MSFT", "buy", "filled").
		AddRow(uint(3), "c-3", "MSFT", "sell", "filled")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE instrument = $1 ORDER BY id DESC LIMIT $2`)).
		WithArgs("MSFT", 20).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "order_logs" WHERE "order_logs"."order_id" IN ($1,$2)`)).
		WithArgs(uint(7), uint(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id"}))

	// Zero limit falls back to the default of 20.
	orders, err := repo.FindRecentByInstrument(context.Background(), "MSFT", 0)
	if err != nil {
		t.Fatalf("unexpected error listing orders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != 7 || orders[1].ID != 3 {
		t.Fatalf("orders not returned newest first: %+v", orders)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}

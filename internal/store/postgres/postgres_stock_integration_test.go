package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
)

func TestDecrementStockNeverGoesNegative(t *testing.T) {
	databaseURL := os.Getenv("APOTEKPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set APOTEKPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	medID := fmt.Sprintf("MED-STOCK-IT-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM medicines WHERE id = $1`, medID)
	})

	if _, err := s.CreateMedicine(ctx, domain.Medicine{
		ID:        medID,
		Name:      "Integration Stock Item",
		UnitPrice: decimal.RequireFromString("10.00"),
		StockQty:  3,
		Active:    true,
	}); err != nil {
		t.Fatalf("create medicine: %v", err)
	}

	remaining, err := s.DecrementStock(ctx, medID, 2)
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("expected 1 remaining, got %d", remaining)
	}

	if _, err := s.DecrementStock(ctx, medID, 2); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	// The failed decrement must not have touched the row.
	med, err := s.GetMedicine(ctx, medID)
	if err != nil {
		t.Fatalf("get medicine: %v", err)
	}
	if med.StockQty != 1 {
		t.Fatalf("expected stock still 1, got %d", med.StockQty)
	}

	if err := s.IncrementStock(ctx, medID, 2); err != nil {
		t.Fatalf("increment: %v", err)
	}
	med, err = s.GetMedicine(ctx, medID)
	if err != nil {
		t.Fatalf("get medicine: %v", err)
	}
	if med.StockQty != 3 {
		t.Fatalf("expected stock restored to 3, got %d", med.StockQty)
	}
}

func TestNextReceiptNumberIsMonotonic(t *testing.T) {
	databaseURL := os.Getenv("APOTEKPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set APOTEKPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	first, err := s.NextReceiptNumber(ctx)
	if err != nil {
		t.Fatalf("first receipt number: %v", err)
	}
	second, err := s.NextReceiptNumber(ctx)
	if err != nil {
		t.Fatalf("second receipt number: %v", err)
	}
	if second != first+1 {
		t.Fatalf("expected consecutive numbers, got %d then %d", first, second)
	}
}

package stock

import (
	"context"
	"errors"
	"testing"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/store/memory"
)

func stockOf(t *testing.T, repo store.Repository, id string) int {
	t.Helper()
	stockMap, err := repo.GetStockMap(context.Background(), []string{id})
	if err != nil {
		t.Fatalf("stock map: %v", err)
	}
	return stockMap[id]
}

func TestAggregateMergesDuplicateLines(t *testing.T) {
	lines := Aggregate([]domain.CartLine{
		{MedicineID: "MED-PARA-500", Qty: 2},
		{MedicineID: "MED-VITC-500", Qty: 1},
		{MedicineID: "MED-PARA-500", Qty: 3},
	})

	if len(lines) != 2 {
		t.Fatalf("expected 2 merged lines, got %d", len(lines))
	}
	if lines[0].MedicineID != "MED-PARA-500" || lines[0].Qty != 5 {
		t.Fatalf("expected merged qty 5 for MED-PARA-500, got %+v", lines[0])
	}
}

func TestCheckRejectsOverRequestWithoutTouchingStock(t *testing.T) {
	repo := memory.NewSeeded()
	gate := NewGate(repo)

	// Seeded cough syrup has 5 units on hand.
	err := gate.Check(context.Background(), []domain.CartLine{
		{MedicineID: "MED-OBH-100", Qty: 6},
	})

	var stockErr *domain.StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected stock error, got %v", err)
	}
	if stockErr.MedicineID != "MED-OBH-100" || stockErr.Requested != 6 || stockErr.Available != 5 {
		t.Fatalf("unexpected stock error detail: %+v", stockErr)
	}
	if got := stockOf(t, repo, "MED-OBH-100"); got != 5 {
		t.Fatalf("pre-check must not mutate stock, got %d", got)
	}
}

func TestCommitDecrementsEachLineOnce(t *testing.T) {
	repo := memory.NewSeeded()
	gate := NewGate(repo)

	err := gate.Commit(context.Background(), []domain.CartLine{
		{MedicineID: "MED-PARA-500", Qty: 2},
		{MedicineID: "MED-PARA-500", Qty: 1},
		{MedicineID: "MED-VITC-500", Qty: 4},
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if got := stockOf(t, repo, "MED-PARA-500"); got != 117 {
		t.Fatalf("expected 117 remaining, got %d", got)
	}
	if got := stockOf(t, repo, "MED-VITC-500"); got != 196 {
		t.Fatalf("expected 196 remaining, got %d", got)
	}
}

func TestCommitReleasesAppliedLinesOnFailure(t *testing.T) {
	repo := memory.NewSeeded()
	gate := NewGate(repo)

	// Lines commit in medicine-id order, so the paracetamol decrement
	// lands before the vitamin line fails.
	err := gate.Commit(context.Background(), []domain.CartLine{
		{MedicineID: "MED-PARA-500", Qty: 2},
		{MedicineID: "MED-VITC-500", Qty: 500},
	})

	var stockErr *domain.StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected stock error, got %v", err)
	}
	if stockErr.MedicineID != "MED-VITC-500" {
		t.Fatalf("expected failure on MED-VITC-500, got %s", stockErr.MedicineID)
	}
	if got := stockOf(t, repo, "MED-PARA-500"); got != 120 {
		t.Fatalf("expected applied decrement to be released, got %d", got)
	}
	if got := stockOf(t, repo, "MED-VITC-500"); got != 200 {
		t.Fatalf("expected untouched stock, got %d", got)
	}
}

func TestReleaseReturnsCommittedStock(t *testing.T) {
	repo := memory.NewSeeded()
	gate := NewGate(repo)
	lines := []domain.CartLine{{MedicineID: "MED-IBU-400", Qty: 3}}

	if err := gate.Commit(context.Background(), lines); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if got := stockOf(t, repo, "MED-IBU-400"); got != 57 {
		t.Fatalf("expected 57 after commit, got %d", got)
	}

	gate.Release(context.Background(), lines)
	if got := stockOf(t, repo, "MED-IBU-400"); got != 60 {
		t.Fatalf("expected release to restore 60, got %d", got)
	}
}

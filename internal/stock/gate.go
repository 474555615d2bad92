package stock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
)

// Gate validates and applies stock decrements at sale commit. The
// pre-check fails fast with the offending medicine; the commit relies
// on the store's atomic conditional decrement so concurrent terminals
// can never drive stock negative.
type Gate struct {
	repo store.Repository
}

func NewGate(repo store.Repository) *Gate {
	return &Gate{repo: repo}
}

// Aggregate merges duplicate cart lines so each medicine's requested
// quantity is validated and decremented exactly once.
func Aggregate(lines []domain.CartLine) []domain.CartLine {
	byID := make(map[string]domain.CartLine, len(lines))
	for _, line := range lines {
		if line.MedicineID == "" || line.Qty < 1 {
			continue
		}
		merged := byID[line.MedicineID]
		if merged.MedicineID == "" {
			merged = line
		} else {
			merged.Qty += line.Qty
		}
		byID[line.MedicineID] = merged
	}
	result := make([]domain.CartLine, 0, len(byID))
	for _, line := range byID {
		result = append(result, line)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].MedicineID < result[j].MedicineID })
	return result
}

// Check reads current on-hand quantities and rejects the first line
// whose request exceeds availability. No stock is touched.
func (g *Gate) Check(ctx context.Context, lines []domain.CartLine) error {
	lines = Aggregate(lines)
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.MedicineID)
	}
	stockMap, err := g.repo.GetStockMap(ctx, ids)
	if err != nil {
		return err
	}
	for _, line := range lines {
		available := stockMap[line.MedicineID]
		if line.Qty > available {
			return &domain.StockError{MedicineID: line.MedicineID, Requested: line.Qty, Available: available}
		}
	}
	return nil
}

// Commit applies one atomic decrement per medicine. A decrement that
// would go negative is rejected by the store and reported with fresh
// quantities. When a later decrement fails, the ones already applied
// are released best-effort; a release that also fails is logged as an
// inconsistency requiring manual reconciliation, never retried.
func (g *Gate) Commit(ctx context.Context, lines []domain.CartLine) error {
	lines = Aggregate(lines)
	applied := make([]domain.CartLine, 0, len(lines))
	for _, line := range lines {
		_, err := g.repo.DecrementStock(ctx, line.MedicineID, line.Qty)
		if err == nil {
			applied = append(applied, line)
			continue
		}
		g.release(ctx, applied)
		if errors.Is(err, store.ErrInsufficientStock) {
			return g.freshStockError(ctx, line)
		}
		return fmt.Errorf("stock decrement for %s: %w", line.MedicineID, err)
	}
	return nil
}

// Release returns previously committed decrements, e.g. when the
// transaction record fails to persist after stock was taken.
func (g *Gate) Release(ctx context.Context, lines []domain.CartLine) {
	g.release(ctx, Aggregate(lines))
}

func (g *Gate) release(ctx context.Context, applied []domain.CartLine) {
	for _, line := range applied {
		if err := g.repo.IncrementStock(ctx, line.MedicineID, line.Qty); err != nil {
			log.Printf("[stock] INCONSISTENCY: failed to release %d of %s after aborted commit, manual reconciliation required: %v",
				line.Qty, line.MedicineID, err)
		}
	}
}

func (g *Gate) freshStockError(ctx context.Context, line domain.CartLine) error {
	available := 0
	if stockMap, err := g.repo.GetStockMap(ctx, []string{line.MedicineID}); err == nil {
		available = stockMap[line.MedicineID]
	}
	return &domain.StockError{MedicineID: line.MedicineID, Requested: line.Qty, Available: available}
}

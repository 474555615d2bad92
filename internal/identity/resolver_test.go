package identity

import (
	"context"
	"errors"
	"testing"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/store/memory"
)

func TestSearchRanksIdentifiedBeforeAnonymous(t *testing.T) {
	resolver := NewResolver(memory.NewSeeded())

	// Two seeded customers share the name prefix; one has id/phone on
	// file, the other is a bare name record.
	candidates, err := resolver.Search(context.Background(), "Dewi")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].Customer.Name != "Dewi Lestari" {
		t.Fatalf("expected identified customer first, got %s", candidates[0].Customer.Name)
	}
	if candidates[0].Priority != PriorityName {
		t.Fatalf("expected name priority, got %d", candidates[0].Priority)
	}
}

func TestSearchPartialPhoneNeedsSixChars(t *testing.T) {
	resolver := NewResolver(memory.NewSeeded())

	short, err := resolver.Search(context.Background(), "08123")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(short) != 0 {
		t.Fatalf("expected no partial matches below 6 chars, got %d", len(short))
	}

	long, err := resolver.Search(context.Background(), "0812345")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(long) != 1 || long[0].Priority != PriorityPartialPhone {
		t.Fatalf("expected one partial-phone candidate, got %+v", long)
	}
	if long[0].Customer.ID != "cus-seed-1" {
		t.Fatalf("expected cus-seed-1, got %s", long[0].Customer.ID)
	}
}

func TestSearchAutoSelectsLongExactMatch(t *testing.T) {
	resolver := NewResolver(memory.NewSeeded())

	candidates, err := resolver.Search(context.Background(), "3175094501880002")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected single auto-selected candidate, got %d", len(candidates))
	}
	if candidates[0].Priority != PriorityExactID || candidates[0].Customer.ID != "cus-seed-1" {
		t.Fatalf("unexpected candidate: %+v", candidates[0])
	}
}

func TestSearchEmptyTerm(t *testing.T) {
	resolver := NewResolver(memory.NewSeeded())

	candidates, err := resolver.Search(context.Background(), "   ")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates for empty term, got %d", len(candidates))
	}
}

func TestResolveWalkInWithoutInput(t *testing.T) {
	resolver := NewResolver(memory.NewSeeded())

	resolution, err := resolver.Resolve(context.Background(), ResolveInput{})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolution.Outcome != OutcomeWalkIn || resolution.Customer != nil {
		t.Fatalf("expected anonymous walk-in, got %+v", resolution)
	}
}

func TestResolveAutoMatchesLongExactPhone(t *testing.T) {
	resolver := NewResolver(memory.NewSeeded())

	resolution, err := resolver.Resolve(context.Background(), ResolveInput{Term: "081234567890"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolution.Outcome != OutcomeAutoMatched {
		t.Fatalf("expected auto-matched outcome, got %v", resolution.Outcome)
	}
	if resolution.Customer == nil || resolution.Customer.ID != "cus-seed-1" {
		t.Fatalf("expected cus-seed-1, got %+v", resolution.Customer)
	}
}

func TestResolveMostRecentNameWins(t *testing.T) {
	repo := memory.NewSeeded()
	resolver := NewResolver(repo)

	resolution, err := resolver.Resolve(context.Background(), ResolveInput{
		Term: "081298765432",
		Name: "Andi Pratama Wibowo",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolution.Customer.Name != "Andi Pratama Wibowo" {
		t.Fatalf("expected refreshed name, got %s", resolution.Customer.Name)
	}

	stored, err := repo.FindCustomerByExactField(context.Background(), domain.FieldPhone, "081298765432")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if stored.Name != "Andi Pratama Wibowo" {
		t.Fatalf("expected stored record updated, got %s", stored.Name)
	}
}

func TestResolveCreatesCustomerWithIdentifier(t *testing.T) {
	repo := memory.NewSeeded()
	resolver := NewResolver(repo)

	resolution, err := resolver.Resolve(context.Background(), ResolveInput{
		Term: "3201015509990003",
		Name: "Taufik Hidayat",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolution.Outcome != OutcomeCreated {
		t.Fatalf("expected created outcome, got %v", resolution.Outcome)
	}
	if resolution.Customer.NationalID != "3201015509990003" {
		t.Fatalf("expected national id bound, got %q", resolution.Customer.NationalID)
	}

	again, err := resolver.Resolve(context.Background(), ResolveInput{Term: "3201015509990003"})
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if again.Customer == nil || again.Customer.ID != resolution.Customer.ID {
		t.Fatalf("expected the created record to match on retry")
	}
}

func TestResolveRejectsBoundPhone(t *testing.T) {
	repo := memory.NewSeeded()
	resolver := NewResolver(repo)

	_, err := resolver.Resolve(context.Background(), ResolveInput{
		Term:  "3201010101010101",
		Name:  "Orang Baru",
		Phone: "081234567890", // already bound to cus-seed-1
	})

	var conflictErr *domain.ConflictError
	if !errors.As(err, &conflictErr) || conflictErr.Field != domain.FieldPhone {
		t.Fatalf("expected phone conflict, got %v", err)
	}

	// The owner of the phone must come through untouched.
	owner, err := repo.FindCustomerByExactField(context.Background(), domain.FieldPhone, "081234567890")
	if err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
	if owner.Name != "Dewi Lestari" {
		t.Fatalf("expected bound record unchanged, got name %q", owner.Name)
	}
	if _, err := repo.FindCustomerByExactField(context.Background(), domain.FieldNationalID, "3201010101010101"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no record created for the new identifier, got %v", err)
	}
}

func TestResolveStoresPhoneShapedTermAsPhone(t *testing.T) {
	resolver := NewResolver(memory.NewSeeded())

	resolution, err := resolver.Resolve(context.Background(), ResolveInput{
		Term: "089912345678",
		Name: "Rudi Santoso",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolution.Outcome != OutcomeCreated {
		t.Fatalf("expected created outcome, got %v", resolution.Outcome)
	}
	if resolution.Customer.Phone != "089912345678" || resolution.Customer.NationalID != "" {
		t.Fatalf("expected phone-shaped term bound as phone, got %+v", resolution.Customer)
	}

	candidates, err := resolver.Search(context.Background(), "089912345678")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(candidates) == 0 || candidates[0].Priority != PriorityExactPhone {
		t.Fatalf("expected exact-phone ranking for the stored number, got %+v", candidates)
	}
}

func TestResolveBareNameCreatesAnonymousRecord(t *testing.T) {
	resolver := NewResolver(memory.NewSeeded())

	resolution, err := resolver.Resolve(context.Background(), ResolveInput{Name: "Pembeli Baru"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolution.Outcome != OutcomeCreated {
		t.Fatalf("expected created outcome, got %v", resolution.Outcome)
	}
	if resolution.Customer.NationalID != "" || resolution.Customer.Phone != "" {
		t.Fatalf("expected anonymous record, got %+v", resolution.Customer)
	}
}

func TestResolveIdentifierWithoutNameIsWalkIn(t *testing.T) {
	resolver := NewResolver(memory.NewSeeded())

	resolution, err := resolver.Resolve(context.Background(), ResolveInput{Term: "089911223344"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolution.Outcome != OutcomeWalkIn || resolution.Customer != nil {
		t.Fatalf("expected walk-in when no name accompanies a new identifier, got %+v", resolution)
	}
}

package identity

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/xid"
)

// Match priorities, highest confidence first.
const (
	PriorityExactID = iota + 1
	PriorityExactPhone
	PriorityPartialID
	PriorityPartialPhone
	PriorityName
)

// Outcome of a resolution attempt.
type Outcome int

const (
	// OutcomeMatched: an existing record matched the supplied input.
	OutcomeMatched Outcome = iota
	// OutcomeAutoMatched: a high-confidence single match was selected
	// without surfacing the candidate list. Callers decide whether to
	// confirm with the operator.
	OutcomeAutoMatched
	// OutcomeCreated: no match; a new record was created.
	OutcomeCreated
	// OutcomeWalkIn: no usable identity was supplied; the sale proceeds
	// anonymously with no record.
	OutcomeWalkIn
)

type Candidate struct {
	Customer domain.Customer
	Priority int
}

type Resolution struct {
	Outcome  Outcome
	Customer *domain.Customer
}

type ResolveInput struct {
	Term  string // free text: national-ID or phone
	Name  string
	Phone string
}

// Resolver matches free-text input against the customer pool and
// creates records for first-time buyers. Partial matches only engage
// once the input is long enough to be discriminating, and a very long
// exact match short-circuits the candidate list entirely.
type Resolver struct {
	repo          store.Repository
	maxCandidates int
	partialMinLen int
	autoMatchLen  int
}

func NewResolver(repo store.Repository) *Resolver {
	return &Resolver{
		repo:          repo,
		maxCandidates: 8,
		partialMinLen: 6,
		autoMatchLen:  10,
	}
}

// Search returns ranked candidates for the term: exact national-ID,
// exact phone, partial ID, partial phone, then name substring. Ties in
// one bucket break by identified-before-anonymous, most recent visit,
// then name. At most maxCandidates are returned; name matching is
// known-unreliable and only ever fills the tail.
func (r *Resolver) Search(ctx context.Context, term string) ([]Candidate, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}

	best := make(map[string]Candidate)
	keep := func(c domain.Customer, priority int) {
		existing, seen := best[c.ID]
		if !seen || priority < existing.Priority {
			best[c.ID] = Candidate{Customer: c, Priority: priority}
		}
	}

	if exact, err := r.repo.FindCustomerByExactField(ctx, domain.FieldNationalID, term); err == nil {
		keep(*exact, PriorityExactID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if exact, err := r.repo.FindCustomerByExactField(ctx, domain.FieldPhone, term); err == nil {
		keep(*exact, PriorityExactPhone)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if len(term) >= r.partialMinLen {
		partialIDs, err := r.repo.FindCustomersByPartialField(ctx, domain.FieldNationalID, term)
		if err != nil {
			return nil, err
		}
		for _, c := range partialIDs {
			keep(c, PriorityPartialID)
		}
		partialPhones, err := r.repo.FindCustomersByPartialField(ctx, domain.FieldPhone, term)
		if err != nil {
			return nil, err
		}
		for _, c := range partialPhones {
			keep(c, PriorityPartialPhone)
		}
	}

	byName, err := r.repo.FindCustomersByPartialField(ctx, domain.FieldName, term)
	if err != nil {
		return nil, err
	}
	for _, c := range byName {
		keep(c, PriorityName)
	}

	candidates := make([]Candidate, 0, len(best))
	for _, c := range best {
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return lessCandidate(candidates[i], candidates[j])
	})

	if len(term) >= r.autoMatchLen && len(candidates) > 0 && candidates[0].Priority <= PriorityExactPhone {
		return candidates[:1], nil
	}
	if len(candidates) > r.maxCandidates {
		candidates = candidates[:r.maxCandidates]
	}
	return candidates, nil
}

func lessCandidate(a, b Candidate) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	aIdentified := identified(a.Customer)
	bIdentified := identified(b.Customer)
	if aIdentified != bIdentified {
		return aIdentified
	}
	if !a.Customer.LastVisit.Equal(b.Customer.LastVisit) {
		return a.Customer.LastVisit.After(b.Customer.LastVisit)
	}
	return a.Customer.Name < b.Customer.Name
}

func identified(c domain.Customer) bool {
	return c.NationalID != "" || c.Phone != ""
}

// Resolve finds or creates the customer for a sale.
//
// An exact match on ID or phone wins; a differing supplied name or
// phone overwrites the stored value (most recent wins, not a merge).
// With no match, a record is created when an identifier and a name are
// both present, after checking that neither field is bound to another
// record. A bare name still creates a minimal record, since anonymous
// walk-ins are accepted. No input at all resolves to a walk-in sale.
func (r *Resolver) Resolve(ctx context.Context, input ResolveInput) (Resolution, error) {
	term := strings.TrimSpace(input.Term)
	name := strings.TrimSpace(input.Name)
	phone := strings.TrimSpace(input.Phone)

	if term == "" && name == "" && phone == "" {
		return Resolution{Outcome: OutcomeWalkIn}, nil
	}

	if term != "" {
		if match, prio, err := r.exactMatch(ctx, term); err != nil {
			return Resolution{}, err
		} else if match != nil {
			if err := r.refreshFields(ctx, match, name, phone); err != nil {
				return Resolution{}, err
			}
			outcome := OutcomeMatched
			if len(term) >= r.autoMatchLen && prio <= PriorityExactPhone {
				outcome = OutcomeAutoMatched
			}
			return Resolution{Outcome: outcome, Customer: match}, nil
		}
	}

	// A caller supplying an unmatched identifier term is binding a new
	// record; matching on the side-channel phone here would silently
	// rename whoever owns that phone. Let the creation path's
	// uniqueness check surface the conflict instead.
	bindingIdentifier := term != "" && looksLikeIdentifier(term)

	if phone != "" && !bindingIdentifier {
		if match, err := r.repo.FindCustomerByExactField(ctx, domain.FieldPhone, phone); err == nil {
			if err := r.refreshFields(ctx, match, name, ""); err != nil {
				return Resolution{}, err
			}
			return Resolution{Outcome: OutcomeMatched, Customer: match}, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return Resolution{}, err
		}
	}

	// Creation path.
	nationalID := ""
	if bindingIdentifier {
		if phoneShaped(term) {
			if phone == "" {
				phone = term
			}
		} else {
			nationalID = term
		}
	}
	if nationalID == "" && phone == "" {
		if name == "" {
			return Resolution{Outcome: OutcomeWalkIn}, nil
		}
		// Anonymous walk-in with a display name only.
		created, err := r.create(ctx, domain.Customer{Name: name})
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Outcome: OutcomeCreated, Customer: created}, nil
	}
	if name == "" {
		return Resolution{Outcome: OutcomeWalkIn}, nil
	}

	if nationalID != "" {
		if err := r.checkUnbound(ctx, domain.FieldNationalID, nationalID); err != nil {
			return Resolution{}, err
		}
	}
	if phone != "" {
		if err := r.checkUnbound(ctx, domain.FieldPhone, phone); err != nil {
			return Resolution{}, err
		}
	}

	created, err := r.create(ctx, domain.Customer{Name: name, NationalID: nationalID, Phone: phone})
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Outcome: OutcomeCreated, Customer: created}, nil
}

func (r *Resolver) exactMatch(ctx context.Context, term string) (*domain.Customer, int, error) {
	if match, err := r.repo.FindCustomerByExactField(ctx, domain.FieldNationalID, term); err == nil {
		return match, PriorityExactID, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, 0, err
	}
	if match, err := r.repo.FindCustomerByExactField(ctx, domain.FieldPhone, term); err == nil {
		return match, PriorityExactPhone, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, 0, err
	}
	return nil, 0, nil
}

// refreshFields applies the most-recent-wins policy for name and phone
// on a matched record.
func (r *Resolver) refreshFields(ctx context.Context, match *domain.Customer, name string, phone string) error {
	patch := domain.CustomerPatch{}
	changed := false
	if name != "" && name != match.Name {
		patch.Name = &name
		match.Name = name
		changed = true
	}
	if phone != "" && phone != match.Phone {
		if err := r.checkUnboundExcept(ctx, domain.FieldPhone, phone, match.ID); err != nil {
			return err
		}
		patch.Phone = &phone
		match.Phone = phone
		changed = true
	}
	if !changed {
		return nil
	}
	return r.repo.UpdateCustomer(ctx, match.ID, patch)
}

func (r *Resolver) checkUnbound(ctx context.Context, field string, value string) error {
	return r.checkUnboundExcept(ctx, field, value, "")
}

func (r *Resolver) checkUnboundExcept(ctx context.Context, field string, value string, allowID string) error {
	owner, err := r.repo.FindCustomerByExactField(ctx, field, value)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner.ID == allowID {
		return nil
	}
	return &domain.ConflictError{Field: field}
}

func (r *Resolver) create(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	c.ID = xid.New("cus")
	c.TotalSpent = decimal.Zero
	c.LastVisit = time.Now().UTC()
	c.CreatedAt = c.LastVisit
	return r.repo.CreateCustomer(ctx, c)
}

// phoneShaped reports whether an identifier reads as a phone number
// rather than a national ID: local numbers start with 0, international
// ones with +. National IDs never start with either.
func phoneShaped(s string) bool {
	return len(s) > 0 && (s[0] == '0' || s[0] == '+')
}

// looksLikeIdentifier accepts digit-dominated strings as national-ID
// or phone input; anything with letters is treated as a name.
func looksLikeIdentifier(s string) bool {
	digits := 0
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] >= '0' && s[i] <= '9':
			digits++
		case s[i] == '-' || s[i] == '+' || s[i] == ' ':
		default:
			return false
		}
	}
	return digits > 0
}

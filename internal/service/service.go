package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"apotekpos/backend/internal/cache"
	"apotekpos/backend/internal/compliance"
	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/identity"
	"apotekpos/backend/internal/pricing"
	"apotekpos/backend/internal/stock"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const catalogCacheKey = "catalog:medicines"

type Service struct {
	repo       store.Repository
	pricer     *pricing.Engine
	compliance compliance.Gate
	stock      *stock.Gate
	identity   *identity.Resolver
	catalog    cache.CatalogCache
	cacheTTL   time.Duration
}

func New(repo store.Repository, pricer *pricing.Engine, catalog cache.CatalogCache, cacheTTL time.Duration) *Service {
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Service{
		repo:     repo,
		pricer:   pricer,
		stock:    stock.NewGate(repo),
		identity: identity.NewResolver(repo),
		catalog:  catalog,
		cacheTTL: cacheTTL,
	}
}

func (s *Service) ListMedicines(ctx context.Context) ([]domain.Medicine, error) {
	if cached, hit, err := s.catalog.Get(ctx, catalogCacheKey); err == nil && hit {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: catalog cache read failed: %v", err)
	}

	medicines, err := s.repo.ListMedicines(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.catalog.Set(ctx, catalogCacheKey, medicines, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: catalog cache write failed: %v", err)
	}
	return medicines, nil
}

func (s *Service) GetMedicine(ctx context.Context, id string) (domain.Medicine, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Medicine{}, &domain.ValidationError{Reason: "medicine id required"}
	}
	med, err := s.repo.GetMedicine(ctx, id)
	if err != nil {
		return domain.Medicine{}, err
	}
	return *med, nil
}

func (s *Service) CreateMedicine(ctx context.Context, req domain.MedicineCreateRequest) (domain.Medicine, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RolePharmacist); err != nil {
		return domain.Medicine{}, err
	}

	req.ID = strings.ToUpper(strings.TrimSpace(req.ID))
	req.Name = strings.TrimSpace(req.Name)
	if req.ID == "" || req.Name == "" {
		return domain.Medicine{}, &domain.ValidationError{Reason: "medicine id and name required"}
	}
	if !req.UnitPrice.IsPositive() {
		return domain.Medicine{}, &domain.ValidationError{Reason: "unit price must be positive"}
	}
	if req.InitialStock < 0 {
		return domain.Medicine{}, &domain.ValidationError{Reason: "initial stock cannot be negative"}
	}

	med := domain.Medicine{
		ID:                   req.ID,
		Name:                 req.Name,
		UnitPrice:            req.UnitPrice.Round(2),
		StockQty:             req.InitialStock,
		PrescriptionRequired: req.PrescriptionRequired,
		BatchNo:              strings.TrimSpace(req.BatchNo),
		Active:               true,
	}
	if req.ExpiryDate != "" {
		expiry, err := time.Parse("2006-01-02", req.ExpiryDate)
		if err != nil {
			return domain.Medicine{}, &domain.ValidationError{Reason: "expiry_date must be YYYY-MM-DD"}
		}
		med.ExpiryDate = &expiry
	}

	created, err := s.repo.CreateMedicine(ctx, med)
	if err != nil {
		return domain.Medicine{}, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "medicine_create", "medicine", created.ID, fmt.Sprintf("name=%s,price=%s,stock=%d", created.Name, created.UnitPrice, created.StockQty))

	return *created, nil
}

func (s *Service) UpdateMedicine(ctx context.Context, id string, req domain.MedicineUpdateRequest) (domain.Medicine, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RolePharmacist); err != nil {
		return domain.Medicine{}, err
	}

	id = strings.ToUpper(strings.TrimSpace(id))
	if id == "" {
		return domain.Medicine{}, &domain.ValidationError{Reason: "medicine id required"}
	}

	existing, err := s.repo.GetMedicine(ctx, id)
	if err != nil {
		return domain.Medicine{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Medicine{}, &domain.ValidationError{Reason: "name cannot be empty"}
		}
		updated.Name = name
	}
	if req.UnitPrice != nil {
		if !req.UnitPrice.IsPositive() {
			return domain.Medicine{}, &domain.ValidationError{Reason: "unit price must be positive"}
		}
		updated.UnitPrice = req.UnitPrice.Round(2)
	}
	if req.PrescriptionRequired != nil {
		updated.PrescriptionRequired = *req.PrescriptionRequired
	}
	if req.BatchNo != nil {
		updated.BatchNo = strings.TrimSpace(*req.BatchNo)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateMedicine(ctx, updated)
	if err != nil {
		return domain.Medicine{}, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "medicine_update", "medicine", saved.ID, fmt.Sprintf("active=%t,price=%s,rx=%t", saved.Active, saved.UnitPrice, saved.PrescriptionRequired))

	return *saved, nil
}

func (s *Service) RestockMedicine(ctx context.Context, id string, qty int) (domain.Medicine, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RolePharmacist); err != nil {
		return domain.Medicine{}, err
	}

	id = strings.ToUpper(strings.TrimSpace(id))
	if id == "" || qty < 1 {
		return domain.Medicine{}, &domain.ValidationError{Reason: "medicine id and positive qty required"}
	}

	if err := s.repo.IncrementStock(ctx, id, qty); err != nil {
		return domain.Medicine{}, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "medicine_restock", "medicine", id, fmt.Sprintf("qty=%d", qty))

	med, err := s.repo.GetMedicine(ctx, id)
	if err != nil {
		return domain.Medicine{}, err
	}
	return *med, nil
}

// Quote prices a cart without touching stock or persisting anything.
func (s *Service) Quote(ctx context.Context, req domain.QuoteRequest) (domain.QuoteResponse, error) {
	lines, medicines, err := s.resolveCart(ctx, req.Lines)
	if err != nil {
		return domain.QuoteResponse{}, err
	}

	method := normalizePaymentMethod(req.PaymentMethod)
	if !isSupportedPaymentMethod(method) {
		return domain.QuoteResponse{}, &domain.ValidationError{Reason: "unsupported payment method"}
	}

	quote := s.pricer.Quote(lines, req.DiscountRatePercent, method, req.TenderedAmount)
	return domain.QuoteResponse{
		Subtotal:             quote.Subtotal,
		DiscountAmount:       quote.DiscountAmount,
		Tax:                  quote.Tax,
		NetTotal:             quote.NetTotal,
		Balance:              quote.Balance,
		PrescriptionRequired: s.compliance.Evaluate(medicines, lines),
	}, nil
}

func (s *Service) SearchCustomers(ctx context.Context, term string) ([]identity.Candidate, error) {
	return s.identity.Search(ctx, term)
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, patch domain.CustomerPatch) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return &domain.ValidationError{Reason: "customer id required"}
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return &domain.ValidationError{Reason: "name cannot be empty"}
	}

	if err := s.repo.UpdateCustomer(ctx, id, patch); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return &domain.ConflictError{Field: domain.FieldPhone}
		}
		return err
	}
	s.logAudit(ctx, "customer_update", "customer", id, "")
	return nil
}

func (s *Service) VerifyStaff(ctx context.Context, id string) (domain.Staff, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Staff{}, &domain.ValidationError{Reason: "staff id required"}
	}
	member, err := s.repo.GetStaff(ctx, id)
	if err != nil {
		return domain.Staff{}, err
	}
	if !member.Active {
		return domain.Staff{}, &domain.ValidationError{Reason: "staff member is inactive"}
	}
	return *member, nil
}

// Checkout runs the full commit pipeline: validation, compliance,
// stock pre-check, payment check, customer resolution, then the
// irreversible commit (decrements, transaction record, aggregates).
// The first failing step rejects the sale with nothing persisted.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	staff, err := s.VerifyStaff(ctx, req.StaffID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	method := normalizePaymentMethod(req.PaymentMethod)
	if !isSupportedPaymentMethod(method) {
		return domain.CheckoutResponse{}, &domain.ValidationError{Reason: "unsupported payment method"}
	}

	lines, medicines, err := s.resolveCart(ctx, req.Lines)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	lines = stock.Aggregate(lines)

	required := s.compliance.Evaluate(medicines, lines)
	if err := s.compliance.Validate(req.PrescriberCredential, required); err != nil {
		return domain.CheckoutResponse{}, err
	}

	if err := s.stock.Check(ctx, lines); err != nil {
		return domain.CheckoutResponse{}, err
	}

	rate := pricing.ClampDiscountRate(req.DiscountRatePercent)
	quote := s.pricer.Quote(lines, rate, method, req.TenderedAmount)
	tendered := req.TenderedAmount.Round(2)
	if method == domain.PaymentCash {
		if tendered.LessThan(quote.NetTotal) {
			return domain.CheckoutResponse{}, &domain.InsufficientPaymentError{Tendered: tendered, NetTotal: quote.NetTotal}
		}
	} else {
		// Non-cash settles exactly; no balance is owed back.
		tendered = quote.NetTotal
	}

	resolution, err := s.identity.Resolve(ctx, identity.ResolveInput{
		Term:  strings.TrimSpace(req.CustomerTerm),
		Name:  strings.TrimSpace(req.CustomerName),
		Phone: strings.TrimSpace(req.CustomerPhone),
	})
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	// Last cancellation point; the commit below runs to completion.
	if err := ctx.Err(); err != nil {
		return domain.CheckoutResponse{}, err
	}

	if err := s.stock.Commit(ctx, lines); err != nil {
		return domain.CheckoutResponse{}, err
	}

	receiptSeq, err := s.repo.NextReceiptNumber(ctx)
	if err != nil {
		s.stock.Release(ctx, lines)
		return domain.CheckoutResponse{}, &domain.PersistenceError{Step: "receipt_number", Err: err}
	}

	now := time.Now().UTC()
	tx := domain.Transaction{
		ID:                   xid.New("tx"),
		ReceiptNo:            fmt.Sprintf("RC-%06d", receiptSeq),
		Items:                buildTransactionLines(lines, medicines),
		Subtotal:             quote.Subtotal,
		DiscountRatePercent:  rate,
		DiscountAmount:       quote.DiscountAmount,
		Tax:                  quote.Tax,
		NetTotal:             quote.NetTotal,
		TenderedAmount:       tendered,
		Balance:              quote.Balance,
		PaymentMethod:        method,
		StaffID:              staff.ID,
		PrescriberCredential: req.PrescriberCredential,
		CreatedAt:            now,
	}
	if resolution.Customer != nil {
		tx.CustomerID = resolution.Customer.ID
	}

	saved, err := s.repo.SaveTransaction(ctx, tx)
	if err != nil {
		s.stock.Release(ctx, lines)
		return domain.CheckoutResponse{}, &domain.PersistenceError{Step: "transaction", Err: err}
	}

	if resolution.Customer != nil {
		if err := s.repo.ApplyCustomerVisit(ctx, resolution.Customer.ID, saved.NetTotal, now); err != nil {
			log.Printf("[service] WARN: failed to update customer aggregates id=%s tx=%s: %v", resolution.Customer.ID, saved.ID, err)
		}
	}

	s.logAudit(ctx, "checkout", "transaction", saved.ID, fmt.Sprintf("receipt=%s,net=%s,payment=%s,staff=%s", saved.ReceiptNo, saved.NetTotal, saved.PaymentMethod, saved.StaffID))

	resp := domain.CheckoutResponse{
		Transaction: *saved,
		NewCustomer: resolution.Outcome == identity.OutcomeCreated,
		AutoMatched: resolution.Outcome == identity.OutcomeAutoMatched,
	}
	if resolution.Customer != nil {
		resp.CustomerName = resolution.Customer.Name
	}
	return resp, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Transaction{}, &domain.ValidationError{Reason: "transaction id required"}
	}
	tx, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) GetTransactionByReceipt(ctx context.Context, receiptNo string) (domain.Transaction, error) {
	receiptNo = strings.TrimSpace(receiptNo)
	if receiptNo == "" {
		return domain.Transaction{}, &domain.ValidationError{Reason: "receipt number required"}
	}
	tx, err := s.repo.FindTransactionByReceiptNo(ctx, receiptNo)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) DailyReport(ctx context.Context, date string) (domain.DailyReport, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return domain.DailyReport{}, &domain.ValidationError{Reason: "date must be YYYY-MM-DD"}
	}

	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	report, err := s.repo.GetDailyReport(ctx, from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}
	report.Date = date
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Minute)
	}
	if from.IsZero() {
		from = to.Add(-30 * 24 * time.Hour)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// resolveCart freezes catalog prices into cart lines and rejects
// unknown medicines or non-positive quantities.
func (s *Service) resolveCart(ctx context.Context, inputs []domain.CartLineInput) ([]domain.CartLine, map[string]domain.Medicine, error) {
	if len(inputs) == 0 {
		return nil, nil, &domain.ValidationError{Reason: "cart is empty"}
	}

	ids := make([]string, 0, len(inputs))
	for _, input := range inputs {
		if strings.TrimSpace(input.MedicineID) == "" {
			return nil, nil, &domain.ValidationError{Reason: "cart line missing medicine id"}
		}
		if input.Qty < 1 {
			return nil, nil, &domain.ValidationError{Reason: fmt.Sprintf("invalid quantity for %s", input.MedicineID)}
		}
		ids = append(ids, input.MedicineID)
	}

	medicines, err := s.repo.GetMedicinesByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	lines := make([]domain.CartLine, 0, len(inputs))
	for _, input := range inputs {
		med, exists := medicines[input.MedicineID]
		if !exists {
			return nil, nil, &domain.ValidationError{Reason: fmt.Sprintf("unknown medicine %s", input.MedicineID)}
		}
		lines = append(lines, domain.CartLine{
			MedicineID: med.ID,
			Qty:        input.Qty,
			UnitPrice:  med.UnitPrice,
		})
	}
	return lines, medicines, nil
}

func buildTransactionLines(lines []domain.CartLine, medicines map[string]domain.Medicine) []domain.TransactionLine {
	items := make([]domain.TransactionLine, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.TransactionLine{
			MedicineID: line.MedicineID,
			Name:       medicines[line.MedicineID].Name,
			Qty:        line.Qty,
			UnitPrice:  line.UnitPrice,
			LineTotal:  line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Qty))).Round(2),
		})
	}
	return items
}

func (s *Service) invalidateCatalog(ctx context.Context) {
	if err := s.catalog.Invalidate(ctx, catalogCacheKey); err != nil {
		log.Printf("[service] WARN: catalog cache invalidation failed: %v", err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func requireRole(ctx context.Context, roles ...string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("%s role required", strings.Join(roles, " or "))
	}
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return fmt.Errorf("%s role required", strings.Join(roles, " or "))
}

func normalizePaymentMethod(method string) string {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		method = domain.PaymentCash
	}
	return method
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentTransfer:
		return true
	}
	return false
}

package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
)

type Store struct {
	mu               sync.RWMutex
	medicines        map[string]domain.Medicine
	customers        map[string]domain.Customer
	transactionsByID map[string]domain.Transaction
	transactionsByRc map[string]string
	staffByID        map[string]domain.Staff
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
	receiptCounter   int64
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// hardcoded dev defaults are used otherwise with a warning. The
// backend uses PostgreSQL accounts when DATABASE_URL is set.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "kasir123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"apoteker", adminPwd, domain.RolePharmacist},
		{"kasir", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func NewSeeded() *Store {
	expiry := func(s string) *time.Time {
		t, _ := time.Parse("2006-01-02", s)
		return &t
	}

	medicines := []domain.Medicine{
		{ID: "MED-PARA-500", Name: "Paracetamol 500mg", UnitPrice: price("18.00"), StockQty: 120, BatchNo: "B2409-114", ExpiryDate: expiry("2027-03-31"), Active: true},
		{ID: "MED-AMOX-500", Name: "Amoxicillin 500mg", UnitPrice: price("35.50"), StockQty: 80, PrescriptionRequired: true, BatchNo: "B2501-027", ExpiryDate: expiry("2026-11-30"), Active: true},
		{ID: "MED-VITC-500", Name: "Vitamin C 500mg", UnitPrice: price("12.25"), StockQty: 200, BatchNo: "B2502-003", ExpiryDate: expiry("2027-08-31"), Active: true},
		{ID: "MED-IBU-400", Name: "Ibuprofen 400mg", UnitPrice: price("22.00"), StockQty: 60, BatchNo: "B2412-090", ExpiryDate: expiry("2026-09-30"), Active: true},
		{ID: "MED-OMEP-20", Name: "Omeprazole 20mg", UnitPrice: price("41.75"), StockQty: 45, PrescriptionRequired: true, BatchNo: "B2503-041", ExpiryDate: expiry("2027-01-31"), Active: true},
		{ID: "MED-CTM-4", Name: "Chlorphenamine 4mg", UnitPrice: price("8.50"), StockQty: 150, BatchNo: "B2411-062", ExpiryDate: expiry("2026-12-31"), Active: true},
		{ID: "MED-OBH-100", Name: "Cough Syrup 100ml", UnitPrice: price("27.00"), StockQty: 5, BatchNo: "B2504-018", ExpiryDate: expiry("2026-10-31"), Active: true},
	}

	staff := []domain.Staff{
		{ID: "STF-001", Name: "Sari Wijaya", Role: domain.RolePharmacist, Active: true},
		{ID: "STF-002", Name: "Budi Hartono", Role: domain.RoleCashier, Active: true},
		{ID: "STF-009", Name: "Rina Melati", Role: domain.RoleCashier, Active: false},
	}

	now := time.Now().UTC()
	customers := []domain.Customer{
		{ID: "cus-seed-1", Name: "Dewi Lestari", NationalID: "3175094501880002", Phone: "081234567890", TotalSpent: price("245.50"), LastVisit: now.Add(-48 * time.Hour), CreatedAt: now.Add(-700 * 24 * time.Hour)},
		{ID: "cus-seed-2", Name: "Andi Pratama", NationalID: "3175091107900004", Phone: "081298765432", TotalSpent: price("88.00"), LastVisit: now.Add(-240 * time.Hour), CreatedAt: now.Add(-300 * 24 * time.Hour)},
		{ID: "cus-seed-3", Name: "Dewi Anggraini", TotalSpent: price("12.25"), LastVisit: now.Add(-24 * time.Hour), CreatedAt: now.Add(-24 * time.Hour)},
	}

	medMap := make(map[string]domain.Medicine, len(medicines))
	for _, m := range medicines {
		medMap[m.ID] = m
	}
	staffMap := make(map[string]domain.Staff, len(staff))
	for _, s := range staff {
		staffMap[s.ID] = s
	}
	customerMap := make(map[string]domain.Customer, len(customers))
	for _, c := range customers {
		customerMap[c.ID] = c
	}

	return &Store{
		medicines:        medMap,
		customers:        customerMap,
		transactionsByID: make(map[string]domain.Transaction),
		transactionsByRc: make(map[string]string),
		staffByID:        staffMap,
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  seedUsers(),
	}
}

func (s *Store) ListMedicines(_ context.Context) ([]domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	medicines := make([]domain.Medicine, 0, len(s.medicines))
	for _, m := range s.medicines {
		if !m.Active {
			continue
		}
		medicines = append(medicines, m)
	}
	slices.SortFunc(medicines, func(a, b domain.Medicine) int {
		return strings.Compare(a.Name, b.Name)
	})
	return medicines, nil
}

func (s *Store) GetMedicine(_ context.Context, id string) (*domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.medicines[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := m
	return &copied, nil
}

func (s *Store) GetMedicinesByIDs(_ context.Context, ids []string) (map[string]domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Medicine, len(ids))
	for _, id := range ids {
		if m, exists := s.medicines[id]; exists && m.Active {
			result[id] = m
		}
	}
	return result, nil
}

func (s *Store) CreateMedicine(_ context.Context, med domain.Medicine) (*domain.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if med.ID == "" || med.Name == "" || !med.UnitPrice.IsPositive() || med.StockQty < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.medicines[med.ID]; exists {
		return nil, store.ErrDuplicate
	}
	med.Active = true
	s.medicines[med.ID] = med
	created := med
	return &created, nil
}

func (s *Store) UpdateMedicine(_ context.Context, med domain.Medicine) (*domain.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if med.ID == "" || med.Name == "" || !med.UnitPrice.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	existing, exists := s.medicines[med.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	// Stock is owned by the decrement/increment paths.
	med.StockQty = existing.StockQty
	s.medicines[med.ID] = med
	updated := med
	return &updated, nil
}

func (s *Store) GetStockMap(_ context.Context, ids []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stockMap := make(map[string]int, len(ids))
	for _, id := range ids {
		stockMap[id] = s.medicines[id].StockQty
	}
	return stockMap, nil
}

func (s *Store) DecrementStock(_ context.Context, medicineID string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.medicines[medicineID]
	if !exists {
		return 0, store.ErrNotFound
	}
	if m.StockQty < qty {
		return m.StockQty, store.ErrInsufficientStock
	}
	m.StockQty -= qty
	s.medicines[medicineID] = m
	return m.StockQty, nil
}

func (s *Store) IncrementStock(_ context.Context, medicineID string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.medicines[medicineID]
	if !exists {
		return store.ErrNotFound
	}
	m.StockQty += qty
	s.medicines[medicineID] = m
	return nil
}

func (s *Store) FindCustomerByExactField(_ context.Context, field string, value string) (*domain.Customer, error) {
	if value == "" {
		return nil, store.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.customers {
		if customerField(c, field) == value {
			copied := c
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindCustomersByPartialField(_ context.Context, field string, value string) ([]domain.Customer, error) {
	if value == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := value
	fold := field == domain.FieldName
	if fold {
		needle = strings.ToLower(needle)
	}

	matches := make([]domain.Customer, 0, 8)
	for _, c := range s.customers {
		haystack := customerField(c, field)
		if fold {
			haystack = strings.ToLower(haystack)
		}
		if haystack != "" && strings.Contains(haystack, needle) {
			matches = append(matches, c)
		}
	}
	slices.SortFunc(matches, func(a, b domain.Customer) int {
		return strings.Compare(a.ID, b.ID)
	})
	return matches, nil
}

func customerField(c domain.Customer, field string) string {
	switch field {
	case domain.FieldNationalID:
		return c.NationalID
	case domain.FieldPhone:
		return c.Phone
	case domain.FieldName:
		return c.Name
	}
	return ""
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.customers {
		if customer.NationalID != "" && existing.NationalID == customer.NationalID {
			return nil, store.ErrDuplicate
		}
		if customer.Phone != "" && existing.Phone == customer.Phone {
			return nil, store.ErrDuplicate
		}
	}
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomer(_ context.Context, id string, patch domain.CustomerPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.customers[id]
	if !exists {
		return store.ErrNotFound
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Phone != nil {
		for otherID, other := range s.customers {
			if otherID != id && other.Phone == *patch.Phone && *patch.Phone != "" {
				return store.ErrDuplicate
			}
		}
		c.Phone = *patch.Phone
	}
	s.customers[id] = c
	return nil
}

func (s *Store) ApplyCustomerVisit(_ context.Context, id string, amount decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.customers[id]
	if !exists {
		return store.ErrNotFound
	}
	c.TotalSpent = c.TotalSpent.Add(amount)
	c.LastVisit = at
	s.customers[id] = c
	return nil
}

func (s *Store) NextReceiptNumber(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.receiptCounter++
	return s.receiptCounter, nil
}

func (s *Store) SaveTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" || tx.ReceiptNo == "" || len(tx.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.transactionsByID[tx.ID]; exists {
		return nil, store.ErrDuplicate
	}
	items := make([]domain.TransactionLine, len(tx.Items))
	copy(items, tx.Items)
	tx.Items = items
	s.transactionsByID[tx.ID] = tx
	s.transactionsByRc[tx.ReceiptNo] = tx.ID
	saved := tx
	return &saved, nil
}

func (s *Store) FindTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := tx
	copied.Items = append([]domain.TransactionLine(nil), tx.Items...)
	return &copied, nil
}

func (s *Store) FindTransactionByReceiptNo(ctx context.Context, receiptNo string) (*domain.Transaction, error) {
	s.mu.RLock()
	id, exists := s.transactionsByRc[receiptNo]
	s.mu.RUnlock()
	if !exists {
		return nil, store.ErrNotFound
	}
	return s.FindTransactionByID(ctx, id)
}

func (s *Store) GetDailyReport(_ context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.DailyReport{
		GrossSales:    decimal.Zero,
		DiscountTotal: decimal.Zero,
		TaxTotal:      decimal.Zero,
		NetSales:      decimal.Zero,
	}
	byPayment := map[string]*domain.DailyReportPayment{}

	for _, tx := range s.transactionsByID {
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		report.Transactions++
		report.GrossSales = report.GrossSales.Add(tx.Subtotal)
		report.DiscountTotal = report.DiscountTotal.Add(tx.DiscountAmount)
		report.TaxTotal = report.TaxTotal.Add(tx.Tax)
		report.NetSales = report.NetSales.Add(tx.NetTotal)
		if tx.CustomerID == "" {
			report.WalkInSales++
		} else {
			report.RegisteredSales++
		}

		entry, exists := byPayment[tx.PaymentMethod]
		if !exists {
			entry = &domain.DailyReportPayment{PaymentMethod: tx.PaymentMethod, Total: decimal.Zero}
			byPayment[tx.PaymentMethod] = entry
		}
		entry.Transactions++
		entry.Total = entry.Total.Add(tx.NetTotal)
	}

	report.ByPayment = make([]domain.DailyReportPayment, 0, len(byPayment))
	for _, entry := range byPayment {
		report.ByPayment = append(report.ByPayment, *entry)
	}
	slices.SortFunc(report.ByPayment, func(a, b domain.DailyReportPayment) int {
		return strings.Compare(a.PaymentMethod, b.PaymentMethod)
	})
	return report, nil
}

func (s *Store) GetStaff(_ context.Context, id string) (*domain.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	member, exists := s.staffByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := member
	return &copied, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	logs := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	slices.SortFunc(logs, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrDuplicate
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	u.Password = password
	s.usersByUsername[username] = u
	return nil
}

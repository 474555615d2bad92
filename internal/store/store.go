package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"apotekpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicate         = errors.New("duplicate record")
)

// Repository is the collection-oriented persistence boundary. The
// medicine stock counter and the customer pool are the only shared
// mutable state; they are written only through DecrementStock /
// IncrementStock and the customer methods respectively.
type Repository interface {
	// Catalog.
	ListMedicines(ctx context.Context) ([]domain.Medicine, error)
	GetMedicine(ctx context.Context, id string) (*domain.Medicine, error)
	GetMedicinesByIDs(ctx context.Context, ids []string) (map[string]domain.Medicine, error)
	CreateMedicine(ctx context.Context, med domain.Medicine) (*domain.Medicine, error)
	UpdateMedicine(ctx context.Context, med domain.Medicine) (*domain.Medicine, error)

	// Stock. DecrementStock is a single atomic conditional decrement:
	// it returns the new quantity, or ErrInsufficientStock when the
	// decrement would drive stock negative, and never partially
	// applies. IncrementStock is the compensating release path.
	GetStockMap(ctx context.Context, ids []string) (map[string]int, error)
	DecrementStock(ctx context.Context, medicineID string, qty int) (int, error)
	IncrementStock(ctx context.Context, medicineID string, qty int) error

	// Customer pool.
	FindCustomerByExactField(ctx context.Context, field string, value string) (*domain.Customer, error)
	FindCustomersByPartialField(ctx context.Context, field string, value string) ([]domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, id string, patch domain.CustomerPatch) error
	ApplyCustomerVisit(ctx context.Context, id string, amount decimal.Decimal, at time.Time) error

	// Transactions.
	NextReceiptNumber(ctx context.Context) (int64, error)
	SaveTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	FindTransactionByReceiptNo(ctx context.Context, receiptNo string) (*domain.Transaction, error)
	GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error)

	// Staff directory.
	GetStaff(ctx context.Context, id string) (*domain.Staff, error)

	// Audit trail.
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	// Auth accounts.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Medicine is a catalog entry. Stock is mutated only through the stock
// ledger gate's atomic decrement; everything else is inventory CRUD.
type Medicine struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	StockQty             int             `json:"stock_qty"`
	PrescriptionRequired bool            `json:"prescription_required"`
	BatchNo              string          `json:"batch_no,omitempty"`
	ExpiryDate           *time.Time      `json:"expiry_date,omitempty"`
	Active               bool            `json:"active"`
}

type MedicineCreateRequest struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	InitialStock         int             `json:"initial_stock"`
	PrescriptionRequired bool            `json:"prescription_required"`
	BatchNo              string          `json:"batch_no"`
	ExpiryDate           string          `json:"expiry_date,omitempty"`
}

type MedicineUpdateRequest struct {
	Name                 *string          `json:"name,omitempty"`
	UnitPrice            *decimal.Decimal `json:"unit_price,omitempty"`
	PrescriptionRequired *bool            `json:"prescription_required,omitempty"`
	BatchNo              *string          `json:"batch_no,omitempty"`
	Active               *bool            `json:"active,omitempty"`
}

// CartLine is one medicine entry in an open sale. UnitPrice is frozen
// at add-time so catalog price changes never move an open cart.
type CartLine struct {
	MedicineID string          `json:"medicine_id"`
	Qty        int             `json:"qty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

type CartLineInput struct {
	MedicineID string `json:"medicine_id"`
	Qty        int    `json:"qty"`
}

// Customer is a walk-in or registered patient record. NationalID and
// Phone are each unique across the pool when non-empty.
type Customer struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	NationalID string          `json:"national_id,omitempty"`
	Phone      string          `json:"phone,omitempty"`
	TotalSpent decimal.Decimal `json:"total_spent"`
	LastVisit  time.Time       `json:"last_visit"`
	CreatedAt  time.Time       `json:"created_at"`
}

// CustomerPatch carries the fields updateCustomer may change. Nil
// means leave untouched.
type CustomerPatch struct {
	Name  *string
	Phone *string
}

type TransactionLine struct {
	MedicineID string          `json:"medicine_id"`
	Name       string          `json:"name"`
	Qty        int             `json:"qty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	LineTotal  decimal.Decimal `json:"line_total"`
}

// Transaction is the immutable persisted sale record. Corrections are
// modeled as new reversing transactions, never in-place edits.
type Transaction struct {
	ID                   string            `json:"id"`
	ReceiptNo            string            `json:"receipt_no"`
	Items                []TransactionLine `json:"items"`
	Subtotal             decimal.Decimal   `json:"subtotal"`
	DiscountRatePercent  float64           `json:"discount_rate_percent"`
	DiscountAmount       decimal.Decimal   `json:"discount_amount"`
	Tax                  decimal.Decimal   `json:"tax"`
	NetTotal             decimal.Decimal   `json:"net_total"`
	TenderedAmount       decimal.Decimal   `json:"tendered_amount"`
	Balance              decimal.Decimal   `json:"balance"`
	PaymentMethod        string            `json:"payment_method"`
	StaffID              string            `json:"staff_id"`
	PrescriberCredential string            `json:"prescriber_credential,omitempty"`
	CustomerID           string            `json:"customer_id,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
}

type CheckoutRequest struct {
	StaffID              string          `json:"staff_id"`
	Lines                []CartLineInput `json:"lines"`
	DiscountRatePercent  float64         `json:"discount_rate_percent"`
	PaymentMethod        string          `json:"payment_method"`
	TenderedAmount       decimal.Decimal `json:"tendered_amount"`
	PrescriberCredential string          `json:"prescriber_credential,omitempty"`
	CustomerTerm         string          `json:"customer_term,omitempty"`
	CustomerName         string          `json:"customer_name,omitempty"`
	CustomerPhone        string          `json:"customer_phone,omitempty"`
}

// CheckoutResponse is the receipt-ready result of a committed sale.
type CheckoutResponse struct {
	Transaction  Transaction `json:"transaction"`
	CustomerName string      `json:"customer_name,omitempty"`
	NewCustomer  bool        `json:"new_customer"`
	AutoMatched  bool        `json:"auto_matched"`
}

type QuoteRequest struct {
	Lines               []CartLineInput `json:"lines"`
	DiscountRatePercent float64         `json:"discount_rate_percent"`
	PaymentMethod       string          `json:"payment_method"`
	TenderedAmount      decimal.Decimal `json:"tendered_amount"`
}

type QuoteResponse struct {
	Subtotal             decimal.Decimal `json:"subtotal"`
	DiscountAmount       decimal.Decimal `json:"discount_amount"`
	Tax                  decimal.Decimal `json:"tax"`
	NetTotal             decimal.Decimal `json:"net_total"`
	Balance              decimal.Decimal `json:"balance"`
	PrescriptionRequired bool            `json:"prescription_required"`
}

// Staff is a verified sale actor. Credential format checks live in the
// compliance gate; authorization stays here.
type Staff struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

type DailyReportPayment struct {
	PaymentMethod string          `json:"payment_method"`
	Transactions  int64           `json:"transactions"`
	Total         decimal.Decimal `json:"total"`
}

type DailyReport struct {
	Date           string               `json:"date"`
	Transactions   int64                `json:"transactions"`
	GrossSales     decimal.Decimal      `json:"gross_sales"`
	DiscountTotal  decimal.Decimal      `json:"discount_total"`
	TaxTotal       decimal.Decimal      `json:"tax_total"`
	NetSales       decimal.Decimal      `json:"net_sales"`
	ByPayment      []DailyReportPayment `json:"by_payment"`
	WalkInSales    int64                `json:"walk_in_sales"`
	RegisteredSales int64               `json:"registered_sales"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
)

// Customer fields addressable by findByExactField/findByPartialField.
const (
	FieldNationalID = "national_id"
	FieldPhone      = "phone"
	FieldName       = "name"
)

const (
	RoleAdmin      = "admin"
	RolePharmacist = "pharmacist"
	RoleCashier    = "cashier"
)

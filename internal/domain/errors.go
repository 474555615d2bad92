package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError covers recoverable input problems: empty cart, blank
// staff id, unknown medicine. No side effects have happened yet.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// StockError names the first offending line of an oversell attempt.
type StockError struct {
	MedicineID string
	Requested  int
	Available  int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.MedicineID, e.Requested, e.Available)
}

// ComplianceError reasons.
const (
	ComplianceMissing   = "missing"
	ComplianceMalformed = "malformed"
)

type ComplianceError struct {
	Reason string
}

func (e *ComplianceError) Error() string {
	return "prescriber credential " + e.Reason
}

// ConflictError names the customer field already bound to another
// record. No record is created when it is returned.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return "customer " + e.Field + " already belongs to another record"
}

type InsufficientPaymentError struct {
	Tendered decimal.Decimal
	NetTotal decimal.Decimal
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("tendered %s is less than net total %s", e.Tendered, e.NetTotal)
}

// PersistenceError marks a commit-phase failure that may have left
// stock decremented without a matching transaction record. It is fatal
// and must never be retried automatically.
type PersistenceError struct {
	Step string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("commit failed at %s: %v", e.Step, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

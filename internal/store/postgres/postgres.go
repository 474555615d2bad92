package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListMedicines(ctx context.Context) ([]domain.Medicine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, unit_price, stock_qty, prescription_required, COALESCE(batch_no,''), expiry_date, active
		FROM medicines
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	medicines := make([]domain.Medicine, 0, 128)
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		medicines = append(medicines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return medicines, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedicine(row rowScanner) (domain.Medicine, error) {
	var m domain.Medicine
	var expiry sql.NullTime
	if err := row.Scan(&m.ID, &m.Name, &m.UnitPrice, &m.StockQty, &m.PrescriptionRequired, &m.BatchNo, &expiry, &m.Active); err != nil {
		return m, err
	}
	if expiry.Valid {
		e := expiry.Time.UTC()
		m.ExpiryDate = &e
	}
	return m, nil
}

func (s *Store) GetMedicine(ctx context.Context, id string) (*domain.Medicine, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, unit_price, stock_qty, prescription_required, COALESCE(batch_no,''), expiry_date, active
		FROM medicines
		WHERE id = $1
	`, id)
	m, err := scanMedicine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetMedicinesByIDs(ctx context.Context, ids []string) (map[string]domain.Medicine, error) {
	result := make(map[string]domain.Medicine, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, unit_price, stock_qty, prescription_required, COALESCE(batch_no,''), expiry_date, active
		FROM medicines
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		result[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) CreateMedicine(ctx context.Context, med domain.Medicine) (*domain.Medicine, error) {
	if med.ID == "" || med.Name == "" || !med.UnitPrice.IsPositive() || med.StockQty < 0 {
		return nil, store.ErrInvalidInput
	}

	med.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO medicines (id, name, unit_price, stock_qty, prescription_required, batch_no, expiry_date, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())
	`, med.ID, med.Name, med.UnitPrice, med.StockQty, med.PrescriptionRequired, med.BatchNo, nullTime(med.ExpiryDate), med.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := med
	return &created, nil
}

func (s *Store) UpdateMedicine(ctx context.Context, med domain.Medicine) (*domain.Medicine, error) {
	if med.ID == "" || med.Name == "" || !med.UnitPrice.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	// stock_qty stays with the decrement/increment paths.
	row := s.db.QueryRowContext(ctx, `
		UPDATE medicines
		SET name = $2, unit_price = $3, prescription_required = $4, batch_no = $5, expiry_date = $6, active = $7, updated_at = now()
		WHERE id = $1
		RETURNING stock_qty
	`, med.ID, med.Name, med.UnitPrice, med.PrescriptionRequired, med.BatchNo, nullTime(med.ExpiryDate), med.Active)
	if err := row.Scan(&med.StockQty); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	updated := med
	return &updated, nil
}

func (s *Store) GetStockMap(ctx context.Context, ids []string) (map[string]int, error) {
	stockMap := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return stockMap, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stock_qty
		FROM medicines
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		stockMap[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, ok := stockMap[id]; !ok {
			stockMap[id] = 0
		}
	}

	return stockMap, nil
}

// DecrementStock is a single conditional UPDATE, so two terminals racing
// over the last unit cannot both win and stock never goes below zero.
func (s *Store) DecrementStock(ctx context.Context, medicineID string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrInvalidInput
	}

	var remaining int
	err := s.db.QueryRowContext(ctx, `
		UPDATE medicines
		SET stock_qty = stock_qty - $2, updated_at = now()
		WHERE id = $1 AND stock_qty >= $2
		RETURNING stock_qty
	`, medicineID, qty).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	var current int
	err = s.db.QueryRowContext(ctx, `
		SELECT stock_qty FROM medicines WHERE id = $1
	`, medicineID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return current, store.ErrInsufficientStock
}

func (s *Store) IncrementStock(ctx context.Context, medicineID string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE medicines
		SET stock_qty = stock_qty + $2, updated_at = now()
		WHERE id = $1
	`, medicineID, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func customerColumn(field string) (string, error) {
	switch field {
	case domain.FieldNationalID:
		return "national_id", nil
	case domain.FieldPhone:
		return "phone", nil
	case domain.FieldName:
		return "name", nil
	}
	return "", fmt.Errorf("unsupported customer field %q", field)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike neutralizes LIKE/ILIKE metacharacters in a user-supplied
// search term so it matches literally.
func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var c domain.Customer
	var nationalID sql.NullString
	var phone sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &nationalID, &phone, &c.TotalSpent, &c.LastVisit, &c.CreatedAt); err != nil {
		return c, err
	}
	if nationalID.Valid {
		c.NationalID = nationalID.String
	}
	if phone.Valid {
		c.Phone = phone.String
	}
	c.LastVisit = c.LastVisit.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (s *Store) FindCustomerByExactField(ctx context.Context, field string, value string) (*domain.Customer, error) {
	if value == "" {
		return nil, store.ErrNotFound
	}
	column, err := customerColumn(field)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, name, national_id, phone, total_spent, last_visit, created_at
		FROM customers
		WHERE %s = $1
		LIMIT 1
	`, column)
	c, err := scanCustomer(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) FindCustomersByPartialField(ctx context.Context, field string, value string) ([]domain.Customer, error) {
	if value == "" {
		return nil, nil
	}
	column, err := customerColumn(field)
	if err != nil {
		return nil, err
	}

	operator := "LIKE"
	if field == domain.FieldName {
		operator = "ILIKE"
	}
	query := fmt.Sprintf(`
		SELECT id, name, national_id, phone, total_spent, last_visit, created_at
		FROM customers
		WHERE %s %s '%%' || $1 || '%%'
		ORDER BY id
		LIMIT 50
	`, column, operator)

	rows, err := s.db.QueryContext(ctx, query, escapeLike(value))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 8)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, national_id, phone, total_spent, last_visit, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, customer.ID, customer.Name, nullIfEmpty(customer.NationalID), nullIfEmpty(customer.Phone), customer.TotalSpent, customer.LastVisit, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, id string, patch domain.CustomerPatch) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET name = COALESCE($2, name),
			phone = CASE WHEN $3::text IS NULL THEN phone ELSE NULLIF($3, '') END
		WHERE id = $1
	`, id, patch.Name, patch.Phone)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ApplyCustomerVisit(ctx context.Context, id string, amount decimal.Decimal, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET total_spent = total_spent + $2, last_visit = $3
		WHERE id = $1
	`, id, amount, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) NextReceiptNumber(ctx context.Context) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO receipt_counters (id, value)
		VALUES (1, 1)
		ON CONFLICT (id)
		DO UPDATE SET value = receipt_counters.value + 1
		RETURNING value
	`).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *Store) SaveTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.ID == "" || tx.ReceiptNo == "" || len(tx.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, receipt_no, subtotal, discount_rate_percent, discount_amount, tax,
			net_total, tendered_amount, balance, payment_method, staff_id,
			prescriber_credential, customer_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, tx.ID, tx.ReceiptNo, tx.Subtotal, tx.DiscountRatePercent, tx.DiscountAmount, tx.Tax,
		tx.NetTotal, tx.TenderedAmount, tx.Balance, tx.PaymentMethod, tx.StaffID,
		nullIfEmpty(tx.PrescriberCredential), nullIfEmpty(tx.CustomerID), tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	for _, item := range tx.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_items (transaction_id, medicine_id, name, qty, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, tx.ID, item.MedicineID, item.Name, item.Qty, item.UnitPrice, item.LineTotal)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	saved := tx
	return &saved, nil
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.findTransaction(ctx, "id", id)
}

func (s *Store) FindTransactionByReceiptNo(ctx context.Context, receiptNo string) (*domain.Transaction, error) {
	return s.findTransaction(ctx, "receipt_no", receiptNo)
}

func (s *Store) findTransaction(ctx context.Context, column string, value string) (*domain.Transaction, error) {
	if column != "id" && column != "receipt_no" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var tx domain.Transaction
	var credential sql.NullString
	var customerID sql.NullString

	query := fmt.Sprintf(`
		SELECT id, receipt_no, subtotal, discount_rate_percent, discount_amount, tax,
			net_total, tendered_amount, balance, payment_method, staff_id,
			prescriber_credential, customer_id, created_at
		FROM transactions
		WHERE %s = $1
	`, column)

	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&tx.ID,
		&tx.ReceiptNo,
		&tx.Subtotal,
		&tx.DiscountRatePercent,
		&tx.DiscountAmount,
		&tx.Tax,
		&tx.NetTotal,
		&tx.TenderedAmount,
		&tx.Balance,
		&tx.PaymentMethod,
		&tx.StaffID,
		&credential,
		&customerID,
		&tx.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if credential.Valid {
		tx.PrescriberCredential = credential.String
	}
	if customerID.Valid {
		tx.CustomerID = customerID.String
	}
	tx.CreatedAt = tx.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT medicine_id, name, qty, unit_price, line_total
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY id ASC
	`, tx.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TransactionLine, 0, 8)
	for rows.Next() {
		var item domain.TransactionLine
		if err := rows.Scan(&item.MedicineID, &item.Name, &item.Qty, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	tx.Items = items

	return &tx, nil
}

func (s *Store) GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	report := domain.DailyReport{
		ByPayment: make([]domain.DailyReportPayment, 0, 4),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*)::bigint,
			COALESCE(SUM(subtotal),0),
			COALESCE(SUM(discount_amount),0),
			COALESCE(SUM(tax),0),
			COALESCE(SUM(net_total),0),
			COALESCE(SUM(CASE WHEN customer_id IS NULL THEN 1 ELSE 0 END),0)::bigint,
			COALESCE(SUM(CASE WHEN customer_id IS NOT NULL THEN 1 ELSE 0 END),0)::bigint
		FROM transactions
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(
		&report.Transactions,
		&report.GrossSales,
		&report.DiscountTotal,
		&report.TaxTotal,
		&report.NetSales,
		&report.WalkInSales,
		&report.RegisteredSales,
	)
	if err != nil {
		return report, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_method, COUNT(*)::bigint, COALESCE(SUM(net_total),0)
		FROM transactions
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY payment_method
		ORDER BY payment_method
	`, from, to)
	if err != nil {
		return report, err
	}
	defer rows.Close()

	for rows.Next() {
		var row domain.DailyReportPayment
		if err := rows.Scan(&row.PaymentMethod, &row.Transactions, &row.Total); err != nil {
			return report, err
		}
		report.ByPayment = append(report.ByPayment, row)
	}
	if err := rows.Err(); err != nil {
		return report, err
	}

	return report, nil
}

func (s *Store) GetStaff(ctx context.Context, id string) (*domain.Staff, error) {
	var member domain.Staff
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, active
		FROM staff
		WHERE id = $1
	`, id).Scan(&member.ID, &member.Name, &member.Role, &member.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &member, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

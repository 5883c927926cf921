package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/repository"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, credit_id, installment_id, client_id, institution_id, amount,
	payment_method, transaction_ref, status, failure_reason, processed_at, created_at`

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	var installmentID sql.NullInt64
	if payment.InstallmentID != 0 {
		installmentID = sql.NullInt64{Int64: payment.InstallmentID, Valid: true}
	}
	query := `
		INSERT INTO payments (credit_id, installment_id, client_id, institution_id, amount,
			payment_method, transaction_ref, status, failure_reason, processed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, payment.CreditID, installmentID, payment.ClientID,
		payment.InstitutionID, payment.Amount, payment.Method, payment.TransactionRef,
		payment.Status, payment.FailureReason, payment.ProcessedAt).
		Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: transaction %s", repository.ErrDuplicate, payment.TransactionRef)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	payment, err := scanPayment(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment %d", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return payment, nil
}

func (r *PaymentRepository) GetByTransactionRef(ctx context.Context, ref string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_ref = $1`
	payment, err := scanPayment(r.db.QueryRowContext(ctx, query, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", repository.ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return payment, nil
}

func (r *PaymentRepository) Update(ctx context.Context, payment *models.Payment) error {
	query := `
		UPDATE payments
		SET status = $1, failure_reason = $2, processed_at = $3
		WHERE id = $4`
	res, err := r.db.ExecContext(ctx, query, payment.Status, payment.FailureReason,
		payment.ProcessedAt, payment.ID)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: payment %d", repository.ErrNotFound, payment.ID)
	}
	return nil
}

func (r *PaymentRepository) UpdateIf(ctx context.Context, payment *models.Payment, expect models.PaymentStatus) error {
	query := `
		UPDATE payments
		SET status = $1, failure_reason = $2, processed_at = $3
		WHERE id = $4 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, payment.Status, payment.FailureReason,
		payment.ProcessedAt, payment.ID, string(expect))
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, payment.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: payment %d is not %s", repository.ErrConflict, payment.ID, expect)
	}
	return nil
}

func (r *PaymentRepository) ListByCredit(ctx context.Context, creditID int64, page repository.Page) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE credit_id = $1 ORDER BY id`
	args := []interface{}{creditID}
	if page.Size > 0 {
		args = append(args, page.Size, page.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var result []*models.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		result = append(result, payment)
	}
	return result, rows.Err()
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	payment := &models.Payment{}
	var (
		installmentID sql.NullInt64
		failureReason sql.NullString
		processedAt   sql.NullTime
	)
	err := row.Scan(&payment.ID, &payment.CreditID, &installmentID, &payment.ClientID,
		&payment.InstitutionID, &payment.Amount, &payment.Method, &payment.TransactionRef,
		&payment.Status, &failureReason, &processedAt, &payment.CreatedAt)
	if err != nil {
		return nil, err
	}
	payment.InstallmentID = installmentID.Int64
	payment.FailureReason = failureReason.String
	payment.ProcessedAt = timePtr(processedAt)
	return payment, nil
}

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode notification metadata: %w", err)
	}
	query := `
		INSERT INTO notifications (client_id, institution_id, type, title, message, channel,
			metadata, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, n.ClientID, n.InstitutionID, n.Type, n.Title,
		n.Message, n.Channel, metadata).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) ListByClient(ctx context.Context, clientID int64, page repository.Page) ([]*models.Notification, error) {
	query := `
		SELECT id, client_id, institution_id, type, title, message, channel, metadata,
			is_read, read_at, created_at
		FROM notifications
		WHERE client_id = $1
		ORDER BY id`
	args := []interface{}{clientID}
	if page.Size > 0 {
		args = append(args, page.Size, page.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var result []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var (
			metadata []byte
			readAt   sql.NullTime
		)
		if err := rows.Scan(&n.ID, &n.ClientID, &n.InstitutionID, &n.Type, &n.Title,
			&n.Message, &n.Channel, &metadata, &n.IsRead, &readAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode notification metadata: %w", err)
			}
		}
		n.ReadAt = timePtr(readAt)
		result = append(result, n)
	}
	return result, rows.Err()
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE notifications SET is_read = true, read_at = $1 WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: notification %d", repository.ErrNotFound, id)
	}
	return nil
}

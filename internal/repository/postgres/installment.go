package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/mozlend/microcredit/internal/clock"
	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/repository"
)

type InstallmentRepository struct {
	db *sql.DB
}

func NewInstallmentRepository(db *sql.DB) *InstallmentRepository {
	return &InstallmentRepository{db: db}
}

const installmentColumns = `id, credit_id, institution_id, installment_number, due_date, amount,
	principal, interest, late_fee, total_amount, paid_amount, status, days_past_due,
	paid_at, reminder_sent_at, payment_ids, version, created_at, updated_at`

func (r *InstallmentRepository) CreateBatch(ctx context.Context, installments []*models.Installment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO installments (credit_id, institution_id, installment_number, due_date, amount,
			principal, interest, late_fee, total_amount, paid_amount, status, days_past_due,
			payment_ids, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	for _, inst := range installments {
		err := tx.QueryRowContext(ctx, query, inst.CreditID, inst.InstitutionID, inst.Number,
			inst.DueDate, inst.Amount, inst.Principal, inst.Interest, inst.LateFee,
			inst.TotalAmount, inst.PaidAmount, inst.Status, inst.DaysPastDue,
			pq.Array(inst.PaymentIDs)).
			Scan(&inst.ID, &inst.CreatedAt, &inst.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create installment %d: %w", inst.Number, err)
		}
		inst.Version = 1
	}
	return tx.Commit()
}

func (r *InstallmentRepository) GetByID(ctx context.Context, id int64) (*models.Installment, error) {
	query := `SELECT ` + installmentColumns + ` FROM installments WHERE id = $1`
	inst, err := scanInstallment(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: installment %d", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find installment: %w", err)
	}
	return inst, nil
}

func (r *InstallmentRepository) Find(ctx context.Context, filter repository.InstallmentFilter, page repository.Page) ([]*models.Installment, error) {
	query := `SELECT ` + installmentColumns + ` FROM installments WHERE 1=1`
	args := []interface{}{}
	if filter.InstitutionID != 0 {
		args = append(args, filter.InstitutionID)
		query += fmt.Sprintf(" AND institution_id = $%d", len(args))
	}
	if filter.CreditID != 0 {
		args = append(args, filter.CreditID)
		query += fmt.Sprintf(" AND credit_id = $%d", len(args))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if filter.DueBefore != nil {
		args = append(args, *filter.DueBefore)
		query += fmt.Sprintf(" AND due_date < $%d", len(args))
	}
	if filter.DueOn != nil {
		day := clock.Midnight(*filter.DueOn)
		args = append(args, day, day.AddDate(0, 0, 1))
		query += fmt.Sprintf(" AND due_date >= $%d AND due_date < $%d", len(args)-1, len(args))
	}
	query += " ORDER BY credit_id, installment_number"
	if page.Size > 0 {
		args = append(args, page.Size, page.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var result []*models.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

func (r *InstallmentRepository) Update(ctx context.Context, inst *models.Installment) error {
	query := `
		UPDATE installments
		SET late_fee = $1, total_amount = $2, paid_amount = $3, status = $4, days_past_due = $5,
			paid_at = $6, reminder_sent_at = $7, payment_ids = $8, version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $9 AND version = $10`
	res, err := r.db.ExecContext(ctx, query, inst.LateFee, inst.TotalAmount, inst.PaidAmount,
		inst.Status, inst.DaysPastDue, inst.PaidAt, inst.ReminderSentAt,
		pq.Array(inst.PaymentIDs), inst.ID, inst.Version)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, inst.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: installment %d version %d", repository.ErrConflict, inst.ID, inst.Version)
	}
	inst.Version++
	return nil
}

func scanInstallment(row rowScanner) (*models.Installment, error) {
	inst := &models.Installment{}
	var (
		paidAt, reminderAt sql.NullTime
		paymentIDs         pq.Int64Array
	)
	err := row.Scan(&inst.ID, &inst.CreditID, &inst.InstitutionID, &inst.Number, &inst.DueDate,
		&inst.Amount, &inst.Principal, &inst.Interest, &inst.LateFee, &inst.TotalAmount,
		&inst.PaidAmount, &inst.Status, &inst.DaysPastDue, &paidAt, &reminderAt,
		&paymentIDs, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inst.PaidAt = timePtr(paidAt)
	inst.ReminderSentAt = timePtr(reminderAt)
	inst.PaymentIDs = []int64(paymentIDs)
	return inst, nil
}

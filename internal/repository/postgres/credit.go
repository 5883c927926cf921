package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/repository"
)

type CreditRepository struct {
	db *sql.DB
}

func NewCreditRepository(db *sql.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

const creditColumns = `id, client_id, institution_id, amount, approved_amount, interest_rate,
	term, monthly_payment, total_payable, total_paid, status, purpose, notes,
	requested_at, approved_at, approved_by, rejected_at, rejected_by, rejection_reason,
	disbursed_at, disbursement_method, created_at, updated_at`

func (r *CreditRepository) Create(ctx context.Context, credit *models.Credit) error {
	query := `
		INSERT INTO credits (client_id, institution_id, amount, approved_amount, interest_rate,
			term, monthly_payment, total_payable, total_paid, status, purpose, notes,
			requested_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, credit.ClientID, credit.InstitutionID, credit.Amount,
		credit.ApprovedAmount, credit.InterestRate, credit.Term, credit.MonthlyPayment,
		credit.TotalPayable, credit.TotalPaid, credit.Status, credit.Purpose, credit.Notes,
		credit.RequestedAt).
		Scan(&credit.ID, &credit.CreatedAt, &credit.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create credit: %w", err)
	}
	return nil
}

func (r *CreditRepository) GetByID(ctx context.Context, id int64) (*models.Credit, error) {
	query := `SELECT ` + creditColumns + ` FROM credits WHERE id = $1`
	credit, err := scanCredit(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: credit %d", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credit: %w", err)
	}
	return credit, nil
}

func (r *CreditRepository) Update(ctx context.Context, credit *models.Credit) error {
	query := `
		UPDATE credits
		SET approved_amount = $1, interest_rate = $2, monthly_payment = $3, total_payable = $4,
			status = $5, notes = $6, approved_at = $7, approved_by = $8, rejected_at = $9,
			rejected_by = $10, rejection_reason = $11, disbursed_at = $12,
			disbursement_method = $13, updated_at = CURRENT_TIMESTAMP
		WHERE id = $14`
	res, err := r.db.ExecContext(ctx, query, credit.ApprovedAmount, credit.InterestRate,
		credit.MonthlyPayment, credit.TotalPayable, credit.Status, credit.Notes,
		credit.ApprovedAt, credit.ApprovedBy, credit.RejectedAt, credit.RejectedBy,
		credit.RejectionReason, credit.DisbursedAt, string(credit.DisbursementMethod), credit.ID)
	if err != nil {
		return fmt.Errorf("failed to update credit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: credit %d", repository.ErrNotFound, credit.ID)
	}
	return nil
}

func (r *CreditRepository) Find(ctx context.Context, filter repository.CreditFilter, page repository.Page) ([]*models.Credit, error) {
	query := `SELECT ` + creditColumns + ` FROM credits WHERE 1=1`
	args := []interface{}{}
	if filter.InstitutionID != 0 {
		args = append(args, filter.InstitutionID)
		query += fmt.Sprintf(" AND institution_id = $%d", len(args))
	}
	if filter.ClientID != 0 {
		args = append(args, filter.ClientID)
		query += fmt.Sprintf(" AND client_id = $%d", len(args))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	query += " ORDER BY id"
	if page.Size > 0 {
		args = append(args, page.Size, page.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credits: %w", err)
	}
	defer rows.Close()

	var result []*models.Credit
	for rows.Next() {
		credit, err := scanCredit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credit: %w", err)
		}
		result = append(result, credit)
	}
	return result, rows.Err()
}

func (r *CreditRepository) UpdateStatusIf(ctx context.Context, id int64, from, to models.CreditStatus) error {
	query := `
		UPDATE credits
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to transition credit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: credit %d is not %s", repository.ErrConflict, id, from)
	}
	return nil
}

func (r *CreditRepository) UpdateIf(ctx context.Context, credit *models.Credit, expect models.CreditStatus) error {
	query := `
		UPDATE credits
		SET approved_amount = $1, interest_rate = $2, monthly_payment = $3, total_payable = $4,
			status = $5, notes = $6, approved_at = $7, approved_by = $8, rejected_at = $9,
			rejected_by = $10, rejection_reason = $11, disbursed_at = $12,
			disbursement_method = $13, updated_at = CURRENT_TIMESTAMP
		WHERE id = $14 AND status = $15`
	res, err := r.db.ExecContext(ctx, query, credit.ApprovedAmount, credit.InterestRate,
		credit.MonthlyPayment, credit.TotalPayable, credit.Status, credit.Notes,
		credit.ApprovedAt, credit.ApprovedBy, credit.RejectedAt, credit.RejectedBy,
		credit.RejectionReason, credit.DisbursedAt, string(credit.DisbursementMethod),
		credit.ID, string(expect))
	if err != nil {
		return fmt.Errorf("failed to update credit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, credit.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: credit %d is not %s", repository.ErrConflict, credit.ID, expect)
	}
	return nil
}

func (r *CreditRepository) AddToTotalPaid(ctx context.Context, id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `
		UPDATE credits
		SET total_paid = total_paid + $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
		RETURNING total_paid`
	err := r.db.QueryRowContext(ctx, query, amount, id).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: credit %d", repository.ErrNotFound, id)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to add to total paid: %w", err)
	}
	return total, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCredit(row rowScanner) (*models.Credit, error) {
	credit := &models.Credit{}
	var (
		approvedAt, rejectedAt, disbursedAt sql.NullTime
		approvedBy, rejectedBy              sql.NullInt64
		rejectionReason, method, notes      sql.NullString
	)
	err := row.Scan(&credit.ID, &credit.ClientID, &credit.InstitutionID, &credit.Amount,
		&credit.ApprovedAmount, &credit.InterestRate, &credit.Term, &credit.MonthlyPayment,
		&credit.TotalPayable, &credit.TotalPaid, &credit.Status, &credit.Purpose, &notes,
		&credit.RequestedAt, &approvedAt, &approvedBy, &rejectedAt, &rejectedBy,
		&rejectionReason, &disbursedAt, &method, &credit.CreatedAt, &credit.UpdatedAt)
	if err != nil {
		return nil, err
	}
	credit.Notes = notes.String
	credit.ApprovedAt = timePtr(approvedAt)
	credit.ApprovedBy = approvedBy.Int64
	credit.RejectedAt = timePtr(rejectedAt)
	credit.RejectedBy = rejectedBy.Int64
	credit.RejectionReason = rejectionReason.String
	credit.DisbursedAt = timePtr(disbursedAt)
	credit.DisbursementMethod = models.DisbursementMethod(method.String)
	return credit, nil
}

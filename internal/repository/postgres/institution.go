package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/repository"
)

type InstitutionRepository struct {
	db *sql.DB
}

func NewInstitutionRepository(db *sql.DB) *InstitutionRepository {
	return &InstitutionRepository{db: db}
}

func (r *InstitutionRepository) Create(ctx context.Context, inst *models.Institution) error {
	query := `
		INSERT INTO institutions (name, email, phone, currency, min_loan_amount, max_loan_amount,
			default_interest_rate, late_fee_percentage, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, inst.Name, inst.Email, inst.Phone, inst.Currency,
		inst.MinLoanAmount, inst.MaxLoanAmount, inst.DefaultInterestRate, inst.LateFeePercentage, inst.IsActive).
		Scan(&inst.ID, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create institution: %w", err)
	}
	return nil
}

func (r *InstitutionRepository) GetByID(ctx context.Context, id int64) (*models.Institution, error) {
	inst := &models.Institution{}
	query := `
		SELECT id, name, email, phone, currency, min_loan_amount, max_loan_amount,
			default_interest_rate, late_fee_percentage, is_active, created_at, updated_at
		FROM institutions
		WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&inst.ID, &inst.Name, &inst.Email, &inst.Phone, &inst.Currency,
		&inst.MinLoanAmount, &inst.MaxLoanAmount, &inst.DefaultInterestRate,
		&inst.LateFeePercentage, &inst.IsActive, &inst.CreatedAt, &inst.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: institution %d", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find institution: %w", err)
	}
	return inst, nil
}

func (r *InstitutionRepository) Update(ctx context.Context, inst *models.Institution) error {
	query := `
		UPDATE institutions
		SET name = $1, email = $2, phone = $3, currency = $4, min_loan_amount = $5,
			max_loan_amount = $6, default_interest_rate = $7, late_fee_percentage = $8,
			is_active = $9, updated_at = CURRENT_TIMESTAMP
		WHERE id = $10`
	res, err := r.db.ExecContext(ctx, query, inst.Name, inst.Email, inst.Phone, inst.Currency,
		inst.MinLoanAmount, inst.MaxLoanAmount, inst.DefaultInterestRate, inst.LateFeePercentage,
		inst.IsActive, inst.ID)
	if err != nil {
		return fmt.Errorf("failed to update institution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: institution %d", repository.ErrNotFound, inst.ID)
	}
	return nil
}

func (r *InstitutionRepository) ListActive(ctx context.Context) ([]*models.Institution, error) {
	query := `
		SELECT id, name, email, phone, currency, min_loan_amount, max_loan_amount,
			default_interest_rate, late_fee_percentage, is_active, created_at, updated_at
		FROM institutions
		WHERE is_active
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list institutions: %w", err)
	}
	defer rows.Close()

	var result []*models.Institution
	for rows.Next() {
		inst := &models.Institution{}
		if err := rows.Scan(&inst.ID, &inst.Name, &inst.Email, &inst.Phone, &inst.Currency,
			&inst.MinLoanAmount, &inst.MaxLoanAmount, &inst.DefaultInterestRate,
			&inst.LateFeePercentage, &inst.IsActive, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan institution: %w", err)
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

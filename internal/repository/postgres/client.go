package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/repository"
)

type ClientRepository struct {
	db *sql.DB
}

func NewClientRepository(db *sql.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

func (r *ClientRepository) Create(ctx context.Context, client *models.Client) error {
	query := `
		INSERT INTO clients (institution_id, name, email, phone, is_verified, credit_score,
			risk_profile, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, client.InstitutionID, client.Name, client.Email,
		client.Phone, client.IsVerified, client.CreditScore, client.RiskProfile).
		Scan(&client.ID, &client.CreatedAt, &client.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

func (r *ClientRepository) GetByID(ctx context.Context, id int64) (*models.Client, error) {
	client := &models.Client{}
	query := `
		SELECT id, institution_id, name, email, phone, is_verified, credit_score,
			risk_profile, created_at, updated_at
		FROM clients
		WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&client.ID, &client.InstitutionID, &client.Name, &client.Email, &client.Phone,
		&client.IsVerified, &client.CreditScore, &client.RiskProfile,
		&client.CreatedAt, &client.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: client %d", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find client: %w", err)
	}
	return client, nil
}

func (r *ClientRepository) Update(ctx context.Context, client *models.Client) error {
	query := `
		UPDATE clients
		SET name = $1, email = $2, phone = $3, is_verified = $4, credit_score = $5,
			risk_profile = $6, updated_at = CURRENT_TIMESTAMP
		WHERE id = $7`
	res, err := r.db.ExecContext(ctx, query, client.Name, client.Email, client.Phone,
		client.IsVerified, client.CreditScore, client.RiskProfile, client.ID)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: client %d", repository.ErrNotFound, client.ID)
	}
	return nil
}

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (institution_id, name, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, user.InstitutionID, user.Name, user.Email,
		user.PasswordHash, user.Role).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s", repository.ErrDuplicate, user.Email)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, institution_id, name, email, password_hash, role, created_at
		FROM users
		WHERE lower(email) = lower($1)`
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.InstitutionID, &user.Name, &user.Email, &user.PasswordHash,
		&user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", repository.ErrNotFound, email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

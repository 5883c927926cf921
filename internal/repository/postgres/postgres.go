// Package postgres implements the repository interfaces on PostgreSQL
// via lib/pq.
package postgres

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/mozlend/microcredit/internal/repository"
)

var (
	_ repository.InstitutionRepository  = (*InstitutionRepository)(nil)
	_ repository.ClientRepository       = (*ClientRepository)(nil)
	_ repository.UserRepository         = (*UserRepository)(nil)
	_ repository.CreditRepository       = (*CreditRepository)(nil)
	_ repository.InstallmentRepository  = (*InstallmentRepository)(nil)
	_ repository.PaymentRepository      = (*PaymentRepository)(nil)
	_ repository.NotificationRepository = (*NotificationRepository)(nil)
)

// isUniqueViolation reports whether err is a PostgreSQL unique
// constraint violation.
func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

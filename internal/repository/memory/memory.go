// Package memory provides mutex-guarded in-memory implementations of
// the repository interfaces, used by tests and local development.
package memory

import (
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

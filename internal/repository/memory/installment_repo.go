package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mozlend/microcredit/internal/clock"
	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/repository"
)

type InstallmentRepository struct {
	mu           sync.RWMutex
	installments map[int64]*models.Installment
	nextID       int64
}

func NewInstallmentRepository() *InstallmentRepository {
	return &InstallmentRepository{installments: make(map[int64]*models.Installment), nextID: 1}
}

func (r *InstallmentRepository) CreateBatch(ctx context.Context, installments []*models.Installment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, inst := range installments {
		inst.ID = r.nextID
		r.nextID++
		inst.Version = 1
		inst.CreatedAt = now
		inst.UpdatedAt = now

		stored := cloneInstallment(inst)
		r.installments[inst.ID] = stored
	}
	return nil
}

func (r *InstallmentRepository) GetByID(ctx context.Context, id int64) (*models.Installment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.installments[id]
	if !ok {
		return nil, fmt.Errorf("%w: installment %d", repository.ErrNotFound, id)
	}
	return cloneInstallment(inst), nil
}

func (r *InstallmentRepository) Find(ctx context.Context, filter repository.InstallmentFilter, page repository.Page) ([]*models.Installment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.Installment
	for _, inst := range r.installments {
		if filter.InstitutionID != 0 && inst.InstitutionID != filter.InstitutionID {
			continue
		}
		if filter.CreditID != 0 && inst.CreditID != filter.CreditID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsInstallmentStatus(filter.Statuses, inst.Status) {
			continue
		}
		if filter.DueBefore != nil && !inst.DueDate.Before(*filter.DueBefore) {
			continue
		}
		if filter.DueOn != nil && !clock.Midnight(inst.DueDate).Equal(clock.Midnight(*filter.DueOn)) {
			continue
		}
		matched = append(matched, cloneInstallment(inst))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreditID != matched[j].CreditID {
			return matched[i].CreditID < matched[j].CreditID
		}
		return matched[i].Number < matched[j].Number
	})
	if page.Size <= 0 {
		return matched, nil
	}
	offset := page.Offset()
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + page.Size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (r *InstallmentRepository) Update(ctx context.Context, inst *models.Installment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.installments[inst.ID]
	if !ok {
		return fmt.Errorf("%w: installment %d", repository.ErrNotFound, inst.ID)
	}
	if stored.Version != inst.Version {
		return fmt.Errorf("%w: installment %d version %d", repository.ErrConflict, inst.ID, inst.Version)
	}
	inst.Version++
	inst.UpdatedAt = time.Now()
	r.installments[inst.ID] = cloneInstallment(inst)
	return nil
}

func containsInstallmentStatus(statuses []models.InstallmentStatus, s models.InstallmentStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func cloneInstallment(inst *models.Installment) *models.Installment {
	out := *inst
	if inst.PaymentIDs != nil {
		out.PaymentIDs = append([]int64(nil), inst.PaymentIDs...)
	}
	return &out
}

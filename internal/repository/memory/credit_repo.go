package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/repository"
)

type CreditRepository struct {
	mu      sync.RWMutex
	credits map[int64]*models.Credit
	nextID  int64
}

func NewCreditRepository() *CreditRepository {
	return &CreditRepository{credits: make(map[int64]*models.Credit), nextID: 1}
}

func (r *CreditRepository) Create(ctx context.Context, credit *models.Credit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	credit.ID = r.nextID
	r.nextID++
	credit.CreatedAt = time.Now()
	credit.UpdatedAt = credit.CreatedAt

	stored := *credit
	r.credits[credit.ID] = &stored
	return nil
}

func (r *CreditRepository) GetByID(ctx context.Context, id int64) (*models.Credit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	credit, ok := r.credits[id]
	if !ok {
		return nil, fmt.Errorf("%w: credit %d", repository.ErrNotFound, id)
	}
	out := *credit
	return &out, nil
}

func (r *CreditRepository) Update(ctx context.Context, credit *models.Credit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.credits[credit.ID]; !ok {
		return fmt.Errorf("%w: credit %d", repository.ErrNotFound, credit.ID)
	}
	credit.UpdatedAt = time.Now()
	stored := *credit
	r.credits[credit.ID] = &stored
	return nil
}

func (r *CreditRepository) Find(ctx context.Context, filter repository.CreditFilter, page repository.Page) ([]*models.Credit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.Credit
	for _, credit := range r.credits {
		if filter.InstitutionID != 0 && credit.InstitutionID != filter.InstitutionID {
			continue
		}
		if filter.ClientID != 0 && credit.ClientID != filter.ClientID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsCreditStatus(filter.Statuses, credit.Status) {
			continue
		}
		out := *credit
		matched = append(matched, &out)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return paginateCredits(matched, page), nil
}

func (r *CreditRepository) UpdateStatusIf(ctx context.Context, id int64, from, to models.CreditStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	credit, ok := r.credits[id]
	if !ok {
		return fmt.Errorf("%w: credit %d", repository.ErrNotFound, id)
	}
	if credit.Status != from {
		return fmt.Errorf("%w: credit %d is %s, not %s", repository.ErrConflict, id, credit.Status, from)
	}
	credit.Status = to
	credit.UpdatedAt = time.Now()
	return nil
}

func (r *CreditRepository) UpdateIf(ctx context.Context, credit *models.Credit, expect models.CreditStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.credits[credit.ID]
	if !ok {
		return fmt.Errorf("%w: credit %d", repository.ErrNotFound, credit.ID)
	}
	if stored.Status != expect {
		return fmt.Errorf("%w: credit %d is %s, not %s", repository.ErrConflict, credit.ID, stored.Status, expect)
	}
	credit.UpdatedAt = time.Now()
	next := *credit
	r.credits[credit.ID] = &next
	return nil
}

func (r *CreditRepository) AddToTotalPaid(ctx context.Context, id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	credit, ok := r.credits[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: credit %d", repository.ErrNotFound, id)
	}
	credit.TotalPaid = models.Money(credit.TotalPaid.Add(amount))
	credit.UpdatedAt = time.Now()
	return credit.TotalPaid, nil
}

func containsCreditStatus(statuses []models.CreditStatus, s models.CreditStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func paginateCredits(credits []*models.Credit, page repository.Page) []*models.Credit {
	if page.Size <= 0 {
		return credits
	}
	offset := page.Offset()
	if offset >= len(credits) {
		return nil
	}
	end := offset + page.Size
	if end > len(credits) {
		end = len(credits)
	}
	return credits[offset:end]
}

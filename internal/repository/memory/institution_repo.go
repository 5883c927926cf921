package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/repository"
)

type InstitutionRepository struct {
	mu           sync.RWMutex
	institutions map[int64]*models.Institution
	nextID       int64
}

func NewInstitutionRepository() *InstitutionRepository {
	return &InstitutionRepository{institutions: make(map[int64]*models.Institution), nextID: 1}
}

func (r *InstitutionRepository) Create(ctx context.Context, inst *models.Institution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst.ID = r.nextID
	r.nextID++
	inst.CreatedAt = time.Now()
	inst.UpdatedAt = inst.CreatedAt

	stored := *inst
	r.institutions[inst.ID] = &stored
	return nil
}

func (r *InstitutionRepository) GetByID(ctx context.Context, id int64) (*models.Institution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.institutions[id]
	if !ok {
		return nil, fmt.Errorf("%w: institution %d", repository.ErrNotFound, id)
	}
	out := *inst
	return &out, nil
}

func (r *InstitutionRepository) Update(ctx context.Context, inst *models.Institution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.institutions[inst.ID]; !ok {
		return fmt.Errorf("%w: institution %d", repository.ErrNotFound, inst.ID)
	}
	inst.UpdatedAt = time.Now()
	stored := *inst
	r.institutions[inst.ID] = &stored
	return nil
}

func (r *InstitutionRepository) ListActive(ctx context.Context) ([]*models.Institution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Institution
	for _, inst := range r.institutions {
		if inst.IsActive {
			out := *inst
			result = append(result, &out)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

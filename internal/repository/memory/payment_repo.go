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

type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[int64]*models.Payment
	// refIndex enforces transaction reference uniqueness per
	// institution: "institutionID|ref" -> payment ID.
	refIndex map[string]int64
	nextID   int64
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		payments: make(map[int64]*models.Payment),
		refIndex: make(map[string]int64),
		nextID:   1,
	}
}

func refKey(institutionID int64, ref string) string {
	return fmt.Sprintf("%d|%s", institutionID, ref)
}

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := refKey(payment.InstitutionID, payment.TransactionRef)
	if _, exists := r.refIndex[key]; exists {
		return fmt.Errorf("%w: transaction %s", repository.ErrDuplicate, payment.TransactionRef)
	}

	payment.ID = r.nextID
	r.nextID++
	payment.CreatedAt = time.Now()

	stored := *payment
	r.payments[payment.ID] = &stored
	r.refIndex[key] = payment.ID
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*models.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: payment %d", repository.ErrNotFound, id)
	}
	out := *payment
	return &out, nil
}

func (r *PaymentRepository) GetByTransactionRef(ctx context.Context, ref string) (*models.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, payment := range r.payments {
		if payment.TransactionRef == ref {
			out := *payment
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: transaction %s", repository.ErrNotFound, ref)
}

func (r *PaymentRepository) Update(ctx context.Context, payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[payment.ID]; !ok {
		return fmt.Errorf("%w: payment %d", repository.ErrNotFound, payment.ID)
	}
	stored := *payment
	r.payments[payment.ID] = &stored
	return nil
}

func (r *PaymentRepository) UpdateIf(ctx context.Context, payment *models.Payment, expect models.PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.payments[payment.ID]
	if !ok {
		return fmt.Errorf("%w: payment %d", repository.ErrNotFound, payment.ID)
	}
	if stored.Status != expect {
		return fmt.Errorf("%w: payment %d is %s, not %s", repository.ErrConflict, payment.ID, stored.Status, expect)
	}
	next := *payment
	r.payments[payment.ID] = &next
	return nil
}

func (r *PaymentRepository) ListByCredit(ctx context.Context, creditID int64, page repository.Page) ([]*models.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.Payment
	for _, payment := range r.payments {
		if payment.CreditID == creditID {
			out := *payment
			matched = append(matched, &out)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
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

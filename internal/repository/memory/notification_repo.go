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

type NotificationRepository struct {
	mu            sync.RWMutex
	notifications map[int64]*models.Notification
	nextID        int64
}

func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{notifications: make(map[int64]*models.Notification), nextID: 1}
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n.ID = r.nextID
	r.nextID++
	n.CreatedAt = time.Now()

	stored := *n
	r.notifications[n.ID] = &stored
	return nil
}

func (r *NotificationRepository) ListByClient(ctx context.Context, clientID int64, page repository.Page) ([]*models.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.Notification
	for _, n := range r.notifications {
		if n.ClientID == clientID {
			out := *n
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

func (r *NotificationRepository) MarkRead(ctx context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok {
		return fmt.Errorf("%w: notification %d", repository.ErrNotFound, id)
	}
	n.IsRead = true
	n.ReadAt = &at
	return nil
}

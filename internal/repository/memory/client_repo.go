package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/repository"
)

type ClientRepository struct {
	mu      sync.RWMutex
	clients map[int64]*models.Client
	nextID  int64
}

func NewClientRepository() *ClientRepository {
	return &ClientRepository{clients: make(map[int64]*models.Client), nextID: 1}
}

func (r *ClientRepository) Create(ctx context.Context, client *models.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	client.ID = r.nextID
	r.nextID++
	client.CreatedAt = time.Now()
	client.UpdatedAt = client.CreatedAt

	stored := *client
	r.clients[client.ID] = &stored
	return nil
}

func (r *ClientRepository) GetByID(ctx context.Context, id int64) (*models.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: client %d", repository.ErrNotFound, id)
	}
	out := *client
	return &out, nil
}

func (r *ClientRepository) Update(ctx context.Context, client *models.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[client.ID]; !ok {
		return fmt.Errorf("%w: client %d", repository.ErrNotFound, client.ID)
	}
	client.UpdatedAt = time.Now()
	stored := *client
	r.clients[client.ID] = &stored
	return nil
}

type UserRepository struct {
	mu     sync.RWMutex
	users  map[int64]*models.User
	nextID int64
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[int64]*models.User), nextID: 1}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			return fmt.Errorf("%w: user %s", repository.ErrDuplicate, user.Email)
		}
	}

	user.ID = r.nextID
	r.nextID++
	user.CreatedAt = time.Now()

	stored := *user
	r.users[user.ID] = &stored
	return nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			out := *u
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: user %s", repository.ErrNotFound, email)
}

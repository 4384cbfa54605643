package users

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// MemoryRepository keeps identities in process memory. It is safe for
// concurrent use; user name uniqueness is enforced under the same lock as
// the insert.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]*models.User
	byName map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*models.User),
		byName: make(map[string]string),
	}
}

// seedFile is the YAML layout accepted by LoadMemoryRepository.
type seedFile struct {
	Users []models.User `yaml:"users"`
}

// LoadMemoryRepository builds a MemoryRepository seeded from a YAML file:
//
//	users:
//	  - id: 7f0c...        # optional, generated when empty
//	    username: alice
//	    password_hash: $argon2id$v=19$...
func LoadMemoryRepository(path string) (*MemoryRepository, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}

	repo := NewMemoryRepository()
	for i := range f.Users {
		u := f.Users[i]
		if u.UserName == "" || u.PasswordHash == "" {
			return nil, fmt.Errorf("users file entry %d: %w", i, common.ErrorValidation)
		}
		if _, err := repo.Create(context.Background(), &u); err != nil {
			return nil, fmt.Errorf("users file entry %d (%s): %w", i, u.UserName, err)
		}
	}
	return repo, nil
}

func (r *MemoryRepository) Create(_ context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[user.UserName]; taken {
		return nil, common.ErrorAlreadyExists
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if _, taken := r.byID[user.ID]; taken {
		return nil, common.ErrorAlreadyExists
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	stored := *user
	r.byID[stored.ID] = &stored
	r.byName[stored.UserName] = stored.ID

	return user, nil
}

func (r *MemoryRepository) GetUserByLogin(_ context.Context, login string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[login]
	if !ok {
		return nil, common.ErrorNotFound
	}
	u := *r.byID[id]
	return &u, nil
}

func (r *MemoryRepository) GetUserByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	u := *stored
	return &u, nil
}

// Delete removes an identity. Only the tests and admin tooling use it; the
// auth flows never delete identities.
func (r *MemoryRepository) Delete(_ context.Context, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byName, u.UserName)
	delete(r.byID, id)
	return true
}

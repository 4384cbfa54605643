package refreshtokens

import (
	"context"
	"errors"
	"sync"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

var errTokenCollision = errors.New("refresh token collision")

// MemoryRepository keeps records in a mutex-guarded map with a per-user
// index. Records are copied in and out, so callers never share state with
// the store.
type MemoryRepository struct {
	settings

	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
	byUser map[string][]string
}

func NewMemoryRepository(opts ...Option) *MemoryRepository {
	return &MemoryRepository{
		settings: newSettings(opts),
		tokens:   make(map[string]*models.RefreshToken),
		byUser:   make(map[string][]string),
	}
}

func (r *MemoryRepository) Create(_ context.Context, userID string, tokenID string) (*models.RefreshToken, error) {
	rec, err := r.newRecord(userID, tokenID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.insertLocked(rec); err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

func (r *MemoryRepository) FindByToken(_ context.Context, token string) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	out := *rec
	return &out, nil
}

func (r *MemoryRepository) MarkUsed(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tokens[token]
	if !ok {
		return false, nil
	}
	rec.Used = true
	return true, nil
}

func (r *MemoryRepository) Invalidate(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tokens[token]
	if !ok {
		return false, nil
	}
	rec.Invalidated = true
	return true, nil
}

func (r *MemoryRepository) InvalidateAllForIdentity(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, token := range r.byUser[userID] {
		r.tokens[token].Invalidated = true
	}
	return nil
}

func (r *MemoryRepository) Rotate(_ context.Context, token string, userID string, tokenID string) (*models.RefreshToken, error) {
	next, err := r.newRecord(userID, tokenID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.tokens[token]
	if !ok || old.UserID != userID || !old.IsLive(r.now()) {
		return nil, common.ErrRefreshTokenNotLive
	}
	if err := r.insertLocked(next); err != nil {
		return nil, err
	}
	old.Used = true

	out := *next
	return &out, nil
}

func (r *MemoryRepository) insertLocked(rec *models.RefreshToken) error {
	if _, exists := r.tokens[rec.Token]; exists {
		return errTokenCollision
	}
	r.tokens[rec.Token] = rec
	r.byUser[rec.UserID] = append(r.byUser[rec.UserID], rec.Token)
	return nil
}

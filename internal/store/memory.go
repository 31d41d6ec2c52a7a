package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/otpgate/apiserver/types"
)

// MemoryStore keeps users and activity records in process memory. It backs
// STORE_BACKEND=memory and the package tests of its callers.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]types.User
	activity map[string]types.ActivityRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]types.User),
		activity: make(map[string]types.ActivityRecord),
	}
}

// Users returns the user repository view of the store.
func (m *MemoryStore) Users() *MemoryUserRepository {
	return &MemoryUserRepository{m: m}
}

// Activity returns the activity repository view of the store.
func (m *MemoryStore) Activity() *MemoryActivityRepository {
	return &MemoryActivityRepository{m: m}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

type MemoryUserRepository struct {
	m *MemoryStore
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	user, ok := r.m.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, user := range r.m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, ErrNotFound
}

func (r *MemoryUserRepository) ListByRole(ctx context.Context, role types.Role) ([]types.User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	users := make([]types.User, 0)
	for _, user := range r.m.users {
		if user.Role == role {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

func (r *MemoryUserRepository) List(ctx context.Context) ([]types.User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	users := make([]types.User, 0, len(r.m.users))
	for _, user := range r.m.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (r *MemoryUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.users {
		if existing.Email == user.Email {
			return types.User{}, ErrConflict
		}
	}
	user.ID = uuid.NewString()
	r.m.users[user.ID] = user
	return user, nil
}

func (r *MemoryUserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.users[user.ID]; !ok {
		return types.User{}, ErrNotFound
	}
	for id, existing := range r.m.users {
		if id != user.ID && existing.Email == user.Email {
			return types.User{}, ErrConflict
		}
	}
	r.m.users[user.ID] = user
	return user, nil
}

func (r *MemoryUserRepository) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.users[id]; !ok {
		return ErrNotFound
	}
	delete(r.m.users, id)
	return nil
}

type MemoryActivityRepository struct {
	m *MemoryStore
}

func (r *MemoryActivityRepository) Upsert(ctx context.Context, record types.ActivityRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.activity[record.DocumentID] = record
	return nil
}

func (r *MemoryActivityRepository) Insert(ctx context.Context, record types.ActivityRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.activity[record.DocumentID]; ok {
		return ErrConflict
	}
	r.m.activity[record.DocumentID] = record
	return nil
}

func (r *MemoryActivityRepository) MaxSequence(ctx context.Context, activityType types.ActivityType, username string) (int64, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var max int64
	for _, record := range r.m.activity {
		if record.Type != activityType || record.Username != username || record.SequenceNumber == nil {
			continue
		}
		if *record.SequenceNumber > max {
			max = *record.SequenceNumber
		}
	}
	return max, nil
}

func (r *MemoryActivityRepository) List(ctx context.Context) ([]types.ActivityRecord, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	records := make([]types.ActivityRecord, 0, len(r.m.activity))
	for _, record := range r.m.activity {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].DocumentID < records[j].DocumentID })
	return records, nil
}

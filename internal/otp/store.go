package otp

import (
	"sync"
	"time"

	"github.com/otpgate/apiserver/types"
)

// Pending is an issued, not yet consumed code.
type Pending struct {
	Email     string
	Code      string
	ExpiresAt time.Time
}

// Store holds pending codes and staged sign-up data keyed by email.
// Implementations must be safe for concurrent use.
type Store interface {
	PutCode(p Pending)
	Code(email string) (Pending, bool)
	DeleteCode(email string)
	// PurgeExpired removes every pending code that expired before now,
	// along with the password and role staged for the same email.
	PurgeExpired(now time.Time)

	PutPassword(email, hash string)
	Password(email string) (string, bool)
	DeletePassword(email string)

	PutRole(email string, role types.Role)
	Role(email string) (types.Role, bool)
	DeleteRole(email string)
}

// MemoryStore is a process-local Store. Its contents do not survive a
// restart and are not shared between instances.
type MemoryStore struct {
	mu        sync.Mutex
	codes     map[string]Pending
	passwords map[string]string
	roles     map[string]types.Role
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes:     make(map[string]Pending),
		passwords: make(map[string]string),
		roles:     make(map[string]types.Role),
	}
}

func (s *MemoryStore) PutCode(p Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[p.Email] = p
}

func (s *MemoryStore) Code(email string) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.codes[email]
	return p, ok
}

func (s *MemoryStore) DeleteCode(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, email)
}

func (s *MemoryStore) PurgeExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for email, p := range s.codes {
		if now.After(p.ExpiresAt) {
			delete(s.codes, email)
			delete(s.passwords, email)
			delete(s.roles, email)
		}
	}
}

func (s *MemoryStore) PutPassword(email, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[email] = hash
}

func (s *MemoryStore) Password(email string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.passwords[email]
	return hash, ok
}

func (s *MemoryStore) DeletePassword(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.passwords, email)
}

func (s *MemoryStore) PutRole(email string, role types.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[email] = role
}

func (s *MemoryStore) Role(email string) (types.Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[email]
	return role, ok
}

func (s *MemoryStore) DeleteRole(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, email)
}

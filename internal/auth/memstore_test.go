package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store used by service and handler tests.
type memStore struct {
	mu    sync.Mutex
	users map[string]User
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]User)}
}

func (m *memStore) Create(_ context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Email == user.Email {
			return ErrUserExists
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *memStore) GetByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (m *memStore) GetByRefreshToken(_ context.Context, token string, now time.Time) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.RefreshToken != nil && *user.RefreshToken == token &&
			user.RefreshTokenExpiry != nil && user.RefreshTokenExpiry.After(now) {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (m *memStore) List(_ context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]User, 0, len(m.users))
	for _, user := range m.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *memStore) Update(_ context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.users[user.ID]
	if !ok {
		return ErrUserNotFound
	}
	for id, existing := range m.users {
		if id != user.ID && existing.Email == user.Email {
			return ErrUserExists
		}
	}
	user.RefreshToken = current.RefreshToken
	user.RefreshTokenExpiry = current.RefreshTokenExpiry
	user.LastLogin = current.LastLogin
	user.CreatedAt = current.CreatedAt
	m.users[user.ID] = user
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memStore) SetRefreshToken(_ context.Context, userID, token string, expiry, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.RefreshToken = &token
	user.RefreshTokenExpiry = &expiry
	user.UpdatedAt = now
	m.users[userID] = user
	return nil
}

func (m *memStore) SwapRefreshToken(_ context.Context, userID, oldToken, newToken string, expiry, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok || user.RefreshToken == nil || *user.RefreshToken != oldToken {
		return ErrInvalidRefreshToken
	}
	user.RefreshToken = &newToken
	user.RefreshTokenExpiry = &expiry
	user.UpdatedAt = now
	m.users[userID] = user
	return nil
}

func (m *memStore) ClearRefreshToken(_ context.Context, token string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, user := range m.users {
		if user.RefreshToken != nil && *user.RefreshToken == token {
			user.RefreshToken = nil
			user.RefreshTokenExpiry = nil
			user.UpdatedAt = now
			m.users[id] = user
		}
	}
	return nil
}

func (m *memStore) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return nil
	}
	user.LastLogin = &at
	m.users[userID] = user
	return nil
}

func (m *memStore) UpsertAdmin(_ context.Context, admin User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, user := range m.users {
		if user.Email == admin.Email {
			user.PasswordHash = admin.PasswordHash
			user.Role = RoleAdmin
			user.IsActive = true
			m.users[id] = user
			return nil
		}
	}
	admin.UpdatedAt = admin.CreatedAt
	m.users[admin.ID] = admin
	return nil
}

func (m *memStore) setRole(id string, role Role) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user := m.users[id]
	user.Role = role
	m.users[id] = user
}

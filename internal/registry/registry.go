// Package registry keeps the set of registered users keyed by username.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Tyrowin/linechat/internal/chat"
	"github.com/Tyrowin/linechat/internal/uid"
)

var (
	// ErrAlreadyExists is returned when the username is already taken.
	ErrAlreadyExists = errors.New("username already taken")

	// ErrEmptyUsername is returned for blank usernames.
	ErrEmptyUsername = errors.New("username cannot be empty")
)

// Registry maps usernames to users. At most one user exists per username;
// membership test and insert happen under the same lock.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]chat.User
	ids    *uid.Generator
	logger *slog.Logger
}

// New creates an empty registry that stamps users with ids.
func New(ids *uid.Generator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		users:  make(map[string]chat.User),
		ids:    ids,
		logger: logger,
	}
}

// Register creates a user for username. It fails with ErrAlreadyExists if
// the name is held by someone else.
func (r *Registry) Register(username string) (chat.User, error) {
	if strings.TrimSpace(username) == "" {
		return chat.User{}, ErrEmptyUsername
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[username]; exists {
		return chat.User{}, fmt.Errorf("%q: %w", username, ErrAlreadyExists)
	}

	user := chat.User{ID: r.ids.Generate(), Username: username}
	r.users[username] = user

	r.logger.Info("user registered", "user", username, "uid", user.ID.Int64(), "total", len(r.users))
	return user, nil
}

// IsRegistered reports whether username is currently taken.
func (r *Registry) IsRegistered(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.users[username]
	return exists
}

// Lookup returns the user registered under username.
func (r *Registry) Lookup(username string) (chat.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, exists := r.users[username]
	return user, exists
}

// Remove frees username. Removing an unknown name is a no-op.
func (r *Registry) Remove(username string) {
	r.mu.Lock()
	_, existed := r.users[username]
	delete(r.users, username)
	remaining := len(r.users)
	r.mu.Unlock()

	if existed {
		r.logger.Info("user removed", "user", username, "total", remaining)
	}
}

// Users returns a snapshot of every registered user in no particular order.
func (r *Registry) Users() []chat.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]chat.User, 0, len(r.users))
	for _, user := range r.users {
		users = append(users, user)
	}
	return users
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

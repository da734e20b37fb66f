package registry_test

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/linechat/internal/registry"
	"github.com/Tyrowin/linechat/internal/uid"
)

func newRegistry() *registry.Registry {
	return registry.New(uid.NewGenerator(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegister(t *testing.T) {
	r := newRegistry()

	user, err := r.Register("alice")
	require.NoError(t, err)

	assert.Equal(t, "alice", user.Username)
	assert.NotZero(t, user.ID)
	assert.True(t, r.IsRegistered("alice"))
	assert.Equal(t, 1, r.Len())
}

func TestRegisterRejects(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		username string
		wantErr  error
	}{
		{"duplicate", []string{"alice"}, "alice", registry.ErrAlreadyExists},
		{"empty", nil, "", registry.ErrEmptyUsername},
		{"blank", nil, "   ", registry.ErrEmptyUsername},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry()
			for _, name := range tt.existing {
				_, err := r.Register(name)
				require.NoError(t, err)
			}

			_, err := r.Register(tt.username)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, len(tt.existing), r.Len())
		})
	}
}

func TestRegisterIsCaseSensitive(t *testing.T) {
	r := newRegistry()

	_, err := r.Register("alice")
	require.NoError(t, err)
	_, err = r.Register("Alice")

	assert.NoError(t, err)
}

func TestRegisterSameNameConcurrently(t *testing.T) {
	r := newRegistry()

	const attempts = 64
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := r.Register("bob")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if assert.ErrorIs(t, err, registry.ErrAlreadyExists) {
				rejected++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, rejected)
	assert.Len(t, r.Users(), 1)
}

func TestLookup(t *testing.T) {
	r := newRegistry()
	registered, err := r.Register("carol")
	require.NoError(t, err)

	found, ok := r.Lookup("carol")
	require.True(t, ok)
	assert.Equal(t, registered, found)

	_, ok = r.Lookup("dave")
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	r := newRegistry()
	_, err := r.Register("erin")
	require.NoError(t, err)

	r.Remove("erin")
	assert.False(t, r.IsRegistered("erin"))

	// Removing again, or removing an unknown name, is harmless.
	r.Remove("erin")
	r.Remove("nobody")

	_, err = r.Register("erin")
	assert.NoError(t, err, "name is free again after removal")
}

func TestUsersSnapshot(t *testing.T) {
	r := newRegistry()
	for i := 0; i < 5; i++ {
		_, err := r.Register(fmt.Sprintf("user-%d", i))
		require.NoError(t, err)
	}

	users := r.Users()
	r.Remove("user-0")

	assert.Len(t, users, 5, "snapshot is not affected by later removals")
	assert.Equal(t, 4, r.Len())

	seen := make(map[uid.ID]bool)
	for _, u := range users {
		assert.False(t, seen[u.ID], "ids are unique")
		seen[u.ID] = true
	}
}

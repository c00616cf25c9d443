package webhook

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/kursadbilgin/taskflow/internal/domain"
)

const (
	defaultDirectorySize = 1024
	defaultDirectoryTTL  = time.Minute
)

// UserLookup loads users by id.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// CachedDirectory keeps recently resolved recipients and actors so a burst
// of notifications for the same user does not hit the database each time.
// Entries expire quickly; names and emails in envelopes may lag by the TTL.
type CachedDirectory struct {
	users UserLookup
	cache *expirable.LRU[string, domain.User]
}

func NewCachedDirectory(users UserLookup, size int, ttl time.Duration) *CachedDirectory {
	if size <= 0 {
		size = defaultDirectorySize
	}
	if ttl <= 0 {
		ttl = defaultDirectoryTTL
	}
	return &CachedDirectory{
		users: users,
		cache: expirable.NewLRU[string, domain.User](size, nil, ttl),
	}
}

func (d *CachedDirectory) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if user, ok := d.cache.Get(id); ok {
		return &user, nil
	}

	user, err := d.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	cached := *user
	// Secrets never live in the cache.
	cached.PasswordHash = ""
	cached.RefreshJTI = nil
	cached.RefreshExpiresAt = nil
	d.cache.Add(id, cached)
	return &cached, nil
}

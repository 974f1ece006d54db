package policy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/diewo77/go-heatcrm/internal/models"
	"gorm.io/gorm"
)

// Subject is what authorization needs to know about a user.
type Subject struct {
	Role   models.UserRole
	Active bool
}

// Resolver looks up a user. A missing user resolves to an inactive Subject.
type Resolver interface {
	Resolve(ctx context.Context, userID uint) (Subject, error)
}

type DBResolver struct {
	DB *gorm.DB
}

func NewDBResolver(db *gorm.DB) *DBResolver { return &DBResolver{DB: db} }

func (r *DBResolver) Resolve(ctx context.Context, userID uint) (Subject, error) {
	var u models.User
	err := r.DB.WithContext(ctx).Select("id", "role", "is_active").First(&u, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Subject{}, nil
	}
	if err != nil {
		return Subject{}, err
	}
	return Subject{Role: u.Role, Active: u.IsActive}, nil
}

// CachedResolver wraps a Resolver with TTL-based caching so the user row is
// not read on every request.
type CachedResolver struct {
	inner Resolver
	cache map[uint]cacheEntry
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	subject   Subject
	expiresAt time.Time
}

func NewCachedResolver(inner Resolver, ttl time.Duration) *CachedResolver {
	return &CachedResolver{
		inner: inner,
		cache: make(map[uint]cacheEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (r *CachedResolver) Resolve(ctx context.Context, userID uint) (Subject, error) {
	r.mu.RLock()
	entry, ok := r.cache[userID]
	r.mu.RUnlock()
	if ok && r.now().Before(entry.expiresAt) {
		return entry.subject, nil
	}

	s, err := r.inner.Resolve(ctx, userID)
	if err != nil {
		return Subject{}, err
	}
	r.mu.Lock()
	r.cache[userID] = cacheEntry{subject: s, expiresAt: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return s, nil
}

// Invalidate drops one user; call it when a role or active flag changes.
func (r *CachedResolver) Invalidate(userID uint) {
	r.mu.Lock()
	delete(r.cache, userID)
	r.mu.Unlock()
}

func (r *CachedResolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[uint]cacheEntry)
	r.mu.Unlock()
}

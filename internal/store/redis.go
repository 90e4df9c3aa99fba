package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/vidqueue/internal/cache"
)

// CacheBackend persists values in the shared cache. Redis enforces a memory
// ceiling, so a value larger than maxValueBytes, or one Redis refuses with an
// OOM reply, is reported as ErrQuotaExceeded.
type CacheBackend struct {
	cache         cache.Cache
	maxValueBytes int
}

// NewCacheBackend creates a CacheBackend. maxValueBytes <= 0 disables the
// size check.
func NewCacheBackend(c cache.Cache, maxValueBytes int) *CacheBackend {
	return &CacheBackend{cache: c, maxValueBytes: maxValueBytes}
}

func (b *CacheBackend) Ping(ctx context.Context) error {
	return b.cache.Ping(ctx)
}

func (b *CacheBackend) Save(ctx context.Context, key string, value []byte) error {
	if b.maxValueBytes > 0 && len(value) > b.maxValueBytes {
		return fmt.Errorf("%w: %d bytes over limit of %d", ErrQuotaExceeded, len(value), b.maxValueBytes)
	}
	if err := b.cache.Set(ctx, cache.StateKey(key), value, 0); err != nil {
		if strings.HasPrefix(err.Error(), "OOM ") {
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (b *CacheBackend) Load(ctx context.Context, key string) ([]byte, bool, error) {
	value, found, err := b.cache.Get(ctx, cache.StateKey(key))
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", key, err)
	}
	return value, found, nil
}

var _ Persistence = (*CacheBackend)(nil)

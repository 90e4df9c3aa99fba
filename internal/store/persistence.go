package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ShedFunc strips large optional fields from a value that did not fit. It
// reports false when there was nothing left to remove.
type ShedFunc func(value []byte) ([]byte, bool)

type quotaFallback struct {
	Persistence
	shed ShedFunc
}

// WithQuotaFallback wraps p so that a save rejected with ErrQuotaExceeded is
// retried once with the value passed through shed.
func WithQuotaFallback(p Persistence, shed ShedFunc) Persistence {
	return &quotaFallback{Persistence: p, shed: shed}
}

func (q *quotaFallback) Save(ctx context.Context, key string, value []byte) error {
	err := q.Persistence.Save(ctx, key, value)
	if !errors.Is(err, ErrQuotaExceeded) {
		return err
	}

	shed, changed := q.shed(value)
	if !changed {
		return err
	}
	slog.Warn("storage quota exceeded, retrying without embedded images",
		"key", key, "bytes", len(value), "shed_bytes", len(shed))
	return q.Persistence.Save(ctx, key, shed)
}

// ShedEmbeddedImages removes inline data URI images from a JSON array of
// jobs. Image URLs that point elsewhere are small and kept.
func ShedEmbeddedImages(value []byte) ([]byte, bool) {
	result := gjson.ParseBytes(value)
	if !result.IsArray() {
		return value, false
	}

	out := value
	changed := false
	i := 0
	result.ForEach(func(_, job gjson.Result) bool {
		img := job.Get("image")
		if img.Type == gjson.String && strings.HasPrefix(img.Str, "data:") {
			stripped, err := sjson.DeleteBytes(out, fmt.Sprintf("%d.image", i))
			if err == nil {
				out = stripped
				changed = true
			}
		}
		i++
		return true
	})
	return out, changed
}

// Memory keeps values in process memory. A positive MaxValueBytes rejects
// larger values with ErrQuotaExceeded.
type Memory struct {
	MaxValueBytes int

	mu     sync.Mutex
	values map[string][]byte
}

// NewMemory creates an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) Save(_ context.Context, key string, value []byte) error {
	if m.MaxValueBytes > 0 && len(value) > m.MaxValueBytes {
		return fmt.Errorf("%w: %d bytes over limit of %d", ErrQuotaExceeded, len(value), m.MaxValueBytes)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Ping(_ context.Context) error { return nil }

func loadJSON(ctx context.Context, p Persistence, key string, dst any) (bool, error) {
	raw, ok, err := p.Load(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: load %s: %v", ErrPersistence, key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", ErrPersistence, key, err)
	}
	return true, nil
}

func saveJSON(ctx context.Context, p Persistence, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrPersistence, key, err)
	}
	if err := p.Save(ctx, key, raw); err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrPersistence, key, err)
	}
	return nil
}

var (
	_ Persistence = (*Memory)(nil)
	_ Persistence = (*quotaFallback)(nil)
)

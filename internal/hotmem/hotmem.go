// Package hotmem implements the TTL key-value tier (spec §4.3). A
// HotBackend is chosen at construction time: a Redis-backed
// implementation when a usable URL is supplied and its PING succeeds
// within a short timeout, otherwise an in-process fallback with
// identical observable behaviour. Grounded directly on the teacher's
// internal/daemon/redis_wisp_store.go (namespace/TTL option pattern,
// JSON value encoding).
package hotmem

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corticore/fabric/internal/ferrors"
)

const (
	defaultNamespace = "fabric"
	probeTimeout      = 2 * time.Second
)

// HotBackend is the behaviour every hot-tier implementation must provide.
type HotBackend interface {
	Create(ctx context.Context, key string, value any, expiry time.Duration) (bool, error)
	Read(ctx context.Context, key string) (any, bool, error)
	Update(ctx context.Context, key string, value any, expiry time.Duration) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	ListKeys(ctx context.Context, pattern string) ([]string, error)
	Increment(ctx context.Context, key string, amount float64) (float64, bool, error)
	Close() error
}

// Store is the public hot-memory tier, wrapping whichever HotBackend was
// selected at construction.
type Store struct {
	backend HotBackend
}

// Option configures New.
type Option func(*options)

type options struct {
	namespace string
	ttl       time.Duration
}

// WithNamespace sets the backend key prefix.
func WithNamespace(ns string) Option {
	return func(o *options) {
		if ns != "" {
			o.namespace = ns
		}
	}
}

// WithDefaultTTL sets the TTL applied when a caller does not specify one.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// New selects a backend: redisURL is probed with a short PING; on success
// a Redis-backed store is used. When redisURL is empty, unparsable or
// unreachable, the in-process fallback engages and the caller gets no
// error. This mirrors spec §4.3's backend policy:
// "prefer an external cache when its ping succeeds ... otherwise fall
// back to an in-process map with identical semantics."
func New(redisURL string, opts ...Option) *Store {
	o := &options{namespace: defaultNamespace, ttl: 0}
	for _, opt := range opts {
		opt(o)
	}

	if redisURL != "" {
		if b, err := newRedisBackend(redisURL, o.namespace, o.ttl); err == nil {
			return &Store{backend: b}
		}
	}
	return &Store{backend: newMemoryBackend(o.ttl)}
}

// NewWithBackend wraps an already-constructed backend (used by tests and
// by the memory manager when it wants to force a specific backend).
func NewWithBackend(b HotBackend) *Store {
	return &Store{backend: b}
}

func (s *Store) Create(ctx context.Context, key string, value any, expiry time.Duration) (bool, error) {
	return s.backend.Create(ctx, key, value, expiry)
}

func (s *Store) Read(ctx context.Context, key string) (any, bool, error) {
	return s.backend.Read(ctx, key)
}

func (s *Store) Update(ctx context.Context, key string, value any, expiry time.Duration) (bool, error) {
	return s.backend.Update(ctx, key, value, expiry)
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	return s.backend.Delete(ctx, key)
}

func (s *Store) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	return s.backend.ListKeys(ctx, pattern)
}

func (s *Store) Increment(ctx context.Context, key string, amount float64) (float64, bool, error) {
	return s.backend.Increment(ctx, key, amount)
}

func (s *Store) Close() error {
	return s.backend.Close()
}

// --- Redis backend -----------------------------------------------------

type redisBackend struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

func newRedisBackend(url, namespace string, ttl time.Duration) (HotBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("hotmem: invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("hotmem: redis ping failed: %w", err)
	}

	return &redisBackend{client: client, namespace: namespace, ttl: ttl}, nil
}

func (b *redisBackend) key(k string) string { return b.namespace + ":hot:" + k }

func (b *redisBackend) Create(ctx context.Context, key string, value any, expiry time.Duration) (bool, error) {
	exists, err := b.client.Exists(ctx, b.key(key)).Result()
	if err != nil {
		return false, ferrors.Wrap("hotmem.redis.Create", ferrors.ErrBackend, err)
	}
	if exists > 0 {
		return false, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return false, ferrors.Wrap("hotmem.redis.Create", ferrors.ErrBackend, err)
	}
	if expiry <= 0 {
		expiry = b.ttl
	}
	if err := b.client.Set(ctx, b.key(key), data, expiry).Err(); err != nil {
		return false, ferrors.Wrap("hotmem.redis.Create", ferrors.ErrBackend, err)
	}
	return true, nil
}

func (b *redisBackend) Read(ctx context.Context, key string) (any, bool, error) {
	data, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ferrors.Wrap("hotmem.redis.Read", ferrors.ErrBackend, err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false, ferrors.Wrap("hotmem.redis.Read", ferrors.ErrBackend, err)
	}
	return v, true, nil
}

func (b *redisBackend) Update(ctx context.Context, key string, value any, expiry time.Duration) (bool, error) {
	exists, err := b.client.Exists(ctx, b.key(key)).Result()
	if err != nil {
		return false, ferrors.Wrap("hotmem.redis.Update", ferrors.ErrBackend, err)
	}
	if exists == 0 {
		return false, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return false, ferrors.Wrap("hotmem.redis.Update", ferrors.ErrBackend, err)
	}
	ttl := expiry
	if ttl <= 0 {
		ttl, err = b.client.TTL(ctx, b.key(key)).Result()
		if err != nil || ttl < 0 {
			ttl = b.ttl
		}
	}
	if err := b.client.Set(ctx, b.key(key), data, ttl).Err(); err != nil {
		return false, ferrors.Wrap("hotmem.redis.Update", ferrors.ErrBackend, err)
	}
	return true, nil
}

func (b *redisBackend) Delete(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Del(ctx, b.key(key)).Result()
	if err != nil {
		return false, ferrors.Wrap("hotmem.redis.Delete", ferrors.ErrBackend, err)
	}
	return n > 0, nil
}

func (b *redisBackend) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	prefix := b.namespace + ":hot:"
	iter := b.client.Scan(ctx, 0, prefix+pattern, 0).Iterator()
	var out []string
	for iter.Next(ctx) {
		out = append(out, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, ferrors.Wrap("hotmem.redis.ListKeys", ferrors.ErrBackend, err)
	}
	return out, nil
}

func (b *redisBackend) Increment(ctx context.Context, key string, amount float64) (float64, bool, error) {
	v, err := b.client.IncrByFloat(ctx, b.key(key), amount).Result()
	if err != nil {
		return 0, false, ferrors.Wrap("hotmem.redis.Increment", ferrors.ErrBackend, err)
	}
	return v, true, nil
}

func (b *redisBackend) Close() error {
	return b.client.Close()
}

// --- In-process fallback backend ---------------------------------------

type memEntry struct {
	value    any
	expireAt time.Time // zero means no expiry
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && e.expireAt.Before(now)
}

type memoryBackend struct {
	mu        sync.Mutex
	data      map[string]memEntry
	defaultTTL time.Duration
	stop      chan struct{}
}

func newMemoryBackend(defaultTTL time.Duration) *memoryBackend {
	b := &memoryBackend{data: make(map[string]memEntry), defaultTTL: defaultTTL, stop: make(chan struct{})}
	go b.sweepLoop()
	return b
}

func (b *memoryBackend) sweepLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case now := <-ticker.C:
			b.mu.Lock()
			for k, e := range b.data {
				if e.expired(now) {
					delete(b.data, k)
				}
			}
			b.mu.Unlock()
		}
	}
}

func (b *memoryBackend) Create(_ context.Context, key string, value any, expiry time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.data[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	b.data[key] = b.entry(value, expiry)
	return true, nil
}

func (b *memoryBackend) Read(_ context.Context, key string) (any, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.data[key]
	if !ok || e.expired(time.Now()) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (b *memoryBackend) Update(_ context.Context, key string, value any, expiry time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.data[key]
	if !ok || e.expired(time.Now()) {
		return false, nil
	}
	if expiry <= 0 {
		expiry = time.Until(e.expireAt)
		if e.expireAt.IsZero() {
			expiry = 0
		}
	}
	b.data[key] = b.entry(value, expiry)
	return true, nil
}

func (b *memoryBackend) Delete(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.data[key]
	if !ok || e.expired(time.Now()) {
		return false, nil
	}
	delete(b.data, key)
	return true, nil
}

func (b *memoryBackend) ListKeys(_ context.Context, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	var out []string
	for k, e := range b.data {
		if e.expired(now) {
			continue
		}
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, ferrors.Wrap("hotmem.memory.ListKeys", ferrors.ErrBackend, err)
		}
		if ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (b *memoryBackend) Increment(_ context.Context, key string, amount float64) (float64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.data[key]
	var current float64
	if ok && !e.expired(time.Now()) {
		f, isFloat := e.value.(float64)
		if !isFloat {
			return 0, false, ferrors.Wrap("hotmem.memory.Increment", ferrors.ErrBackend, fmt.Errorf("value at %q is not numeric", key))
		}
		current = f
	}
	next := current + amount
	b.data[key] = b.entry(next, ttlOf(e, ok))
	return next, true, nil
}

func ttlOf(e memEntry, ok bool) time.Duration {
	if !ok || e.expireAt.IsZero() {
		return 0
	}
	return time.Until(e.expireAt)
}

func (b *memoryBackend) entry(value any, expiry time.Duration) memEntry {
	if expiry <= 0 {
		expiry = b.defaultTTL
	}
	if expiry <= 0 {
		return memEntry{value: value}
	}
	return memEntry{value: value, expireAt: time.Now().Add(expiry)}
}

func (b *memoryBackend) Close() error {
	close(b.stop)
	return nil
}

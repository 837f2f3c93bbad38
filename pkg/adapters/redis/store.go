package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by this package.
const DefaultPrefix = "patchbay:"

// Store implements ports.DeclarationStore using Redis, so replicas sharing a
// prefix also share the declared topology. Every save bumps a version counter
// and is announced on the updates channel.
type Store struct {
	client *backend.Client
	prefix string
	// saved is the last version written through this Store.
	saved atomic.Int64
}

var _ ports.DeclarationStore = (*Store)(nil)

type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Client exposes the underlying client, e.g. to share it with a Locker.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) topologyKey() string { return s.prefix + "topology" }
func (s *Store) versionKey() string  { return s.prefix + "version" }

// UpdatesChannel is the pub/sub channel announcing new versions.
func (s *Store) UpdatesChannel() string { return s.prefix + "updates" }

// Save persists the declaration and announces the new version.
func (s *Store) Save(ctx context.Context, decl *domain.Declaration) error {
	data, err := json.Marshal(decl)
	if err != nil {
		return fmt.Errorf("failed to marshal declaration: %w", err)
	}

	var version *backend.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Set(ctx, s.topologyKey(), data, 0)
		version = pipe.Incr(ctx, s.versionKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	s.saved.Store(version.Val())

	if err := s.client.Publish(ctx, s.UpdatesChannel(), version.Val()).Err(); err != nil {
		return fmt.Errorf("failed to announce topology version: %w", err)
	}
	return nil
}

// Load retrieves the declaration from Redis.
func (s *Store) Load(ctx context.Context) (*domain.Declaration, error) {
	val, err := s.client.Get(ctx, s.topologyKey()).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrDeclarationNotFound
		}
		return nil, fmt.Errorf("failed to load from redis: %w", err)
	}

	decl := domain.NewDeclaration()
	if err := json.Unmarshal(val, decl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal declaration: %w", err)
	}
	return decl, nil
}

// Version returns the number of saves so far (0 if none).
func (s *Store) Version(ctx context.Context) (int64, error) {
	v, err := s.client.Get(ctx, s.versionKey()).Int64()
	if errors.Is(err, backend.Nil) {
		return 0, nil
	}
	return v, err
}

// Subscribe calls fn with every version announced by another Store until ctx
// is done. The topology and its version are written together, so a version
// not newer than the last one saved here has already been overwritten and is
// skipped too.
func (s *Store) Subscribe(ctx context.Context, fn func(version string)) error {
	sub := s.client.Subscribe(ctx, s.UpdatesChannel())
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if v, err := strconv.ParseInt(msg.Payload, 10, 64); err == nil && v <= s.saved.Load() {
				continue
			}
			fn(msg.Payload)
		}
	}
}

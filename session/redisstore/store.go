// Package redisstore persists session records in Redis so several processes
// on a host (or containers sharing a Redis) see the same login.
package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jrsteele09/go-elearn-client/session"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Repo stores each record as a JSON string under <prefix><name>.
type Repo struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ session.Repo = (*Repo)(nil)

// Option configures a Repo.
type Option func(*Repo)

// WithKeyPrefix namespaces the keys (default "elearn:").
func WithKeyPrefix(prefix string) Option {
	return func(r *Repo) {
		r.prefix = prefix
	}
}

// WithTTL expires idle records. Zero keeps them until deleted.
func WithTTL(ttl time.Duration) Option {
	return func(r *Repo) {
		r.ttl = ttl
	}
}

func New(client redis.UniversalClient, options ...Option) (*Repo, error) {
	if client == nil {
		return nil, errors.New("[redisstore.New] redis client is required")
	}
	r := &Repo{
		client: client,
		prefix: "elearn:",
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// Key returns the Redis key a record name maps to.
func (r *Repo) Key(name string) string {
	return r.prefix + name
}

func (r *Repo) Load(ctx context.Context, name string) (*session.Record, error) {
	raw, err := r.client.Get(ctx, r.Key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrRecordNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[redisstore.Load] GET")
	}

	record := &session.Record{}
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, errors.Wrapf(err, "[redisstore.Load] corrupt record %s", name)
	}
	return record, nil
}

func (r *Repo) Save(ctx context.Context, name string, record *session.Record) error {
	if record == nil {
		return errors.New("[redisstore.Save] record cannot be nil")
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "[redisstore.Save] json.Marshal")
	}
	if err := r.client.Set(ctx, r.Key(name), raw, r.ttl).Err(); err != nil {
		return errors.Wrap(err, "[redisstore.Save] SET")
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, r.Key(name)).Err(); err != nil {
		return errors.Wrap(err, "[redisstore.Delete] DEL")
	}
	return nil
}

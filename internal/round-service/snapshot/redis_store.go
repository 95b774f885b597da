package snapshot

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Store é o destino durável do blob de snapshot
type Store interface {
	Save(ctx context.Context, blob []byte) error
	Load(ctx context.Context) ([]byte, error)
}

// RedisStore guarda o blob sob uma única chave, sem TTL
type RedisStore struct {
	Client *redis.Client
	Key    string
}

func NewRedisStore(c *redis.Client, key string) *RedisStore {
	return &RedisStore{Client: c, Key: key}
}

func (s *RedisStore) Save(ctx context.Context, blob []byte) error {
	return s.Client.Set(ctx, s.Key, blob, 0).Err()
}

// Load retorna ErrMissingSnapshot quando a chave não existe
func (s *RedisStore) Load(ctx context.Context) ([]byte, error) {
	b, err := s.Client.Get(ctx, s.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMissingSnapshot
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

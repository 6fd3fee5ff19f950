package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound means no record exists for the identifier. The engine
	// maps this to enumeration-safe responses; it never reaches callers.
	ErrNotFound = errors.New("credential record not found")
	// ErrUnavailable indicates the backing store is unreachable.
	ErrUnavailable = errors.New("credential store unavailable")
	// ErrConflict is returned when an atomic update keeps losing races.
	ErrConflict = errors.New("credential record update conflict")
)

// Store is the persistence boundary for credential records. Update must be
// atomic with respect to concurrent mutations of the same identifier so
// failed-attempt counting cannot under-count lockout triggers.
type Store interface {
	Get(ctx context.Context, identifier string) (*Record, error)
	Put(ctx context.Context, record *Record) error
	// Update applies mutate to the current record under an atomic
	// read-modify-write and returns the stored result. mutate returning
	// an error aborts the update and propagates unchanged.
	Update(ctx context.Context, identifier string, mutate func(*Record) error) (*Record, error)

	// SaveResetToken indexes a hashed member reset token back to its
	// identifier for the token's lifetime.
	SaveResetToken(ctx context.Context, tokenHash, identifier string, ttl time.Duration) error
	// ConsumeResetToken resolves and deletes the index entry in one step,
	// so a token can be spent at most once.
	ConsumeResetToken(ctx context.Context, tokenHash string) (string, error)
}

// RedisStore persists credential records in Redis. Records are stored as
// JSON under <prefix>:cred:<identifier>; reset-token index entries live
// under <prefix>:rst:<tokenHash> with a TTL matching the challenge.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a credential store on the given client. An empty
// prefix defaults to "sm".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "sm"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(identifier string) string {
	return s.prefix + ":cred:" + identifier
}

func (s *RedisStore) tokenKey(tokenHash string) string {
	return s.prefix + ":rst:" + tokenHash
}

func (s *RedisStore) Get(ctx context.Context, identifier string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(identifier)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decodeRecord(data)
}

func (s *RedisStore) Put(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(record.Identifier), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, identifier string, mutate func(*Record) error) (*Record, error) {
	const maxRetries = 4
	key := s.key(identifier)

	for i := 0; i < maxRetries; i++ {
		var updated *Record

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeRecord(data)
			if err != nil {
				return err
			}
			if err := mutate(record); err != nil {
				return err
			}

			encoded, err := json.Marshal(record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			if err != nil {
				return err
			}

			updated = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		return updated, nil
	}

	return nil, ErrConflict
}

func (s *RedisStore) SaveResetToken(ctx context.Context, tokenHash, identifier string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.tokenKey(tokenHash), identifier, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) ConsumeResetToken(ctx context.Context, tokenHash string) (string, error) {
	identifier, err := s.redis.GetDel(ctx, s.tokenKey(tokenHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return identifier, nil
}

func decodeRecord(data []byte) (*Record, error) {
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode credential record: %w", err)
	}
	return &record, nil
}

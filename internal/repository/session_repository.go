package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/osvaldoandrade/pfmea/internal/metrics"
	"github.com/osvaldoandrade/pfmea/pkg/domain"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrInProgress is returned by Lock when the session already has an active run.
var ErrInProgress = errors.New("submission already in progress")

const maxUpdateRetries = 8

type SessionRepository interface {
	Get(ctx context.Context, sessionID string) (domain.State, error)
	Save(ctx context.Context, sessionID string, state domain.State) error
	// Update applies fn to the current state atomically. When fn returns an
	// error nothing is written and the error is passed through.
	Update(ctx context.Context, sessionID string, fn func(domain.State) (domain.State, error)) (domain.State, error)
	Lock(ctx context.Context, sessionID string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, sessionID string, token string) error
	// Locked reports whether a run lock is currently held for the session.
	Locked(ctx context.Context, sessionID string) (bool, error)
	ProcessingCount(ctx context.Context) (int64, error)
}

type sessionRedisRepo struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionRepository(rdb *redis.Client, ttl time.Duration) SessionRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &sessionRedisRepo{rdb: rdb, ttl: ttl}
}

// ===== Redis keys =====
func (r *sessionRedisRepo) keyState(id string) string { return fmt.Sprintf("pfmea:session:%s", id) }
func (r *sessionRedisRepo) keyLock(id string) string  { return fmt.Sprintf("pfmea:session:%s:lock", id) }
func (r *sessionRedisRepo) keyProcessing() string     { return metrics.KeyProcessingSessions }

func (r *sessionRedisRepo) Get(ctx context.Context, sessionID string) (domain.State, error) {
	return r.get(ctx, r.rdb, sessionID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *sessionRedisRepo) get(ctx context.Context, c getter, sessionID string) (domain.State, error) {
	raw, err := c.Get(ctx, r.keyState(sessionID)).Bytes()
	if err == redis.Nil {
		return domain.Idle{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET session: %w", err)
	}
	st, err := domain.UnmarshalState(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	return st, nil
}

func (r *sessionRedisRepo) write(ctx context.Context, pipe redis.Pipeliner, sessionID string, state domain.State) error {
	b, err := domain.MarshalState(state)
	if err != nil {
		return err
	}
	pipe.Set(ctx, r.keyState(sessionID), b, r.ttl)
	if state != nil && state.Phase() == domain.PhaseProcessing {
		pipe.SAdd(ctx, r.keyProcessing(), sessionID)
	} else {
		pipe.SRem(ctx, r.keyProcessing(), sessionID)
	}
	return nil
}

func (r *sessionRedisRepo) Save(ctx context.Context, sessionID string, state domain.State) error {
	var encodeErr error
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		encodeErr = r.write(ctx, pipe, sessionID, state)
		return encodeErr
	})
	if encodeErr != nil {
		return encodeErr
	}
	if err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}

func (r *sessionRedisRepo) Update(ctx context.Context, sessionID string, fn func(domain.State) (domain.State, error)) (domain.State, error) {
	key := r.keyState(sessionID)
	var next domain.State
	var fnErr error

	txf := func(tx *redis.Tx) error {
		cur, err := r.get(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		next, fnErr = fn(cur)
		if fnErr != nil {
			return fnErr
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.write(ctx, pipe, sessionID, next)
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if err == nil {
			return next, nil
		}
		if fnErr != nil {
			return nil, fnErr
		}
		if err == redis.TxFailedErr {
			continue
		}
		return nil, fmt.Errorf("redis update session: %w", err)
	}
	return nil, fmt.Errorf("redis update session: too much contention")
}

// Lock takes the per-session run lock. The returned token must be passed to
// Unlock; the lock also expires on its own after ttl.
func (r *sessionRedisRepo) Lock(ctx context.Context, sessionID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, r.keyLock(sessionID), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis SETNX lock: %w", err)
	}
	if !ok {
		return "", ErrInProgress
	}
	return token, nil
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (r *sessionRedisRepo) Unlock(ctx context.Context, sessionID string, token string) error {
	if err := unlockScript.Run(ctx, r.rdb, []string{r.keyLock(sessionID)}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis unlock: %w", err)
	}
	return nil
}

func (r *sessionRedisRepo) Locked(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.keyLock(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS lock: %w", err)
	}
	return n > 0, nil
}

func (r *sessionRedisRepo) ProcessingCount(ctx context.Context) (int64, error) {
	return r.rdb.SCard(ctx, r.keyProcessing()).Result()
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"terminal-payment-backend/internal/domains/terminal/model"
)

const (
	sessionKeyPrefix      = "terminal:session:"
	sessionAliasKeyPrefix = "terminal:session_alias:"
	sessionTxKeyPrefix    = "terminal:session_tx:"
	sessionsRecentKey     = "terminal:sessions_recent"

	maxOptimisticRetries = 10
)

// getter is satisfied by both *redis.Client and *redis.Tx
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisSessionStore shares sessions between API and worker instances.
// Read-modify-write runs in WATCH/MULTI transactions retried on conflict.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration, opts ...Option) *RedisSessionStore {
	o := buildOptions(opts)
	return &RedisSessionStore{client: client, ttl: ttl, now: o.now}
}

func sessionKey(invoice string) string { return sessionKeyPrefix + invoice }
func aliasKey(paymentID string) string { return sessionAliasKeyPrefix + paymentID }
func txKey(transactionID string) string { return sessionTxKeyPrefix + transactionID }

func (s *RedisSessionStore) Save(ctx context.Context, session *model.PaymentSession) error {
	stored := session.Clone()
	stored.Key = session.InvoiceNumber
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = s.now()
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if tx := stored.ExternalTransactionID; tx != "" {
		if err := s.claimTransaction(ctx, tx, stored.Key); err != nil {
			return err
		}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(stored.Key), raw, s.ttl)
		pipe.Set(ctx, aliasKey(stored.PaymentID.String()), stored.Key, s.ttl)
		pipe.ZAdd(ctx, sessionsRecentKey, redis.Z{Score: float64(stored.StartedAt.UnixNano()), Member: stored.Key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session %s: %w", stored.Key, err)
	}
	return nil
}

// claimTransaction binds tx to invoice unless a live session already owns it
func (s *RedisSessionStore) claimTransaction(ctx context.Context, tx, invoice string) error {
	ok, err := s.client.SetNX(ctx, txKey(tx), invoice, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("bind transaction %s: %w", tx, err)
	}
	if ok {
		return nil
	}

	owner, err := s.client.Get(ctx, txKey(tx)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("bind transaction %s: %w", tx, err)
	}
	if owner != invoice {
		if exists, _ := s.client.Exists(ctx, sessionKey(owner)).Result(); exists > 0 {
			return model.NewTransactionAlreadyBoundError(tx)
		}
	}
	return s.client.Set(ctx, txKey(tx), invoice, s.ttl).Err()
}

func (s *RedisSessionStore) Get(ctx context.Context, key string) (*model.PaymentSession, error) {
	invoice, err := s.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, s.client, invoice, key)
}

func (s *RedisSessionStore) GetByTransactionID(ctx context.Context, transactionID string) (*model.PaymentSession, error) {
	invoice, err := s.client.Get(ctx, txKey(transactionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, model.NewSessionNotFoundError(transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup transaction %s: %w", transactionID, err)
	}

	session, err := s.load(ctx, s.client, invoice, transactionID)
	if err != nil {
		return nil, err
	}
	if session.ExternalTransactionID != transactionID {
		return nil, model.NewSessionNotFoundError(transactionID)
	}
	return session, nil
}

func (s *RedisSessionStore) Update(ctx context.Context, key string, fn func(*model.PaymentSession) error) (*model.PaymentSession, error) {
	invoice, err := s.resolve(ctx, key)
	if err != nil {
		return nil, err
	}

	var result *model.PaymentSession
	txf := func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx, invoice, key)
		if err != nil {
			return err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.Key = current.Key
		next.InvoiceNumber = current.InvoiceNumber
		next.PaymentID = current.PaymentID
		next.UpdatedAt = s.now()

		newTx := next.ExternalTransactionID
		rebinding := newTx != "" && newTx != current.ExternalTransactionID
		if rebinding {
			if err := tx.Watch(ctx, txKey(newTx)).Err(); err != nil {
				return err
			}
			owner, err := tx.Get(ctx, txKey(newTx)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if owner != "" && owner != invoice {
				if exists, _ := tx.Exists(ctx, sessionKey(owner)).Result(); exists > 0 {
					return model.NewTransactionAlreadyBoundError(newTx)
				}
			}
		}

		raw, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sessionKey(invoice), raw, s.ttl)
			pipe.Expire(ctx, aliasKey(next.PaymentID.String()), s.ttl)
			if rebinding {
				if old := current.ExternalTransactionID; old != "" {
					pipe.Del(ctx, txKey(old))
				}
				pipe.Set(ctx, txKey(newTx), invoice, s.ttl)
			} else if newTx != "" {
				pipe.Expire(ctx, txKey(newTx), s.ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}

		result = next
		return nil
	}

	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		err = s.client.Watch(ctx, txf, sessionKey(invoice))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	return nil, fmt.Errorf("update session %s: too many concurrent writers", invoice)
}

func (s *RedisSessionStore) RecentOpen(ctx context.Context, since time.Time) ([]*model.PaymentSession, error) {
	invoices, err := s.client.ZRangeByScore(ctx, sessionsRecentKey, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since.UnixNano(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list recent sessions: %w", err)
	}

	var open []*model.PaymentSession
	for _, invoice := range invoices {
		session, err := s.load(ctx, s.client, invoice, invoice)
		if errors.Is(err, model.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if session.Status == model.StatusPending {
			open = append(open, session)
		}
	}
	return open, nil
}

// EvictExpired trims the recent index; key TTLs expire the sessions themselves
func (s *RedisSessionStore) EvictExpired(ctx context.Context) int {
	cutoff := s.now().Add(-s.ttl).UnixNano()
	removed, err := s.client.ZRemRangeByScore(ctx, sessionsRecentKey, "-inf", "("+strconv.FormatInt(cutoff, 10)).Result()
	if err != nil {
		return 0
	}
	return int(removed)
}

func (s *RedisSessionStore) resolve(ctx context.Context, key string) (string, error) {
	exists, err := s.client.Exists(ctx, sessionKey(key)).Result()
	if err != nil {
		return "", fmt.Errorf("lookup session %s: %w", key, err)
	}
	if exists > 0 {
		return key, nil
	}

	invoice, err := s.client.Get(ctx, aliasKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", model.NewSessionNotFoundError(key)
	}
	if err != nil {
		return "", fmt.Errorf("lookup session alias %s: %w", key, err)
	}
	return invoice, nil
}

func (s *RedisSessionStore) load(ctx context.Context, c getter, invoice, requested string) (*model.PaymentSession, error) {
	raw, err := c.Get(ctx, sessionKey(invoice)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, model.NewSessionNotFoundError(requested)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", invoice, err)
	}

	var session model.PaymentSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", invoice, err)
	}
	return &session, nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"terminal-payment-backend/internal/domains/terminal/model"
)

const (
	webhookKeyPrefix        = "terminal:webhook:"
	webhookInvoiceKeyPrefix = "terminal:webhook_invoice:"
	webhookLastKey          = "terminal:webhook_last"
)

// RedisWebhookCache is the multi-instance WebhookCache. Entry TTLs are
// enforced by Redis itself.
type RedisWebhookCache struct {
	client    *redis.Client
	recordTTL time.Duration
	markerTTL time.Duration
	now       func() time.Time
}

func NewRedisWebhookCache(client *redis.Client, recordTTL, markerTTL time.Duration, opts ...Option) *RedisWebhookCache {
	o := buildOptions(opts)
	return &RedisWebhookCache{client: client, recordTTL: recordTTL, markerTTL: markerTTL, now: o.now}
}

func (c *RedisWebhookCache) Record(ctx context.Context, rec *model.WebhookRecord) (*model.WebhookRecord, RecordOutcome, error) {
	cacheKey := rec.CacheKey()
	if cacheKey == "" {
		return nil, "", fmt.Errorf("webhook record has neither transaction id nor invoice")
	}
	key := webhookKeyPrefix + cacheKey

	var (
		merged  *model.WebhookRecord
		outcome RecordOutcome
	)

	txf := func(tx *redis.Tx) error {
		existing, err := c.load(ctx, tx, key)
		if err != nil {
			return err
		}

		merged, outcome = mergeRecord(existing, rec, c.now())
		raw, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode webhook record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if outcome == OutcomeStored {
				pipe.Set(ctx, key, raw, c.recordTTL)
			} else {
				pipe.SetArgs(ctx, key, raw, redis.SetArgs{KeepTTL: true})
			}
			if inv := merged.InvoiceNumber; inv != "" {
				pipe.SAdd(ctx, webhookInvoiceKeyPrefix+inv, cacheKey)
				pipe.Expire(ctx, webhookInvoiceKeyPrefix+inv, c.recordTTL)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		err := c.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("record webhook %s: %w", cacheKey, err)
		}
		return merged, outcome, nil
	}

	return nil, "", fmt.Errorf("record webhook %s: too many concurrent writers", cacheKey)
}

func (c *RedisWebhookCache) Get(ctx context.Context, key string) (*model.WebhookRecord, bool, error) {
	rec, err := c.load(ctx, c.client, webhookKeyPrefix+key)
	if err != nil {
		return nil, false, err
	}
	return rec, rec != nil, nil
}

func (c *RedisWebhookCache) FindCompletedByInvoice(ctx context.Context, invoice string, since time.Time) ([]*model.WebhookRecord, error) {
	keys, err := c.client.SMembers(ctx, webhookInvoiceKeyPrefix+invoice).Result()
	if err != nil {
		return nil, fmt.Errorf("list webhooks for %s: %w", invoice, err)
	}

	var matches []*model.WebhookRecord
	for _, k := range keys {
		rec, err := c.load(ctx, c.client, webhookKeyPrefix+k)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.Status != model.StatusCompleted || rec.InvoiceNumber != invoice || !rec.UpdatedAt.After(since) {
			continue
		}
		matches = append(matches, rec)
	}
	return matches, nil
}

func (c *RedisWebhookCache) SetLastCompleted(ctx context.Context, marker *model.LastCompletedMarker) error {
	copied := *marker
	if copied.RecordedAt.IsZero() {
		copied.RecordedAt = c.now()
	}

	raw, err := json.Marshal(copied)
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}
	return c.client.Set(ctx, webhookLastKey, raw, c.markerTTL).Err()
}

func (c *RedisWebhookCache) LastCompleted(ctx context.Context) (*model.LastCompletedMarker, bool, error) {
	raw, err := c.client.Get(ctx, webhookLastKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load marker: %w", err)
	}

	var marker model.LastCompletedMarker
	if err := json.Unmarshal(raw, &marker); err != nil {
		return nil, false, fmt.Errorf("decode marker: %w", err)
	}
	return &marker, true, nil
}

// EvictExpired is a no-op, Redis expires the keys
func (c *RedisWebhookCache) EvictExpired(context.Context) int { return 0 }

func (c *RedisWebhookCache) load(ctx context.Context, g getter, key string) (*model.WebhookRecord, error) {
	raw, err := g.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}

	var rec model.WebhookRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &rec, nil
}

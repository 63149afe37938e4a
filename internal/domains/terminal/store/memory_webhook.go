package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"terminal-payment-backend/internal/domains/terminal/model"
)

type webhookEntry struct {
	record    *model.WebhookRecord
	expiresAt time.Time
}

// MemoryWebhookCache is the single-instance WebhookCache
type MemoryWebhookCache struct {
	mu        sync.RWMutex
	records   map[string]*webhookEntry
	byInvoice map[string]map[string]struct{}

	marker          *model.LastCompletedMarker
	markerExpiresAt time.Time

	recordTTL time.Duration
	markerTTL time.Duration
	now       func() time.Time
}

func NewMemoryWebhookCache(recordTTL, markerTTL time.Duration, opts ...Option) *MemoryWebhookCache {
	o := buildOptions(opts)
	return &MemoryWebhookCache{
		records:   make(map[string]*webhookEntry),
		byInvoice: make(map[string]map[string]struct{}),
		recordTTL: recordTTL,
		markerTTL: markerTTL,
		now:       o.now,
	}
}

func (c *MemoryWebhookCache) Record(_ context.Context, rec *model.WebhookRecord) (*model.WebhookRecord, RecordOutcome, error) {
	key := rec.CacheKey()
	if key == "" {
		return nil, "", fmt.Errorf("webhook record has neither transaction id nor invoice")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var existing *model.WebhookRecord
	var expiresAt time.Time
	if entry, ok := c.records[key]; ok && now.Before(entry.expiresAt) {
		existing = entry.record
		expiresAt = entry.expiresAt
	}

	merged, outcome := mergeRecord(existing, rec, now)
	if outcome == OutcomeStored {
		expiresAt = now.Add(c.recordTTL)
	}

	c.records[key] = &webhookEntry{record: merged, expiresAt: expiresAt}
	if merged.InvoiceNumber != "" {
		keys, ok := c.byInvoice[merged.InvoiceNumber]
		if !ok {
			keys = make(map[string]struct{})
			c.byInvoice[merged.InvoiceNumber] = keys
		}
		keys[key] = struct{}{}
	}

	copied := *merged
	return &copied, outcome, nil
}

func (c *MemoryWebhookCache) Get(_ context.Context, key string) (*model.WebhookRecord, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.records[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false, nil
	}
	copied := *entry.record
	return &copied, true, nil
}

func (c *MemoryWebhookCache) FindCompletedByInvoice(_ context.Context, invoice string, since time.Time) ([]*model.WebhookRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	var matches []*model.WebhookRecord
	for key := range c.byInvoice[invoice] {
		entry, ok := c.records[key]
		if !ok || !now.Before(entry.expiresAt) {
			continue
		}
		rec := entry.record
		if rec.Status != model.StatusCompleted || rec.InvoiceNumber != invoice || !rec.UpdatedAt.After(since) {
			continue
		}
		copied := *rec
		matches = append(matches, &copied)
	}
	return matches, nil
}

func (c *MemoryWebhookCache) SetLastCompleted(_ context.Context, marker *model.LastCompletedMarker) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	copied := *marker
	if copied.RecordedAt.IsZero() {
		copied.RecordedAt = now
	}
	c.marker = &copied
	c.markerExpiresAt = now.Add(c.markerTTL)
	return nil
}

func (c *MemoryWebhookCache) LastCompleted(_ context.Context) (*model.LastCompletedMarker, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.marker == nil || !c.now().Before(c.markerExpiresAt) {
		return nil, false, nil
	}
	copied := *c.marker
	return &copied, true, nil
}

func (c *MemoryWebhookCache) EvictExpired(_ context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	evicted := 0
	for key, entry := range c.records {
		if now.Before(entry.expiresAt) {
			continue
		}
		delete(c.records, key)
		if inv := entry.record.InvoiceNumber; inv != "" {
			delete(c.byInvoice[inv], key)
			if len(c.byInvoice[inv]) == 0 {
				delete(c.byInvoice, inv)
			}
		}
		evicted++
	}

	if c.marker != nil && !now.Before(c.markerExpiresAt) {
		c.marker = nil
	}
	return evicted
}

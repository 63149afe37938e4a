// Package store owns the short-lived reconciliation state: live payment
// sessions, recent webhook records and the last-completed marker. Every
// implementation applies TTLs on read so an expired entry is never returned,
// whether or not the janitor has run yet.
package store

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/domains/terminal/model"
)

// SessionStore keeps PaymentSessions addressable by invoice number, by
// payment id and by bound transaction id.
type SessionStore interface {
	// Save inserts a new session. A transaction id already owned by another
	// session fails with model.ErrTransactionAlreadyBound.
	Save(ctx context.Context, session *model.PaymentSession) error

	// Get resolves an invoice number or payment id; missing or expired
	// sessions return model.ErrSessionNotFound.
	Get(ctx context.Context, key string) (*model.PaymentSession, error)

	GetByTransactionID(ctx context.Context, transactionID string) (*model.PaymentSession, error)

	// Update applies fn atomically to a copy of the session and refreshes
	// its TTL. An error from fn leaves the session untouched.
	Update(ctx context.Context, key string, fn func(*model.PaymentSession) error) (*model.PaymentSession, error)

	// RecentOpen lists pending sessions started after since
	RecentOpen(ctx context.Context, since time.Time) ([]*model.PaymentSession, error)

	EvictExpired(ctx context.Context) int
}

// RecordOutcome describes what Record did with an incoming webhook
type RecordOutcome string

const (
	OutcomeStored    RecordOutcome = "stored"
	OutcomeUnchanged RecordOutcome = "unchanged"
	OutcomeDuplicate RecordOutcome = "duplicate"
	OutcomeConflict  RecordOutcome = "conflict"
)

// WebhookCache holds classified webhook records for a short window
type WebhookCache interface {
	// Record merges rec under the monotonic rule and returns the record
	// that is now cached
	Record(ctx context.Context, rec *model.WebhookRecord) (*model.WebhookRecord, RecordOutcome, error)

	Get(ctx context.Context, key string) (*model.WebhookRecord, bool, error)

	// FindCompletedByInvoice returns completed records for invoice updated after since
	FindCompletedByInvoice(ctx context.Context, invoice string, since time.Time) ([]*model.WebhookRecord, error)

	SetLastCompleted(ctx context.Context, marker *model.LastCompletedMarker) error
	LastCompleted(ctx context.Context) (*model.LastCompletedMarker, bool, error)

	EvictExpired(ctx context.Context) int
}

// =====================================================
// OPTIONS
// =====================================================

type options struct {
	now func() time.Time
}

type Option func(*options)

// WithClock replaces time.Now, used by TTL tests
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// =====================================================
// MONOTONIC MERGE
// =====================================================

// mergeRecord applies the monotonic rule. A terminal record never goes back
// to pending and never flips to another terminal status; the first terminal
// status wins.
func mergeRecord(existing, incoming *model.WebhookRecord, now time.Time) (*model.WebhookRecord, RecordOutcome) {
	next := *incoming
	next.UpdatedAt = now

	if existing == nil {
		return &next, OutcomeStored
	}

	if existing.IsTerminal() {
		merged := *existing
		fillMissing(&merged, incoming)
		switch {
		case incoming.Status == existing.Status:
			return &merged, OutcomeDuplicate
		case incoming.IsTerminal():
			return &merged, OutcomeConflict
		default:
			return &merged, OutcomeUnchanged
		}
	}

	fillMissing(&next, existing)
	return &next, OutcomeStored
}

// fillMissing copies optional fields from src that dst lacks
func fillMissing(dst, src *model.WebhookRecord) {
	if dst.TransactionID == "" {
		dst.TransactionID = src.TransactionID
	}
	if dst.InvoiceNumber == "" {
		dst.InvoiceNumber = src.InvoiceNumber
	}
	if dst.Last4 == "" {
		dst.Last4 = src.Last4
	}
	if dst.Amount == nil {
		dst.Amount = src.Amount
	}
	if dst.TipAmount == nil {
		dst.TipAmount = src.TipAmount
	}
	if dst.BaseAmount == nil {
		dst.BaseAmount = src.BaseAmount
	}
}

// =====================================================
// JANITOR
// =====================================================

// Evictor is implemented by every store
type Evictor interface {
	EvictExpired(ctx context.Context) int
}

// RunJanitor evicts expired entries every interval until ctx is done
func RunJanitor(ctx context.Context, interval time.Duration, evictors ...Evictor) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := 0
			for _, e := range evictors {
				evicted += e.EvictExpired(ctx)
			}
			if evicted > 0 {
				log.Debug().Int("evicted", evicted).Msg("[STORE] Janitor evicted expired entries")
			}
		}
	}
}

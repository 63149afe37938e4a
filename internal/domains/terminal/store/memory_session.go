package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"terminal-payment-backend/internal/domains/terminal/model"
)

type sessionEntry struct {
	session   *model.PaymentSession
	expiresAt time.Time
}

// MemorySessionStore is the single-instance SessionStore
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry // invoice number -> session
	aliases  map[string]string        // payment id -> invoice number
	byTx     map[string]string        // transaction id -> invoice number
	ttl      time.Duration
	now      func() time.Time
}

func NewMemorySessionStore(ttl time.Duration, opts ...Option) *MemorySessionStore {
	o := buildOptions(opts)
	return &MemorySessionStore{
		sessions: make(map[string]*sessionEntry),
		aliases:  make(map[string]string),
		byTx:     make(map[string]string),
		ttl:      ttl,
		now:      o.now,
	}
}

func (s *MemorySessionStore) Save(_ context.Context, session *model.PaymentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if tx := session.ExternalTransactionID; tx != "" {
		if owner, ok := s.byTx[tx]; ok && owner != session.InvoiceNumber && s.liveLocked(owner, now) != nil {
			return model.NewTransactionAlreadyBoundError(tx)
		}
	}

	stored := session.Clone()
	stored.Key = session.InvoiceNumber
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}

	s.sessions[stored.Key] = &sessionEntry{session: stored, expiresAt: now.Add(s.ttl)}
	s.aliases[stored.PaymentID.String()] = stored.Key
	if tx := stored.ExternalTransactionID; tx != "" {
		s.byTx[tx] = stored.Key
	}
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, key string) (*model.PaymentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session := s.liveLocked(s.resolveLocked(key), s.now())
	if session == nil {
		return nil, model.NewSessionNotFoundError(key)
	}
	return session.Clone(), nil
}

func (s *MemorySessionStore) GetByTransactionID(_ context.Context, transactionID string) (*model.PaymentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner, ok := s.byTx[transactionID]
	if !ok {
		return nil, model.NewSessionNotFoundError(transactionID)
	}
	session := s.liveLocked(owner, s.now())
	if session == nil || session.ExternalTransactionID != transactionID {
		return nil, model.NewSessionNotFoundError(transactionID)
	}
	return session.Clone(), nil
}

func (s *MemorySessionStore) Update(_ context.Context, key string, fn func(*model.PaymentSession) error) (*model.PaymentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	invoice := s.resolveLocked(key)
	current := s.liveLocked(invoice, now)
	if current == nil {
		return nil, model.NewSessionNotFoundError(key)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	// identity fields are owned by the store
	next.Key = current.Key
	next.InvoiceNumber = current.InvoiceNumber
	next.PaymentID = current.PaymentID

	if tx := next.ExternalTransactionID; tx != "" && tx != current.ExternalTransactionID {
		if owner, ok := s.byTx[tx]; ok && owner != invoice && s.liveLocked(owner, now) != nil {
			return nil, model.NewTransactionAlreadyBoundError(tx)
		}
		if current.ExternalTransactionID != "" {
			delete(s.byTx, current.ExternalTransactionID)
		}
		s.byTx[tx] = invoice
	}

	next.UpdatedAt = now
	s.sessions[invoice] = &sessionEntry{session: next, expiresAt: now.Add(s.ttl)}
	return next.Clone(), nil
}

func (s *MemorySessionStore) RecentOpen(_ context.Context, since time.Time) ([]*model.PaymentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var open []*model.PaymentSession
	for _, entry := range s.sessions {
		if !now.Before(entry.expiresAt) {
			continue
		}
		if entry.session.Status == model.StatusPending && entry.session.StartedAt.After(since) {
			open = append(open, entry.session.Clone())
		}
	}

	sort.Slice(open, func(i, j int) bool { return open[i].StartedAt.Before(open[j].StartedAt) })
	return open, nil
}

func (s *MemorySessionStore) EvictExpired(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for invoice, entry := range s.sessions {
		if now.Before(entry.expiresAt) {
			continue
		}
		delete(s.sessions, invoice)
		delete(s.aliases, entry.session.PaymentID.String())
		if tx := entry.session.ExternalTransactionID; tx != "" && s.byTx[tx] == invoice {
			delete(s.byTx, tx)
		}
		evicted++
	}
	return evicted
}

// resolveLocked maps a payment id alias to its invoice number
func (s *MemorySessionStore) resolveLocked(key string) string {
	if _, ok := s.sessions[key]; ok {
		return key
	}
	if invoice, ok := s.aliases[key]; ok {
		return invoice
	}
	return key
}

// liveLocked returns the stored session unless it is missing or expired
func (s *MemorySessionStore) liveLocked(invoice string, now time.Time) *model.PaymentSession {
	entry, ok := s.sessions[invoice]
	if !ok || !now.Before(entry.expiresAt) {
		return nil
	}
	return entry.session
}

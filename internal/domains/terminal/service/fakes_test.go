package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/mock"

	"terminal-payment-backend/internal/domains/terminal/model"
	"terminal-payment-backend/internal/shared"
)

// =====================================================
// PAYMENT REPOSITORY
// =====================================================

type fakePayments struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.TerminalPayment
	now  func() time.Time
}

func newFakePayments() *fakePayments {
	return &fakePayments{rows: make(map[uuid.UUID]*model.TerminalPayment), now: time.Now}
}

func (f *fakePayments) put(p *model.TerminalPayment) *model.TerminalPayment {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = f.now()
	}
	c := *p
	f.rows[p.ID] = &c
	return p
}

func (f *fakePayments) Create(_ context.Context, p *model.TerminalPayment) error {
	f.put(p)
	return nil
}

func (f *fakePayments) GetByID(_ context.Context, id uuid.UUID) (*model.TerminalPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return nil, model.NewPaymentNotFoundError(id.String())
	}
	c := *p
	return &c, nil
}

func (f *fakePayments) find(match func(*model.TerminalPayment) bool, ref string) (*model.TerminalPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if match(p) {
			c := *p
			return &c, nil
		}
	}
	return nil, model.NewPaymentNotFoundError(ref)
}

func (f *fakePayments) GetByInvoice(_ context.Context, invoice string) (*model.TerminalPayment, error) {
	return f.find(func(p *model.TerminalPayment) bool { return p.InvoiceNumber == invoice }, invoice)
}

func (f *fakePayments) GetByExternalTransactionID(_ context.Context, tx string) (*model.TerminalPayment, error) {
	return f.find(func(p *model.TerminalPayment) bool {
		return p.ExternalTransactionID != nil && *p.ExternalTransactionID == tx
	}, tx)
}

func (f *fakePayments) SetExternalTransactionID(_ context.Context, id uuid.UUID, tx string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for otherID, p := range f.rows {
		if otherID != id && p.ExternalTransactionID != nil && *p.ExternalTransactionID == tx {
			return model.NewTransactionAlreadyBoundError(tx)
		}
	}
	p, ok := f.rows[id]
	if !ok {
		return model.NewPaymentNotFoundError(id.String())
	}
	if p.ExternalTransactionID != nil && *p.ExternalTransactionID != tx {
		return model.NewTransactionAlreadyBoundError(tx)
	}
	p.ExternalTransactionID = &tx
	return nil
}

func (f *fakePayments) GetByIDForUpdateWithTx(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*model.TerminalPayment, error) {
	return f.GetByID(ctx, id)
}

func (f *fakePayments) MarkCompletedWithTx(_ context.Context, _ pgx.Tx, id uuid.UUID, tx string, last4 *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok || p.Status != model.StatusPending {
		return false, nil
	}
	now := f.now()
	p.Status = model.StatusCompleted
	if p.ExternalTransactionID == nil && tx != "" {
		p.ExternalTransactionID = &tx
	}
	p.CardLast4 = last4
	p.ProcessedAt = &now
	return true, nil
}

func (f *fakePayments) MarkFailed(_ context.Context, id uuid.UUID, reason string, tx *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok || p.Status != model.StatusPending {
		return false, nil
	}
	p.Status = model.StatusFailed
	p.FailureReason = &reason
	if tx != nil && p.ExternalTransactionID == nil {
		p.ExternalTransactionID = tx
	}
	return true, nil
}

func (f *fakePayments) MarkCancelled(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok || p.Status != model.StatusPending {
		return false, nil
	}
	p.Status = model.StatusCancelled
	return true, nil
}

func (f *fakePayments) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]*model.TerminalPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.TerminalPayment
	for _, p := range f.rows {
		if p.Status == model.StatusPending && p.CreatedAt.Before(olderThan) && len(out) < limit {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakePayments) status(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].Status
}

// fakeTxManager serializes transactions like a row lock would
type fakeTxManager struct {
	mu sync.Mutex
}

func (m *fakeTxManager) RunInTx(ctx context.Context, fn func(pgx.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(nil)
}

// =====================================================
// APPOINTMENTS, RATES, COMMISSIONS
// =====================================================

type fakeAppointments struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Appointment
}

func (f *fakeAppointments) GetByID(_ context.Context, id uuid.UUID) (*model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return nil, model.ErrAppointmentNotFound
	}
	c := *a
	return &c, nil
}

func (f *fakeAppointments) MarkPaid(_ context.Context, id, paymentID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok || a.PaymentStatus == model.OrderPaymentPaid {
		return false, nil
	}
	a.PaymentStatus = model.OrderPaymentPaid
	a.PaymentID = &paymentID
	return true, nil
}

type fakeStaffRates map[uuid.UUID]*model.StaffRate

func (f fakeStaffRates) GetByStaffID(_ context.Context, staffID uuid.UUID) (*model.StaffRate, error) {
	r, ok := f[staffID]
	if !ok {
		return nil, model.ErrStaffRateNotFound
	}
	c := *r
	return &c, nil
}

type fakeCommissions struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Commission
}

func (f *fakeCommissions) CreateOnce(_ context.Context, c *model.Commission) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[c.PaymentID]; ok {
		return false, nil
	}
	copied := *c
	f.rows[c.PaymentID] = &copied
	return true, nil
}

func (f *fakeCommissions) GetByPaymentID(_ context.Context, paymentID uuid.UUID) (*model.Commission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[paymentID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return c, nil
}

func (f *fakeCommissions) ListForReport(_ context.Context, from, to time.Time) ([]*model.CommissionReportRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.CommissionReportRow
	for _, c := range f.rows {
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, &model.CommissionReportRow{Commission: *c, InvoiceNumber: "INV-" + c.PaymentID.String()[:6]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeCommissions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// =====================================================
// WEBHOOK LOGS
// =====================================================

type fakeWebhookLogs struct {
	mu        sync.Mutex
	entries   []*model.WebhookLog
	processed map[uuid.UUID]string
}

func newFakeWebhookLogs() *fakeWebhookLogs {
	return &fakeWebhookLogs{processed: make(map[uuid.UUID]string)}
}

func (f *fakeWebhookLogs) Create(_ context.Context, entry *model.WebhookLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *entry
	f.entries = append(f.entries, &c)
	return nil
}

func (f *fakeWebhookLogs) MarkProcessed(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[id] = ""
	return nil
}

func (f *fakeWebhookLogs) MarkProcessingError(_ context.Context, id uuid.UUID, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[id] = msg
	return nil
}

func (f *fakeWebhookLogs) last() *model.WebhookLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return nil
	}
	return f.entries[len(f.entries)-1]
}

// =====================================================
// QUEUE
// =====================================================

// recordingQueue behaves like asynq with task ids: a second task with the
// same id is rejected with ErrTaskIDConflict
type recordingQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	ids   map[string]bool
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{ids: make(map[string]bool)}
}

func (q *recordingQueue) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id := o.Value().(string)
			if q.ids[id] {
				return nil, asynq.ErrTaskIDConflict
			}
			q.ids[id] = true
		}
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (q *recordingQueue) ofType(taskType string) []*asynq.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*asynq.Task
	for _, t := range q.tasks {
		if t.Type() == taskType {
			out = append(out, t)
		}
	}
	return out
}

// =====================================================
// PUBLISHER
// =====================================================

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishPaymentCompleted(ctx context.Context, event shared.PaymentCompletedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockPublisher) Close() error {
	return nil
}

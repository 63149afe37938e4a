package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"terminal-payment-backend/internal/domains/terminal/model"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%d", host, port.Int())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisStores(t *testing.T) {
	client := setupRedis(t)

	t.Run("session alias and binding", func(t *testing.T) {
		ctx := context.Background()
		s := NewRedisSessionStore(client, time.Minute)

		first := newSession("INV-R100", time.Now())
		first.ExternalTransactionID = "RTX1"
		require.NoError(t, s.Save(ctx, first))

		got, err := s.Get(ctx, first.PaymentID.String())
		require.NoError(t, err)
		assert.Equal(t, "INV-R100", got.InvoiceNumber)

		second := newSession("INV-R200", time.Now())
		second.ExternalTransactionID = "RTX1"
		assert.ErrorIs(t, s.Save(ctx, second), model.ErrTransactionAlreadyBound)

		second.ExternalTransactionID = ""
		require.NoError(t, s.Save(ctx, second))
		updated, err := s.Update(ctx, "INV-R200", func(p *model.PaymentSession) error {
			p.ExternalTransactionID = "RTX2"
			p.Status = model.StatusCompleted
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, updated.Status)

		owner, err := s.GetByTransactionID(ctx, "RTX2")
		require.NoError(t, err)
		assert.Equal(t, "INV-R200", owner.InvoiceNumber)

		open, err := s.RecentOpen(ctx, time.Now().Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, "INV-R100", open[0].InvoiceNumber)
	})

	t.Run("webhook monotonic merge", func(t *testing.T) {
		ctx := context.Background()
		c := NewRedisWebhookCache(client, time.Minute, 90*time.Second)

		_, outcome, err := c.Record(ctx, &model.WebhookRecord{TransactionID: "RTX9", InvoiceNumber: "INV-R300", Status: model.StatusCompleted, Last4: "1111"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeStored, outcome)

		rec, outcome, err := c.Record(ctx, &model.WebhookRecord{TransactionID: "RTX9", Status: model.StatusFailed})
		require.NoError(t, err)
		assert.Equal(t, OutcomeConflict, outcome)
		assert.Equal(t, model.StatusCompleted, rec.Status)

		matches, err := c.FindCompletedByInvoice(ctx, "INV-R300", time.Now().Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "1111", matches[0].Last4)

		matches, err = c.FindCompletedByInvoice(ctx, "INV-R400", time.Now().Add(-time.Minute))
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("marker", func(t *testing.T) {
		ctx := context.Background()
		c := NewRedisWebhookCache(client, time.Minute, 90*time.Second)

		require.NoError(t, c.SetLastCompleted(ctx, &model.LastCompletedMarker{TransactionID: "RTX9", Status: model.StatusCompleted}))
		marker, found, err := c.LastCompleted(ctx)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "RTX9", marker.TransactionID)

		ttl, err := client.TTL(ctx, webhookLastKey).Result()
		require.NoError(t, err)
		assert.LessOrEqual(t, ttl, 90*time.Second)
	})
}

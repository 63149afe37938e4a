package database

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// PoolStats is a serialisable snapshot of pgxpool statistics
type PoolStats struct {
	TotalConns      int32         `json:"total_conns"`
	IdleConns       int32         `json:"idle_conns"`
	AcquiredConns   int32         `json:"acquired_conns"`
	MaxConns        int32         `json:"max_conns"`
	AcquireCount    int64         `json:"acquire_count"`
	EmptyAcquire    int64         `json:"empty_acquire_count"`
	AvgAcquireTime  time.Duration `json:"avg_acquire_time"`
	CanceledAcquire int64         `json:"canceled_acquire_count"`
}

// Close releases every pooled connection. Safe to call more than once.
func (db *PostgresDB) Close() {
	if db.Pool == nil {
		return
	}
	log.Info().Msg("[DATABASE] Closing connection pool")
	db.Pool.Close()
	db.Pool = nil
}

// Stats returns nil when the pool has not been opened yet
func (db *PostgresDB) Stats() *PoolStats {
	if db.Pool == nil {
		return nil
	}

	s := db.Pool.Stat()
	stats := &PoolStats{
		TotalConns:      s.TotalConns(),
		IdleConns:       s.IdleConns(),
		AcquiredConns:   s.AcquiredConns(),
		MaxConns:        s.MaxConns(),
		AcquireCount:    s.AcquireCount(),
		EmptyAcquire:    s.EmptyAcquireCount(),
		CanceledAcquire: s.CanceledAcquireCount(),
	}
	if s.AcquireCount() > 0 {
		stats.AvgAcquireTime = s.AcquireDuration() / time.Duration(s.AcquireCount())
	}
	return stats
}

// MonitorPoolHealth logs a warning whenever the pool runs close to saturation.
// It blocks until ctx is done, so run it in its own goroutine.
func (db *PostgresDB) MonitorPoolHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			if stats == nil || stats.MaxConns == 0 {
				continue
			}
			if float64(stats.AcquiredConns)/float64(stats.MaxConns) >= 0.8 {
				log.Warn().
					Int32("acquired", stats.AcquiredConns).
					Int32("max", stats.MaxConns).
					Int64("empty_acquire", stats.EmptyAcquire).
					Msg("[DATABASE] Pool utilisation above 80%")
			}
		}
	}
}

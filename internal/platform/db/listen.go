package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Notification is a payload received on a LISTEN channel.
type Notification struct {
	Channel string
	Payload string
}

// Listener holds one pooled connection in LISTEN mode and hands every
// notification to a callback. Dropped connections are re-established with
// exponential backoff capped at MaxBackoff.
type Listener struct {
	pool       *pgxpool.Pool
	channel    string
	logger     zerolog.Logger
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func NewListener(pool *pgxpool.Pool, channel string, logger zerolog.Logger) *Listener {
	return &Listener{
		pool:       pool,
		channel:    channel,
		logger:     logger.With().Str("component", "pg_listener").Str("channel", channel).Logger(),
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context, handle func(Notification)) error {
	backoff := l.MinBackoff
	for {
		err := l.listenOnce(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("listener disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = NextBackoff(backoff, l.MaxBackoff)
	}
}

func (l *Listener) listenOnce(ctx context.Context, handle func(Notification)) error {
	pooled, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	// A connection left in LISTEN state must not return to the pool.
	conn := pooled.Hijack()
	defer conn.Close(context.Background()) //nolint:errcheck

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.logger.Info().Msg("listening for database changes")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		handle(Notification{Channel: n.Channel, Payload: n.Payload})
	}
}

// NextBackoff doubles d without exceeding limit.
func NextBackoff(d, limit time.Duration) time.Duration {
	d *= 2
	if d > limit {
		return limit
	}
	return d
}

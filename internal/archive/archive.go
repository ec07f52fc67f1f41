// Package archive stores content events in Postgres.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/john/unichat/internal/clock"
	"github.com/john/unichat/internal/event"
	"github.com/john/unichat/internal/host"
)

const schema = `
create table if not exists unichat_events (
  message_id  text primary key,
  scraper_id  text not null,
  type        text not null,
  platform    text,
  channel_id  text,
  author_id   text,
  payload     jsonb not null,
  occurred_at timestamptz not null
);`

const insertEvent = `
insert into unichat_events (
  message_id, scraper_id, type, platform, channel_id, author_id, payload, occurred_at
) values ($1,$2,$3,$4,$5,$6,$7,$8)
on conflict (message_id) do nothing;`

// Config sets the batching parameters.
type Config struct {
	MaxBatch     int
	FlushEvery   time.Duration
	ChanBuffer   int
	FlushTimeout time.Duration
}

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Connect opens a pool and makes sure the events table exists.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// EnsureSchema creates the events table if needed.
func EnsureSchema(ctx context.Context, db execer) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Batcher inserts content envelopes through pgx.Batch. Replayed events are dropped by the
// message_id conflict clause.
type Batcher struct {
	input   chan host.Envelope
	config  Config
	sender  batchSender
	clock   clock.Clock
	logger  *slog.Logger
	dropped atomic.Uint64
	done    chan struct{}
}

// NewBatcher creates a batcher and starts flushing in the background.
func NewBatcher(ctx context.Context, pool *pgxpool.Pool, cfg Config, logger *slog.Logger) *Batcher {
	return newBatcher(ctx, pool, cfg, clock.Real(), logger)
}

func newBatcher(ctx context.Context, sender batchSender, cfg Config, clk clock.Clock, logger *slog.Logger) *Batcher {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 100
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Batcher{
		input:  make(chan host.Envelope, cfg.ChanBuffer),
		config: cfg,
		sender: sender,
		clock:  clk,
		logger: logger.With("component", "archive"),
		done:   make(chan struct{}),
	}
	go b.run(ctx)
	return b
}

// Enqueue queues env if it is a content event. It reports false when the queue is full.
func (b *Batcher) Enqueue(env host.Envelope) bool {
	if !event.IsContent(env.Type) {
		return true
	}
	select {
	case b.input <- env:
		return true
	default:
		if dropped := b.dropped.Add(1); dropped%100 == 1 {
			b.logger.Warn("archive queue full", "dropped_total", dropped)
		}
		return false
	}
}

// Consume enqueues envelopes until envs closes or ctx is done.
func (b *Batcher) Consume(ctx context.Context, envs <-chan host.Envelope) {
	for {
		select {
		case env, ok := <-envs:
			if !ok {
				return
			}
			b.Enqueue(env)
		case <-ctx.Done():
			return
		}
	}
}

// Dropped returns the number of envelopes dropped on a full queue.
func (b *Batcher) Dropped() uint64 { return b.dropped.Load() }

// Done is closed after the final flush.
func (b *Batcher) Done() <-chan struct{} { return b.done }

func (b *Batcher) run(ctx context.Context) {
	defer close(b.done)

	ticker := b.clock.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	batch := &pgx.Batch{}
	pending := 0
	var total uint64

	flush := func() {
		if pending == 0 {
			return
		}
		dbCtx, cancel := context.WithTimeout(context.Background(), b.config.FlushTimeout)
		defer cancel()

		if err := b.sender.SendBatch(dbCtx, batch).Close(); err != nil {
			b.logger.Error("archive flush failed", "rows", pending, "error", err)
		} else {
			total += uint64(pending)
		}
		batch = &pgx.Batch{}
		pending = 0
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			b.logger.Info("archive stopped", "rows_total", total)
			return
		case <-ticker.C:
			flush()
		case env := <-b.input:
			row := newRow(env)
			batch.Queue(insertEvent,
				row.messageID, env.ScraperID, env.Type, row.platform, row.channelID, row.authorID,
				env.Bytes(), time.UnixMilli(env.Timestamp).UTC(),
			)
			pending++
			if pending >= b.config.MaxBatch {
				flush()
			}
		}
	}
}

type row struct {
	messageID string
	platform  *string
	channelID *string
	authorID  *string
}

func newRow(env host.Envelope) row {
	return row{
		messageID: DedupKey(env),
		platform:  event.StrOrNil(env.String("platform")),
		channelID: event.StrOrNil(env.String("channelId")),
		authorID:  event.StrOrNil(env.String("authorId")),
	}
}

// DedupKey is the message_id column of env. Variants without an id get a random one, so
// they are never deduplicated.
func DedupKey(env host.Envelope) string {
	id := env.String("messageId")
	switch event.Type(env.Type) {
	case event.TypeRemoveMessage:
		if id != "" {
			return "remove_message:" + id
		}
	case event.TypeRemoveAuthor, event.TypeClear:
		id = ""
	}
	if id == "" {
		return uuid.NewString()
	}
	return id
}

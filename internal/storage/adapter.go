// Package storage is the thin layer over PostgreSQL that the
// repository layer builds on: pooled transactional sessions,
// row-level locking primitives (via plain SQL executed inside a
// pgx.Tx), and a dedicated LISTEN/NOTIFY connection kept outside the
// pool since channels are connection-scoped.
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Adapter owns the pooled connection used for transactional CRUD and
// a single long-lived connection reserved for LISTEN/NOTIFY.
type Adapter struct {
	pool       *pgxpool.Pool
	notifyConn *pgx.Conn
}

// Open connects to Postgres, sizing the pool for workerConcurrency
// plus headroom, and opens one extra connection outside the pool for
// notifications so it is never handed out for transactional use.
func Open(ctx context.Context, dsn string, workerConcurrency int) (*Adapter, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse dsn: %w", err)
	}

	poolSize := int32(workerConcurrency + 2)
	if poolSize < 4 {
		poolSize = 4
	}
	cfg.MaxConns = poolSize
	if cfg.MinConns > poolSize {
		cfg.MinConns = poolSize
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	notifyConn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: open notify connection: %w", err)
	}

	return &Adapter{pool: pool, notifyConn: notifyConn}, nil
}

// Pool exposes the pooled connection for repositories that need plain
// query/exec access outside an explicit transaction.
func (a *Adapter) Pool() *pgxpool.Pool {
	return a.pool
}

// Close releases the pool and the dedicated notification connection.
func (a *Adapter) Close(ctx context.Context) {
	_ = a.notifyConn.Close(ctx)
	a.pool.Close()
}

// WithTx runs fn inside a transaction, committing on nil error and
// rolling back otherwise (including on panic, which it re-raises
// after rollback).
func (a *Adapter) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit tx: %w", err)
	}
	return nil
}

// Notify publishes payload on channel using the dedicated connection,
// matching the pool's session so publishing never contends with a
// transactional query for a connection slot.
func (a *Adapter) Notify(ctx context.Context, channel, payload string) error {
	_, err := a.notifyConn.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	if err != nil {
		return fmt.Errorf("storage: notify %s: %w", channel, err)
	}
	return nil
}

// Listen subscribes to channel on the dedicated connection and
// returns a wake-up channel that receives a signal (never blocking
// the notifier, never buffering more than one pending wake-up) for
// every notification observed. The caller's ctx cancellation stops
// the listen loop and closes the returned channel.
func (a *Adapter) Listen(ctx context.Context, channel string) (<-chan struct{}, error) {
	if _, err := a.notifyConn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return nil, fmt.Errorf("storage: listen %s: %w", channel, err)
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		for {
			_, err := a.notifyConn.WaitForNotification(ctx)
			if err != nil {
				return
			}
			select {
			case wake <- struct{}{}:
			default:
				// a wake-up is already pending; notifications collapse.
			}
		}
	}()

	return wake, nil
}

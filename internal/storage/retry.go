package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Multi-statement transactions (agent deletion) can deadlock against the
// pipeline's concurrent upserts into the same monitoring rows. Those
// conflicts are transient; the transaction is simply re-run.
const (
	txAttempts  = 3
	txRetryBase = 50 * time.Millisecond
)

// transientTxError reports whether err is a Postgres serialization failure
// or deadlock, the only errors worth re-running a transaction for.
func transientTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// withTxRetry runs fn up to txAttempts times, backing off with jitter
// between transient conflicts. Non-transient errors return immediately.
func withTxRetry(ctx context.Context, fn func() error) error {
	delay := txRetryBase
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !transientTxError(err) || attempt == txAttempts {
			return err
		}
		jitter := time.Duration(rand.Int64N(int64(delay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
}

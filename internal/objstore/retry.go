package objstore

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/photocatalog/internal/common"
	"github.com/dmitrijs2005/photocatalog/internal/logging"
)

// Retrying wraps a Store and retries calls that fail with
// common.ErrTransient, using capped exponential backoff. Put bodies that are
// not seekable get a single attempt, and so does the catalog pointer: it
// publishes a whole sync cycle, and a failed cycle is run again from its
// start by the next sync.
type Retrying struct {
	next     Store
	attempts uint64
	base     time.Duration
	log      logging.Logger
}

func NewRetrying(next Store, attempts int, base time.Duration, log logging.Logger) *Retrying {
	if attempts < 0 {
		attempts = 0
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Retrying{next: next, attempts: uint64(attempts), base: base, log: log}
}

func (r *Retrying) backoff(retries uint64) retry.Backoff {
	b := retry.NewExponential(r.base)
	b = retry.WithCappedDuration(10*r.base, b)
	b = retry.WithJitterPercent(10, b)
	return retry.WithMaxRetries(retries, b)
}

func (r *Retrying) do(ctx context.Context, op, key string, retries uint64, fn func(ctx context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, r.backoff(retries), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && errors.Is(err, common.ErrTransient) {
			r.log.Warn(ctx, "transient object store error", "op", op, "key", key, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (r *Retrying) Head(ctx context.Context, key string) (ObjectInfo, error) {
	var info ObjectInfo
	err := r.do(ctx, "head", key, r.attempts, func(ctx context.Context) error {
		var err error
		info, err = r.next.Head(ctx, key)
		return err
	})
	return info, err
}

func (r *Retrying) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	var (
		rc   io.ReadCloser
		info ObjectInfo
	)
	err := r.do(ctx, "get", key, r.attempts, func(ctx context.Context) error {
		var err error
		rc, info, err = r.next.Get(ctx, key)
		return err
	})
	return rc, info, err
}

func (r *Retrying) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (ObjectInfo, error) {
	seeker, replayable := body.(io.Seeker)
	retries := r.attempts
	if !replayable || KeyClass(key) == ClassPointer {
		retries = 0
	}

	var info ObjectInfo
	err := r.do(ctx, "put", key, retries, func(ctx context.Context) error {
		if replayable {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return err
			}
		}
		var err error
		info, err = r.next.Put(ctx, key, body, size, contentType)
		return err
	})
	return info, err
}

func (r *Retrying) Delete(ctx context.Context, key string) error {
	return r.do(ctx, "delete", key, r.attempts, func(ctx context.Context) error {
		return r.next.Delete(ctx, key)
	})
}

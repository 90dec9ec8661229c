// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fetch retrieves the raw payload behind one item with bounded
// retry. A fetch never fails upward: exhausted or permanent failures come
// back as an unsuccessful RawRecord.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pdiddy/rxn-harvest/pkg/types"
)

var (
	// ErrMaxRetries is recorded on a RawRecord whose attempts ran out.
	ErrMaxRetries = errors.New("max retries exceeded")

	// ErrMarker means the record block was present but had not rendered
	// its content yet.
	ErrMarker = errors.New("record block not rendered")

	// ErrPayload means a payload did not have the expected shape.
	ErrPayload = errors.New("unexpected payload")
)

// Fetcher retrieves the raw record for one item.
type Fetcher interface {
	Fetch(ctx context.Context, item types.ItemRef) types.RawRecord
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do calls attempt until it succeeds, returns a permanent error, or the
// policy's attempts run out, pausing policy.Wait between tries. It returns
// the number of attempts made. When attempts run out the error wraps both
// ErrMaxRetries and the last failure.
func Do(ctx context.Context, policy types.RetryPolicy, attempt func(ctx context.Context, n int) error) (int, error) {
	limit := policy.Attempts()
	var last error
	for n := 1; n <= limit; n++ {
		if err := ctx.Err(); err != nil {
			return n - 1, err
		}
		last = attempt(ctx, n)
		if last == nil {
			return n, nil
		}
		if IsPermanent(last) || ctx.Err() != nil {
			return n, last
		}
		if n == limit {
			break
		}
		if err := sleep(ctx, policy.Wait(n)); err != nil {
			return n, err
		}
	}
	return limit, fmt.Errorf("%w: %w", ErrMaxRetries, last)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// failed builds the unsuccessful record for err. Exhausted retries are
// recorded as ErrMaxRetries alone; the cause goes to the log.
func failed(item types.ItemRef, kind types.PayloadKind, attempts int, err error) types.RawRecord {
	msg := err.Error()
	if errors.Is(err, ErrMaxRetries) {
		msg = ErrMaxRetries.Error()
	}
	return types.RawRecord{URL: item.URL, Kind: kind, Attempts: attempts, Error: msg}
}

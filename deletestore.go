package idb

import (
	"context"
	"errors"
	"time"
)

// DeleteStore permanently deletes the named store. While a handle to it is
// open, in this process or (for file-based engines) another one, the attempt
// is blocked: DeleteStore waits opt.RetryInterval and tries again, until it
// succeeds, ctx is done, or opt.MaxDeleteAttempts attempts were blocked.
// Deleting a store that doesn't exist succeeds.
func DeleteStore(ctx context.Context, name string, opt Options) (err error) {
	start := time.Now()
	defer func() { observe(name, "delete_store", start, err) }()

	if err := validateStoreName(name); err != nil {
		return configErrf(name, "", err, "invalid store name")
	}
	be, err := resolveBackend(&opt)
	if err != nil {
		return err
	}
	logf := opt.logf()
	interval := opt.retryInterval()

	for attempt := 1; ; attempt++ {
		err := removeStore(be, name, &opt)
		if err == nil {
			if opt.Verbose {
				logf("idb: DELETE_STORE %s after %d attempt(s)", name, attempt)
			}
			return nil
		}
		if !errors.Is(err, ErrBlocked) {
			return storeErrf(ErrRequest, name, "", 0, err, "deleting store")
		}

		metricDeleteRetries.WithLabelValues(name).Inc()
		if opt.MaxDeleteAttempts > 0 && attempt >= opt.MaxDeleteAttempts {
			return err
		}
		if attempt == 1 || opt.Verbose {
			logf("idb: deleting %s is blocked by an open handle, retrying every %v", name, interval)
		}

		t := time.NewTimer(interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return storeErrf(ErrBlocked, name, "", 0, ctx.Err(), "gave up after %d attempt(s)", attempt)
		}
	}
}

func removeStore(be backend, name string, opt *Options) error {
	if isHandleLive(be, name) {
		return storeErrf(ErrBlocked, name, "", 0, nil, "store is open in this process")
	}
	return be.Remove(name, opt)
}

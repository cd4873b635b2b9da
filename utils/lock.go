package utils

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/itembills_sync/config"
	"github.com/sirupsen/logrus"
)

var ErrRunLocked = errors.New("another bill sync run holds the lock")

// RunLock is a redis lease held for the length of a sync run. The lease is
// refreshed at half its TTL until released.
type RunLock struct {
	Client *redislock.Client
	TTL    time.Duration
	// Wait is how long Obtain retries before giving up. Zero means one attempt.
	Wait   time.Duration
	Logger *logrus.Logger
}

func NewRunLock(client *redislock.Client) *RunLock {
	return &RunLock{
		Client: client,
		TTL:    config.SecondsFromEnv("BILLSYNC_LOCK_TTL_SECONDS", 5*time.Minute),
		Wait:   config.SecondsFromEnv("BILLSYNC_LOCK_WAIT_SECONDS", 0),
		Logger: config.GetLogger(),
	}
}

func (l *RunLock) Obtain(ctx context.Context, key string) (func(), error) {
	if l.Client == nil {
		// Avoid nil-pointer panics when Redis lock isn't initialized yet.
		err := errors.New("redis lock is nil")
		config.LogError(l.logger(), "utils", "RunLock.Obtain", "Redis lock not initialized", key, err)
		return nil, errors.New("service not ready (redis lock not initialized)")
	}

	opts := &redislock.Options{}
	if l.Wait > 0 {
		opts.RetryStrategy = redislock.LimitRetry(redislock.LinearBackoff(500*time.Millisecond), int(l.Wait/(500*time.Millisecond)))
	}
	lock, err := l.Client.Obtain(ctx, key, l.TTL, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		config.LogError(l.logger(), "utils", "RunLock.Obtain", "Could not obtain run lock", key, err)
		return nil, ErrRunLocked
	} else if err != nil {
		config.LogError(l.logger(), "utils", "RunLock.Obtain", "Error obtaining run lock", key, err)
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.TTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := lock.Refresh(context.Background(), l.TTL, nil); err != nil {
					config.LogError(l.logger(), "utils", "RunLock.refresh", "Failed to refresh run lock", key, err)
					return
				}
			}
		}
	}()

	return func() {
		close(stop)
		<-done
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			config.LogError(l.logger(), "utils", "RunLock.release", "Failed to release run lock", key, err)
		}
	}, nil
}

func (l *RunLock) logger() *logrus.Logger {
	if l.Logger == nil {
		return config.GetLogger()
	}
	return l.Logger
}

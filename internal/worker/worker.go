// Package worker implements the long-lived download worker: a
// dequeue-sleep-process loop that drains the KV job queue into
// storage. Designed to run as one or more independent processes
// sharing a single queue, with no in-memory coordination between them.
package worker

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/groxpi/groxpi-redis/internal/logger"
	"github.com/groxpi/groxpi-redis/internal/storage"
	"github.com/groxpi/groxpi-redis/internal/upstream"
)

// KV is the subset of kvstore.Client the Worker needs.
type KV interface {
	DequeueJob(ctx context.Context) (url string, ok bool, err error)
	DeleteJob(ctx context.Context, url string) error
}

const pollInterval = time.Second

// Worker drains the download queue into a Storage backend. A
// semaphore bounds concurrent in-flight saves within this process;
// the spec only requires eventual materialization, not any ordering
// between jobs, so fanning out dequeued jobs is safe.
type Worker struct {
	kv      KV
	storage storage.Backend
	fetcher *upstream.Fetcher
	sem     *semaphore.Weighted
}

// New builds a Worker bounded to maxConcurrency simultaneous saves.
func New(kv KV, backend storage.Backend, fetcher *upstream.Fetcher, maxConcurrency int64) *Worker {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Worker{
		kv:      kv,
		storage: backend,
		fetcher: fetcher,
		sem:     semaphore.NewWeighted(maxConcurrency),
	}
}

// Run blocks, dequeuing and saving jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !w.RunOnce(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
		}
	}
}

// RunOnce dequeues a single job and saves it, returning false if the
// queue was empty (the caller should sleep before trying again).
func (w *Worker) RunOnce(ctx context.Context) bool {
	url, ok, err := w.kv.DequeueJob(ctx)
	if err != nil {
		logger.GetLogger().Error().Err(err).Msg("dequeue job")
		return false
	}
	if !ok {
		return false
	}

	if err := w.sem.Acquire(ctx, 1); err != nil {
		// Context cancelled while waiting for a slot; the job stays
		// dequeued but unsaved, which is fine because a fresh
		// enqueue will recreate it and Save is idempotent.
		return true
	}

	go func(url string) {
		defer w.sem.Release(1)
		w.process(ctx, url)
	}(url)

	return true
}

func (w *Worker) process(ctx context.Context, url string) {
	defer func() {
		if err := w.kv.DeleteJob(ctx, url); err != nil {
			logger.GetLogger().Error().Err(err).Str("url", url).Msg("delete job record")
		}
	}()

	_, err := w.storage.Save(ctx, url, func(ctx context.Context) (io.ReadCloser, error) {
		body, _, fetchErr := w.fetcher.FetchStream(url)
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch: %w", fetchErr)
		}
		return body, nil
	})
	if err != nil {
		logger.GetLogger().Error().Err(err).Str("url", url).Msg("save failed, continuing")
	}
}

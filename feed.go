// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package mygeotab

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultFeedInterval is the pause between two GetFeed polls
const DefaultFeedInterval = 60 * time.Second

// FeedListener receives the pages of a DataFeed
type FeedListener interface {
	// OnData is called with every page, including empty ones
	OnData(ctx context.Context, data []Entity)

	// OnError is called when a poll fails. Returning false stops the feed.
	OnError(ctx context.Context, err error) bool
}

// DataFeed polls GetFeed for one entity type and hands each page to a
// listener, continuing from the last version the server returned.
//
// Example:
//
//	feed := mygeotab.NewDataFeed(client, listener, "LogRecord", 30*time.Second)
//	feed.Start(ctx)
//	defer feed.Stop()
type DataFeed struct {
	client   *Client
	listener FeedListener
	typeName string
	interval time.Duration

	// Search and ResultsLimit are sent with every poll
	Search       map[string]any
	ResultsLimit int

	mu      sync.Mutex
	version string
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDataFeed creates a feed; a non-positive interval uses DefaultFeedInterval
func NewDataFeed(client *Client, listener FeedListener, typeName string, interval time.Duration) *DataFeed {
	if interval <= 0 {
		interval = DefaultFeedInterval
	}
	return &DataFeed{
		client:   client,
		listener: listener,
		typeName: typeName,
		interval: interval,
	}
}

// Version returns the version the next poll starts from
func (f *DataFeed) Version() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}

// SetVersion makes the next poll start from version, e.g. to resume a feed
func (f *DataFeed) SetVersion(version string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version = version
}

// Run polls until ctx is done or the listener's OnError returns false.
//
// Returns nil when stopped through ctx, or the error the listener declined.
func (f *DataFeed) Run(ctx context.Context) error {
	logger := f.client.logger
	logger.Info(ctx, "data feed started",
		"type", f.typeName,
		"interval", f.interval.String())

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "data feed stopped", "type", f.typeName)
			return nil
		case <-timer.C:
		}

		result, err := f.client.GetFeed(ctx, f.typeName, f.Search, f.Version(), f.ResultsLimit)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				logger.Info(ctx, "data feed stopped", "type", f.typeName)
				return nil
			}
			logger.Warn(ctx, "data feed poll failed",
				"type", f.typeName,
				"error", err.Error())
			if !f.listener.OnError(ctx, err) {
				return err
			}
		} else {
			if result.ToVersion != "" {
				f.SetVersion(result.ToVersion)
			}
			logger.Debug(ctx, "data feed page",
				"type", f.typeName,
				"count", len(result.Data),
				"to_version", result.ToVersion)
			f.listener.OnData(ctx, result.Data)
		}

		timer.Reset(f.interval)
	}
}

// Start runs the feed on a new goroutine. Starting a running feed is a no-op;
// once Run has returned, for example because OnError declined an error, the
// feed can be started again.
func (f *DataFeed) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done != nil {
		return
	}
	ctx, f.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	f.done = done

	cancel := f.cancel
	go func() {
		defer close(done)
		_ = f.Run(ctx) //nolint:errcheck // reported through OnError

		// Allow a restart after Run ended on its own
		f.mu.Lock()
		if f.done == done {
			f.cancel, f.done = nil, nil
		}
		f.mu.Unlock()
		cancel()
	}()
}

// Stop ends a feed started with Start and waits for it to finish
func (f *DataFeed) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

package rxcouch

import (
	"context"
	"sync"

	"github.com/tangledfruit/rx-couch/pkg/models"
)

// sharedFeed is one unfiltered long-poll feed fanned out to every observer
// of a Database. Its subscriber set and the Database.shared slot are guarded
// by Database.mu.
type sharedFeed struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subs map[*subscriber]struct{}
	// err is set before subscriber channels are closed.
	err error
}

type subscriber struct {
	ch     chan models.Change
	stopCh chan struct{}
}

// followShared pushes documents from the shared feed through dd until ctx
// ends or the feed fails.
func (d *Database) followShared(ctx context.Context, dd *dedup) error {
	feed, sub := d.attachShared()
	defer d.detachShared(feed, sub)

	for {
		select {
		case change, ok := <-sub.ch:
			if !ok {
				// runShared only drops subscribers it failed on.
				return feed.err
			}
			if !dd.push(change.Document().Clone()) {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Database) attachShared() (*sharedFeed, *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()

	feed := d.shared
	if feed == nil {
		ctx, cancel := context.WithCancel(context.Background())
		feed = &sharedFeed{
			cancel: cancel,
			subs:   make(map[*subscriber]struct{}),
		}
		d.shared = feed
		feed.wg.Add(1)
		go d.runShared(ctx, feed)
		d.server.metrics.SharedFeedStarted()
		d.server.logger.Debug("shared changes feed started", "db", d.name)
	}

	sub := &subscriber{
		ch:     make(chan models.Change),
		stopCh: make(chan struct{}),
	}
	feed.subs[sub] = struct{}{}
	return feed, sub
}

// detachShared removes sub. Removing the last subscriber stops the feed and
// waits for its polling goroutine to exit.
func (d *Database) detachShared(feed *sharedFeed, sub *subscriber) {
	close(sub.stopCh)

	d.mu.Lock()
	if _, ok := feed.subs[sub]; !ok {
		// The feed already ended and dropped everyone.
		d.mu.Unlock()
		return
	}
	delete(feed.subs, sub)
	last := len(feed.subs) == 0
	if last && d.shared == feed {
		d.shared = nil
	}
	d.mu.Unlock()

	if last {
		feed.cancel()
		feed.wg.Wait()
	}
}

func (d *Database) runShared(ctx context.Context, feed *sharedFeed) {
	defer feed.wg.Done()
	defer d.server.metrics.SharedFeedStopped()

	opts := Options{
		"feed":         feedLongPoll,
		"include_docs": true,
		"since":        "now",
	}
	d.applyLongPollTimeout(opts)

	err := d.pollChanges(ctx, opts, true, func(change models.Change) bool {
		return feed.broadcast(ctx, d, change)
	})
	if ctx.Err() != nil {
		err = nil
	} else if err != nil {
		d.server.logger.Warn("shared changes feed failed", "db", d.name, "error", err.Error())
	}

	d.mu.Lock()
	if d.shared == feed {
		d.shared = nil
	}
	feed.err = err
	subs := feed.subs
	feed.subs = nil
	d.mu.Unlock()

	for sub := range subs {
		close(sub.ch)
	}
	d.server.logger.Debug("shared changes feed stopped", "db", d.name)
}

// broadcast hands change to every current subscriber, waiting for each
// one. It returns false when the feed itself is cancelled.
func (feed *sharedFeed) broadcast(ctx context.Context, d *Database, change models.Change) bool {
	d.mu.Lock()
	subs := make([]*subscriber, 0, len(feed.subs))
	for sub := range feed.subs {
		subs = append(subs, sub)
	}
	d.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- change:
		case <-sub.stopCh:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

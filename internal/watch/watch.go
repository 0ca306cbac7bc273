// Package watch implements a long-lived key-watch stream: a channel of
// snapshots for a set of keys, driven by the Notifier's wakeups and
// periodic resampling rather than a push from storage itself.
package watch

import (
	"context"
	"time"

	"github.com/rawkakani/denokv-postgres/internal/kvproto"
	"github.com/rawkakani/denokv-postgres/internal/notifier"
	"github.com/rawkakani/denokv-postgres/internal/storage"
)

// resampleInterval bounds how long a watch waits on notifications alone
// before re-reading every watched key directly, guarding against a missed or coalesced
// notification leaving a watcher stale indefinitely.
const resampleInterval = 10 * time.Second

// Watcher streams snapshots for a fixed set of keys.
type Watcher struct {
	storage  *storage.Storage
	notifier *notifier.Notifier
}

// New constructs a Watcher over st, waking on changes observed via n.
func New(st *storage.Storage, n *notifier.Notifier) *Watcher {
	return &Watcher{storage: st, notifier: n}
}

// KeyChange is one emitted element of a Watch stream: the current entry for
// one of the watched keys, or nil if the key is absent.
type KeyChange struct {
	Key   []byte
	Entry *kvproto.KvEntry
}

// Watch subscribes to every key in keys and emits an initial snapshot for
// each; after every wake (a notification on any watched key, or the
// resample interval elapsing) it emits the current entry of every key
// again, until ctx is canceled. The returned channel is closed once that
// stream ends; Watch itself returns immediately.
func (w *Watcher) Watch(ctx context.Context, keys [][]byte) (<-chan KeyChange, error) {
	out := make(chan KeyChange)

	subs := make([]*notifier.Subscription, len(keys))
	for i, k := range keys {
		subs[i] = w.notifier.Subscribe(k)
	}

	go func() {
		defer close(out)
		defer func() {
			for _, s := range subs {
				s.Release()
			}
		}()

		for _, k := range keys {
			if !w.emit(ctx, out, k) {
				return
			}
		}

		for {
			if _, err := waitAny(ctx, subs); err != nil {
				return
			}
			for _, k := range keys {
				if !w.emit(ctx, out, k) {
					return
				}
			}
		}
	}()

	return out, nil
}

// emit reads the current entry for key and sends it on out, returning
// false if ctx was canceled first.
func (w *Watcher) emit(ctx context.Context, out chan<- KeyChange, key []byte) bool {
	end := append(append([]byte{}, key...), 0x00)
	entries, err := w.storage.ReadRange(ctx, kvproto.ReadRange{Start: key, End: end, Limit: 1})
	if err != nil {
		return ctx.Err() == nil
	}

	change := KeyChange{Key: key}
	if len(entries) == 1 {
		e := entries[0]
		change.Entry = &e
	}

	select {
	case out <- change:
		return true
	case <-ctx.Done():
		return false
	}
}

// waitAny blocks until any subscription in subs wakes, the resample
// interval elapses (returning the first key as a conservative resample
// target), or ctx is done. Each subscription is waited on by its own
// goroutine, since select cannot range over a runtime-sized slice of
// channels.
func waitAny(ctx context.Context, subs []*notifier.Subscription) (int, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type wake struct {
		idx int
		err error
	}
	results := make(chan wake, len(subs))

	for i, s := range subs {
		go func(i int, s *notifier.Subscription) {
			err := s.Wait(waitCtx)
			results <- wake{idx: i, err: err}
		}(i, s)
	}

	timer := time.NewTimer(resampleInterval)
	defer timer.Stop()

	select {
	case r := <-results:
		if r.err != nil && ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return r.idx, nil
	case <-timer.C:
		return 0, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

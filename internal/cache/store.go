// Package cache implements the stale-while-revalidate store that sits in
// front of every upstream read.
//
// An entry is served without network access while it is valid: same view
// mode, younger than the configured duration, and covering a range that
// overlaps the query. Concurrent callers asking for the same (mode, range)
// share one fetch. Asking for a different key supersedes older fetches, and
// results from superseded or invalidated fetches are discarded.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/retry"
	"calview/internal/timerange"
)

// ErrDiscarded is returned to waiters whose fetch was cancelled because it
// was superseded or the store was invalidated.
var ErrDiscarded = errors.New("cache: fetch discarded")

// DefaultDuration is how long an entry stays valid.
const DefaultDuration = 5 * time.Minute

// Fetcher loads one collection for a resolved range.
type Fetcher[T any] func(ctx context.Context, r model.Range, mode model.ViewMode) (T, error)

// Fallback persists successful payloads so a cold start with a failing
// upstream can still show something.
type Fallback interface {
	Load(ctx context.Context, key string) (payload []byte, fetchedAt time.Time, ok bool, err error)
	Save(ctx context.Context, key string, payload []byte, fetchedAt time.Time) error
}

// Entry is one cached payload.
type Entry[T any] struct {
	Data      T
	FetchedAt time.Time
	Covered   model.Range
	Mode      model.ViewMode
}

// Result is what GetOrFetch hands back. Data may be stale or empty when Err
// is set.
type Result[T any] struct {
	Data      T
	Mode      model.ViewMode
	Range     model.Range
	FetchedAt time.Time
	FromCache bool
	Stale     bool
	Err       error
}

// Options tunes a Store. Zero values fall back to defaults.
type Options struct {
	Duration time.Duration
	Policy   retry.Policy
	Now      func() time.Time
	Fallback Fallback
}

type flight[T any] struct {
	key     string
	mode    model.ViewMode
	rng     model.Range
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
	waiters int
	res     Result[T]
}

// Store caches a single collection.
type Store[T any] struct {
	name     string
	fetch    Fetcher[T]
	duration time.Duration
	policy   retry.Policy
	now      func() time.Time
	fallback Fallback

	mu      sync.Mutex
	entry   *Entry[T]
	valid   bool
	gen     uint64
	flights map[string]*flight[T]
}

// New builds a Store named name (used in logs and metric labels).
func New[T any](name string, fetch Fetcher[T], opts Options) *Store[T] {
	s := &Store[T]{
		name:     name,
		fetch:    fetch,
		duration: opts.Duration,
		policy:   opts.Policy,
		now:      opts.Now,
		fallback: opts.Fallback,
		flights:  make(map[string]*flight[T]),
	}
	if s.duration <= 0 {
		s.duration = DefaultDuration
	}
	if s.policy.MaxAttempts <= 0 {
		s.policy = retry.DefaultPolicy()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Name identifies the collection.
func (s *Store[T]) Name() string { return s.name }

func flightKey(mode model.ViewMode, r model.Range) string {
	return string(mode) + "|" + r.Key()
}

// GetOrFetch returns data for the window mode shows around anchor. Unless
// force is set a valid entry is returned without touching the network.
func (s *Store[T]) GetOrFetch(ctx context.Context, mode model.ViewMode, anchor time.Time, force bool) Result[T] {
	r := timerange.Resolve(mode, anchor)
	key := flightKey(mode, r)

	s.mu.Lock()
	s.supersedeLocked(key)

	if !force && s.validLocked(mode, r) {
		e := s.entry
		s.mu.Unlock()
		cacheHits.WithLabelValues(s.name).Inc()
		appLog.Debug("cache hit", "collection", s.name, "mode", mode, "range", r.String())
		return Result[T]{Data: e.Data, Mode: e.Mode, Range: e.Covered, FetchedAt: e.FetchedAt, FromCache: true}
	}

	f, ok := s.flights[key]
	if ok {
		cacheJoins.WithLabelValues(s.name).Inc()
		appLog.Debug("cache join in-flight fetch", "collection", s.name, "mode", mode, "range", r.String())
	} else {
		cacheMisses.WithLabelValues(s.name).Inc()
		f = s.startLocked(key, mode, r)
	}
	f.waiters++
	s.mu.Unlock()

	select {
	case <-f.done:
		return f.res
	case <-ctx.Done():
		s.mu.Lock()
		f.waiters--
		if f.waiters == 0 {
			f.cancel()
			// A cancelled flight must not be joined by later callers.
			if s.flights[key] == f {
				delete(s.flights, key)
			}
		}
		last := s.lastGoodLocked(mode, r)
		s.mu.Unlock()
		return s.staleResult(last, mode, r, ctx.Err())
	}
}

// Invalidate marks the current entry as unusable and cancels every fetch in
// progress. The entry's data is kept as last-good fallback.
func (s *Store[T]) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = false
	s.gen++
	for key, f := range s.flights {
		f.cancel()
		delete(s.flights, key)
	}
	appLog.Debug("cache invalidated", "collection", s.name)
}

// Peek returns the current entry, valid or not.
func (s *Store[T]) Peek() (Entry[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil {
		return Entry[T]{}, false
	}
	return *s.entry, true
}

// supersedeLocked cancels fetches for keys other than key.
func (s *Store[T]) supersedeLocked(key string) {
	superseded := false
	for k, f := range s.flights {
		if k == key {
			continue
		}
		f.cancel()
		delete(s.flights, k)
		superseded = true
	}
	if superseded {
		s.gen++
	}
}

func (s *Store[T]) validLocked(mode model.ViewMode, r model.Range) bool {
	e := s.entry
	if e == nil || !s.valid {
		return false
	}
	return e.Mode == mode && s.now().Sub(e.FetchedAt) < s.duration && e.Covered.Overlaps(r)
}

// lastGoodLocked returns the entry when it describes the same view,
// regardless of age or validity.
func (s *Store[T]) lastGoodLocked(mode model.ViewMode, r model.Range) *Entry[T] {
	e := s.entry
	if e == nil || e.Mode != mode || !e.Covered.Overlaps(r) {
		return nil
	}
	cp := *e
	return &cp
}

func (s *Store[T]) startLocked(key string, mode model.ViewMode, r model.Range) *flight[T] {
	fctx, cancel := context.WithCancel(context.Background())
	f := &flight[T]{
		key:    key,
		mode:   mode,
		rng:    r,
		gen:    s.gen,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.flights[key] = f
	go s.run(fctx, f)
	return f
}

func (s *Store[T]) run(ctx context.Context, f *flight[T]) {
	defer f.cancel()
	defer close(f.done)

	started := time.Now()
	data, err := retry.Do(ctx, s.policy, s.name+" fetch", func(ctx context.Context) (T, error) {
		return s.fetch(ctx, f.rng, f.mode)
	})
	fetchDuration.WithLabelValues(s.name).Observe(time.Since(started).Seconds())

	s.mu.Lock()
	if s.flights[f.key] == f {
		delete(s.flights, f.key)
	}
	discarded := f.gen != s.gen || ctx.Err() != nil
	var applied *Entry[T]
	if !discarded && err == nil {
		applied = &Entry[T]{Data: data, FetchedAt: s.now(), Covered: f.rng, Mode: f.mode}
		s.entry = applied
		s.valid = true
	}
	last := s.lastGoodLocked(f.mode, f.rng)
	s.mu.Unlock()

	switch {
	case discarded:
		cacheDiscarded.WithLabelValues(s.name).Inc()
		appLog.Debug("cache discarded late result", "collection", s.name, "mode", f.mode, "range", f.rng.String())
		f.res = s.staleResult(last, f.mode, f.rng, ErrDiscarded)
	case err != nil:
		fetchErrors.WithLabelValues(s.name).Inc()
		appLog.Error("cache fetch failed", err, "collection", s.name, "mode", f.mode, "range", f.rng.String())
		if last == nil {
			last = s.loadFallback(f.key, f.mode, f.rng)
		}
		f.res = s.staleResult(last, f.mode, f.rng, err)
	default:
		appLog.Info("cache refreshed", "collection", s.name, "mode", f.mode, "range", f.rng.String())
		s.saveFallback(f.key, applied)
		f.res = Result[T]{Data: applied.Data, Mode: applied.Mode, Range: applied.Covered, FetchedAt: applied.FetchedAt}
	}
}

func (s *Store[T]) staleResult(last *Entry[T], mode model.ViewMode, r model.Range, err error) Result[T] {
	if last == nil {
		return Result[T]{Mode: mode, Range: r, Err: err}
	}
	return Result[T]{Data: last.Data, Mode: last.Mode, Range: last.Covered, FetchedAt: last.FetchedAt, FromCache: true, Stale: true, Err: err}
}

func (s *Store[T]) fallbackKey(key string) string {
	return s.name + "|" + key
}

func (s *Store[T]) saveFallback(key string, e *Entry[T]) {
	if s.fallback == nil || e == nil {
		return
	}
	payload, err := json.Marshal(e.Data)
	if err != nil {
		appLog.Error("cache fallback encode failed", err, "collection", s.name)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.fallback.Save(ctx, s.fallbackKey(key), payload, e.FetchedAt); err != nil {
		appLog.Error("cache fallback save failed", err, "collection", s.name)
	}
}

func (s *Store[T]) loadFallback(key string, mode model.ViewMode, r model.Range) *Entry[T] {
	if s.fallback == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	payload, fetchedAt, ok, err := s.fallback.Load(ctx, s.fallbackKey(key))
	if err != nil {
		appLog.Error("cache fallback load failed", err, "collection", s.name)
		return nil
	}
	if !ok {
		return nil
	}
	var data T
	if err := json.Unmarshal(payload, &data); err != nil {
		appLog.Error("cache fallback decode failed", err, "collection", s.name)
		return nil
	}
	fallbackServed.WithLabelValues(s.name).Inc()
	appLog.Info("cache serving persisted fallback", "collection", s.name, "fetched_at", fetchedAt)
	return &Entry[T]{Data: data, FetchedAt: fetchedAt, Covered: r, Mode: mode}
}

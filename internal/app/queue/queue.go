// Package queue holds the ordered, filtered view of assets being triaged and
// keeps the content of the upcoming ones loaded in the background.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"immich-sorter/internal/app/controller/planners"
	"immich-sorter/internal/immich"
)

var (
	// ErrEmpty is returned when no asset matches the filter.
	ErrEmpty = errors.New("queue is empty")
	// ErrEndOfQueue signals that every matching asset has been visited. It
	// is a terminal state rather than a failure.
	ErrEndOfQueue = errors.New("end of queue")
	// ErrStartOfQueue is returned by [Queue.Retreat] at position 0.
	ErrStartOfQueue = errors.New("start of queue")

	errStaleEpoch = errors.New("queue was reinitialized")
)

// LoadState tracks how much of an entry's content is available locally.
type LoadState int

const (
	NotLoaded LoadState = iota
	ThumbnailLoaded
	FullLoaded
)

func (s LoadState) String() string {
	switch s {
	case ThumbnailLoaded:
		return "thumbnail-loaded"
	case FullLoaded:
		return "full-loaded"
	}
	return "not-loaded"
}

// MarshalText implements encoding.TextMarshaler.
func (s LoadState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Entry is one asset in the queue.
type Entry struct {
	Asset immich.Asset
	State LoadState
	// failed is set when background loading failed. The worker skips the
	// entry until its content is requested directly.
	failed bool
}

// ContentSource provides asset content and reports what is already cached.
type ContentSource interface {
	GetThumbnail(ctx context.Context, id immich.AssetID) (*immich.Content, error)
	GetFullImage(ctx context.Context, id immich.AssetID) (*immich.Content, error)
	HasContent(id immich.AssetID, size immich.Size) bool
}

// Source is everything the Queue needs from immich.
type Source interface {
	planners.AssetClient
	ContentSource
}

// Config holds configuration values for the Queue.
type Config struct {
	// PrefetchWindow is how many entries after the current one have their
	// content loaded in the background.
	PrefetchWindow int
	PageSize       int
	Plan           planners.PlanIter
}

// Status is a point-in-time view of the Queue.
type Status struct {
	Position  int
	Length    int
	Finished  bool
	Exhausted bool
	Filter    immich.CameraFilter
	Epoch     uint64
}

// Queue is the ordered view of the assets matching a camera filter with a
// position pointer. Every [Queue.Initialize] starts a new epoch with its own
// prefetch worker; work belonging to an older epoch is discarded.
type Queue struct {
	conf   Config
	source Source

	// planMu serializes access to the planner, which is not safe for
	// concurrent use. It is always acquired before mu.
	planMu sync.Mutex
	plan   planners.PlanIter

	mu        sync.Mutex
	entries   []*Entry
	seen      map[immich.AssetID]struct{}
	pos       int
	finished  bool
	exhausted bool
	filter    immich.CameraFilter
	epoch     uint64
	cancel    context.CancelFunc
	kick      chan struct{}
}

// New creates an empty Queue. Call [Queue.Initialize] to load it.
func New(source Source, conf Config) *Queue {
	if conf.PageSize <= 0 {
		conf.PageSize = 100
	}
	if conf.PrefetchWindow < 0 {
		conf.PrefetchWindow = 0
	}
	if conf.Plan == nil {
		conf.Plan = &planners.Sequential{}
	}
	return &Queue{
		conf:   conf,
		source: source,
		plan:   conf.Plan,
		seen:   make(map[immich.AssetID]struct{}),
	}
}

// Initialize resets the queue for filter: the previous epoch's prefetch is
// cancelled, the first page is fetched, the position is set to 0 and a new
// prefetch worker is started.
func (q *Queue) Initialize(ctx context.Context, filter immich.CameraFilter) error {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.epoch++
	epoch := q.epoch
	q.entries = nil
	q.seen = make(map[immich.AssetID]struct{})
	q.pos = 0
	q.finished = false
	q.exhausted = false
	q.filter = filter
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	kick := make(chan struct{}, 1)
	q.kick = kick
	q.mu.Unlock()

	q.planMu.Lock()
	q.plan.Init(q.source, filter, q.conf.PageSize)
	q.planMu.Unlock()

	slog.Info("initializing queue",
		"epoch", epoch,
		"cameras", filter.Models(),
		"plan", q.plan.Name(),
	)
	err := q.fill(ctx, epoch, 1)
	go q.prefetch(workerCtx, epoch, kick)
	return err
}

// Close stops the prefetch worker.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		q.cancel()
	}
}

// Current returns the entry at the current position.
func (q *Queue) Current() (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, ErrEmpty
	}
	if q.finished {
		return Entry{}, ErrEndOfQueue
	}
	return *q.entries[q.pos], nil
}

// Advance moves to the next entry, fetching the next page when the loaded
// sequence runs out. When nothing remains the position stays on the last
// entry, the queue is marked finished and ErrEndOfQueue is returned.
func (q *Queue) Advance(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.pos+1 < len(q.entries) {
			q.pos++
			q.finished = false
			q.signal()
			q.mu.Unlock()
			return nil
		}
		if q.exhausted {
			defer q.mu.Unlock()
			if len(q.entries) == 0 {
				return ErrEmpty
			}
			q.finished = true
			return ErrEndOfQueue
		}
		epoch, want := q.epoch, q.pos+2
		q.mu.Unlock()

		if err := q.fill(ctx, epoch, want); err != nil {
			return err
		}
	}
}

// Retreat moves back one entry. At the end of the queue it returns to the
// last entry instead. The entry is queued for loading again if its content
// was evicted.
func (q *Queue) Retreat() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return ErrEmpty
	}
	switch {
	case q.finished:
		q.finished = false
	case q.pos > 0:
		q.pos--
	default:
		return ErrStartOfQueue
	}
	q.refreshLoadState(q.entries[q.pos])
	q.signal()
	return nil
}

// RemoveCurrentAndAdvance removes the current entry and returns it. The next
// entry takes its position, fetching a page if needed. If none remains the
// queue is finished on its last entry and ErrEndOfQueue is returned along
// with the removed entry.
func (q *Queue) RemoveCurrentAndAdvance(ctx context.Context) (Entry, error) {
	q.mu.Lock()
	if len(q.entries) == 0 {
		q.mu.Unlock()
		return Entry{}, ErrEmpty
	}
	if q.finished {
		q.mu.Unlock()
		return Entry{}, ErrEndOfQueue
	}
	removed := *q.entries[q.pos]
	q.entries = slices.Delete(q.entries, q.pos, q.pos+1)
	epoch, want := q.epoch, q.pos+1
	q.mu.Unlock()

	err := q.fill(ctx, epoch, want)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pos < len(q.entries) {
		q.signal()
		return removed, nil
	}
	q.pos = max(len(q.entries)-1, 0)
	if len(q.entries) > 0 {
		q.finished = true
	}
	if err != nil {
		return removed, err
	}
	return removed, ErrEndOfQueue
}

// Insert puts e back at pos and makes it current. An entry whose asset is
// already queued is not duplicated; the queue moves to it instead.
func (q *Queue) Insert(pos int, e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.finished = false
	if idx := q.indexOf(e.Asset.ID); idx >= 0 {
		q.pos = idx
	} else {
		pos = min(max(pos, 0), len(q.entries))
		e.failed = false
		q.entries = slices.Insert(q.entries, pos, &e)
		q.seen[e.Asset.ID] = struct{}{}
		q.pos = pos
	}
	q.refreshLoadState(q.entries[q.pos])
	q.signal()
}

// Seek makes the entry at pos current. pos is clamped to the sequence.
func (q *Queue) Seek(pos int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return ErrEmpty
	}
	q.pos = min(max(pos, 0), len(q.entries)-1)
	q.finished = false
	q.refreshLoadState(q.entries[q.pos])
	q.signal()
	return nil
}

// UpdateState replaces the disposition flags of a queued asset.
func (q *Queue) UpdateState(id immich.AssetID, s immich.State) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if idx := q.indexOf(id); idx >= 0 {
		q.entries[idx].Asset.State = s
	}
}

// Status returns the position, length and flags of the queue.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		Position:  q.pos,
		Length:    len(q.entries),
		Finished:  q.finished,
		Exhausted: q.exhausted,
		Filter:    q.filter,
		Epoch:     q.epoch,
	}
}

// Entries returns a copy of the loaded sequence.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := make([]Entry, len(q.entries))
	for i, e := range q.entries {
		entries[i] = *e
	}
	return entries
}

// Content loads the content of an asset on demand and records the result on
// its entry, if queued.
func (q *Queue) Content(ctx context.Context, id immich.AssetID, size immich.Size) (*immich.Content, error) {
	content, err := q.load(ctx, id, size)

	q.mu.Lock()
	defer q.mu.Unlock()
	if idx := q.indexOf(id); idx >= 0 && err == nil {
		e := q.entries[idx]
		e.failed = false
		markLoaded(e, size)
	}
	return content, err
}

func (q *Queue) load(ctx context.Context, id immich.AssetID, size immich.Size) (*immich.Content, error) {
	if size == immich.SizeOriginal {
		return q.source.GetFullImage(ctx, id)
	}
	return q.source.GetThumbnail(ctx, id)
}

// fill asks the planner for pages until at least want entries are loaded or
// the planner is exhausted. It returns errStaleEpoch if the queue was
// reinitialized.
func (q *Queue) fill(ctx context.Context, epoch uint64, want int) error {
	q.planMu.Lock()
	defer q.planMu.Unlock()
	for {
		q.mu.Lock()
		switch {
		case q.epoch != epoch:
			q.mu.Unlock()
			return errStaleEpoch
		case q.exhausted || len(q.entries) >= want:
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()

		assets, err := q.plan.Next(ctx)

		q.mu.Lock()
		if q.epoch != epoch {
			q.mu.Unlock()
			return errStaleEpoch
		}
		if errors.Is(err, planners.ErrExhausted) {
			slog.Info("no more assets match the filter", "epoch", epoch, "loaded", len(q.entries))
			q.exhausted = true
			q.mu.Unlock()
			return nil
		}
		if err != nil {
			q.mu.Unlock()
			slog.Error("failed to load the next page of assets", "epoch", epoch, "error", err)
			return err
		}
		added := q.appendAssets(assets)
		slog.Debug("loaded page of assets",
			"epoch", epoch,
			"count", len(assets),
			"added", added,
		)
		q.mu.Unlock()
	}
}

// appendAssets adds the assets that are not already queued. q.mu must be
// held.
func (q *Queue) appendAssets(assets []immich.Asset) int {
	added := 0
	for _, a := range assets {
		if _, ok := q.seen[a.ID]; ok {
			slog.Debug("skipping duplicate asset", "id", a.ID)
			continue
		}
		q.seen[a.ID] = struct{}{}
		e := &Entry{Asset: a, State: FullLoaded}
		q.refreshLoadState(e)
		q.entries = append(q.entries, e)
		added++
	}
	return added
}

// refreshLoadState lowers an entry's load state to what is still cached.
// q.mu must be held.
func (q *Queue) refreshLoadState(e *Entry) {
	id := e.Asset.ID
	if e.State == FullLoaded && (e.Asset.IsVideo() || !q.source.HasContent(id, immich.SizeOriginal)) {
		e.State = ThumbnailLoaded
	}
	if e.State == ThumbnailLoaded && !q.source.HasContent(id, immich.SizeThumbnail) {
		e.State = NotLoaded
	}
}

func (q *Queue) indexOf(id immich.AssetID) int {
	return slices.IndexFunc(q.entries, func(e *Entry) bool { return e.Asset.ID == id })
}

// signal wakes up the prefetch worker. q.mu must be held.
func (q *Queue) signal() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

func markLoaded(e *Entry, size immich.Size) {
	switch {
	case size == immich.SizeOriginal:
		e.State = FullLoaded
	case e.State < ThumbnailLoaded:
		e.State = ThumbnailLoaded
	}
}

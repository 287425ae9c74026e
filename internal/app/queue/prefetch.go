package queue

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"immich-sorter/internal/immich"
)

// prefetch loads the content of the current entry and the PrefetchWindow
// entries after it: thumbnails first, then originals. It runs until ctx is
// cancelled and goes idle between kicks.
func (q *Queue) prefetch(ctx context.Context, epoch uint64, kick <-chan struct{}) {
	log := slog.With("epoch", epoch)
	log.Debug("starting prefetch worker")
	defer log.Debug("stopped prefetch worker")
	for {
		if err := q.prefetchWindow(ctx, epoch); errors.Is(err, errStaleEpoch) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-kick:
		}
	}
}

func (q *Queue) prefetchWindow(ctx context.Context, epoch uint64) error {
	q.mu.Lock()
	want := q.pos + q.conf.PrefetchWindow + 1
	q.mu.Unlock()
	if err := q.fill(ctx, epoch, want); err != nil {
		if errors.Is(err, errStaleEpoch) {
			return err
		}
		slog.Warn("failed to extend queue for prefetch", "epoch", epoch, "error", err)
	}

	for _, size := range []immich.Size{immich.SizeThumbnail, immich.SizeOriginal} {
		for {
			if err := ctx.Err(); err != nil {
				return errStaleEpoch
			}
			id, ok, err := q.nextToLoad(epoch, size)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			_, err = q.load(ctx, id, size)
			if err := q.applyLoad(epoch, id, size, err); err != nil {
				return err
			}
		}
	}
	return nil
}

// nextToLoad returns the first entry in the window that still needs content
// of the given size.
func (q *Queue) nextToLoad(epoch uint64, size immich.Size) (immich.AssetID, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.epoch != epoch {
		return "", false, errStaleEpoch
	}
	end := min(q.pos+q.conf.PrefetchWindow+1, len(q.entries))
	for _, e := range q.entries[min(q.pos, end):end] {
		if e.failed {
			continue
		}
		switch {
		case size == immich.SizeThumbnail && e.State == NotLoaded:
			return e.Asset.ID, true, nil
		case size == immich.SizeOriginal && e.State == ThumbnailLoaded && !e.Asset.IsVideo():
			return e.Asset.ID, true, nil
		}
	}
	return "", false, nil
}

// applyLoad records the outcome of a background load. Results for an older
// epoch are dropped. A missing asset is removed from the queue unless it is
// the current entry.
func (q *Queue) applyLoad(epoch uint64, id immich.AssetID, size immich.Size, loadErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	log := slog.With("epoch", epoch, "id", id, "size", size)
	if q.epoch != epoch {
		log.Debug("discarding stale prefetch result")
		return errStaleEpoch
	}
	idx := q.indexOf(id)
	if idx < 0 {
		return nil
	}
	e := q.entries[idx]
	switch {
	case loadErr == nil:
		markLoaded(e, size)
		log.Debug("prefetched content", "state", e.State)
	case errors.Is(loadErr, immich.ErrNotFound) && idx > q.pos:
		log.Warn("asset no longer exists, removing from queue")
		q.entries = slices.Delete(q.entries, idx, idx+1)
	default:
		log.Error("failed to prefetch content", "error", loadErr)
		e.failed = true
	}
	return nil
}

package planners

import (
	"context"
	"log/slog"

	"immich-sorter/internal/immich"
)

// maxEmptyDraws is how many consecutive draws may produce nothing new before
// the Random planner gives up.
const maxEmptyDraws = 3

// Random implements PlanIter by drawing random assets from the whole library
// and keeping the ones that match the camera filter. Assets already returned
// are never returned again, so with a small library the plan ends once draws
// stop producing anything new.
type Random struct {
	source     AssetClient
	filter     immich.CameraFilter
	pageSize   int
	seen       map[immich.AssetID]struct{}
	emptyDraws int
}

func (r *Random) Name() string { return "random" }

// Init implements PlanIter and initializes the Random object.
func (r *Random) Init(source AssetClient, filter immich.CameraFilter, pageSize int) {
	*r = Random{
		source:   source,
		filter:   filter,
		pageSize: pageSize,
		seen:     make(map[immich.AssetID]struct{}),
	}
}

// Next implements PlanIter and draws the next page of unseen assets.
func (r *Random) Next(ctx context.Context) ([]immich.Asset, error) {
	for r.emptyDraws < maxEmptyDraws {
		drawn, err := r.source.RandomAssets(ctx, r.pageSize)
		if err != nil {
			return nil, err
		}
		var assets []immich.Asset
		for _, a := range drawn {
			if _, ok := r.seen[a.ID]; ok || !r.filter.Matches(a.Model) {
				continue
			}
			r.seen[a.ID] = struct{}{}
			assets = append(assets, a)
		}
		if len(assets) == 0 {
			r.emptyDraws++
			slog.Debug("random draw produced no new assets", "draws", r.emptyDraws)
			continue
		}
		r.emptyDraws = 0
		return assets, nil
	}
	return nil, ErrExhausted
}

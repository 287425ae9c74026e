package planners

import (
	"context"
	"time"

	"immich-sorter/internal/immich"
)

// Sequential implements PlanIter by paging through the assets of each
// selected camera model in turn, newest first. Without a filter it pages
// through every asset.
//
// Pages are requested at or before a cursor, the creation time of the oldest
// asset returned so far, rather than by page number alone: deleting or
// archiving an asset shifts immich's page offsets. Assets at the cursor are
// returned again by immich and dropped here.
type Sequential struct {
	source     AssetClient
	models     []string
	modelIndex int
	pageSize   int

	cursor time.Time
	// page is relative to cursor. It only moves past 1 while every asset on
	// the page was already returned, which happens when more than a page of
	// assets share the cursor's creation time.
	page int
	seen map[immich.AssetID]struct{}
}

func (s *Sequential) Name() string { return "sequential" }

// Init implements PlanIter and initializes the Sequential object.
func (s *Sequential) Init(source AssetClient, filter immich.CameraFilter, pageSize int) {
	models := filter.Models()
	if len(models) == 0 {
		// A single unfiltered pass.
		models = []string{""}
	}
	*s = Sequential{
		source:   source,
		models:   models,
		pageSize: pageSize,
		page:     1,
		seen:     make(map[immich.AssetID]struct{}),
	}
}

// Next implements PlanIter and retrieves the next page of unseen assets.
func (s *Sequential) Next(ctx context.Context) ([]immich.Asset, error) {
	for s.modelIndex < len(s.models) {
		page, err := s.source.ListAssets(ctx, immich.AssetQuery{
			Model:       s.models[s.modelIndex],
			TakenBefore: s.cursor,
			Page:        s.page,
			Size:        s.pageSize,
		})
		if err != nil {
			return nil, err
		}

		var assets []immich.Asset
		for _, a := range page.Assets {
			if _, ok := s.seen[a.ID]; ok {
				continue
			}
			s.seen[a.ID] = struct{}{}
			assets = append(assets, a)
		}

		switch {
		case page.NextPage == 0:
			// Nothing older remains for this model.
			s.nextModel()
		case len(assets) > 0 && !page.Assets[len(page.Assets)-1].FileCreatedAt.IsZero():
			s.cursor = page.Assets[len(page.Assets)-1].FileCreatedAt
			s.page = 1
		default:
			s.page = page.NextPage
		}
		if len(assets) > 0 {
			return assets, nil
		}
	}
	return nil, ErrExhausted
}

func (s *Sequential) nextModel() {
	s.modelIndex++
	s.cursor = time.Time{}
	s.page = 1
}

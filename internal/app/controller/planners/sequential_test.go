package planners_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"immich-sorter/internal/app/controller/planners"
	"immich-sorter/internal/immich"
)

var _ planners.AssetClient = &testAssetClient{}

// testAssetClient is a test implementation of [planners.AssetClient]. Each
// model maps to its pages of assets.
type testAssetClient struct {
	lut     map[string][][]immich.Asset
	random  [][]immich.Asset
	queries []immich.AssetQuery
	fail    bool
}

// ListAssets implements planners.AssetClient.
func (t *testAssetClient) ListAssets(_ context.Context, q immich.AssetQuery) (*immich.Page, error) {
	t.queries = append(t.queries, q)
	if t.fail {
		return nil, errors.New("unavailable")
	}
	pages := t.lut[q.Model]
	if q.Page > len(pages) {
		return &immich.Page{}, nil
	}
	page := &immich.Page{Assets: pages[q.Page-1]}
	if q.Page < len(pages) {
		page.NextPage = q.Page + 1
	}
	return page, nil
}

// RandomAssets implements planners.AssetClient.
func (t *testAssetClient) RandomAssets(context.Context, int) ([]immich.Asset, error) {
	if len(t.random) == 0 {
		return nil, nil
	}
	draw := t.random[0]
	t.random = t.random[1:]
	return draw, nil
}

func ids(assets []immich.Asset) []immich.AssetID {
	var out []immich.AssetID
	for _, a := range assets {
		out = append(out, a.ID)
	}
	return out
}

// drain collects every asset returned by the planner until it is exhausted.
func drain(t *testing.T, plan planners.PlanIter) []immich.AssetID {
	t.Helper()
	var got []immich.AssetID
	for range 20 {
		assets, err := plan.Next(context.Background())
		if errors.Is(err, planners.ErrExhausted) {
			return got
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(assets) == 0 {
			t.Fatal("planner returned an empty page")
		}
		got = append(got, ids(assets)...)
	}
	t.Fatal("planner was never exhausted")
	return nil
}

func expectIDs(t *testing.T, got []immich.AssetID, expected ...immich.AssetID) {
	t.Helper()
	if len(got) != len(expected) {
		t.Fatalf("expected %d items, found %d: %v", len(expected), len(got), got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf(`got[%d] should be %q, found %q`, i, expected[i], got[i])
		}
	}
}

// TestSequentialPlanner tests Sequential iterates over the pages of each
// selected camera model in order.
func TestSequentialPlanner(t *testing.T) {
	client := &testAssetClient{
		lut: map[string][][]immich.Asset{
			"": {
				{{ID: "asset-1"}, {ID: "asset-2"}},
				{{ID: "asset-3"}},
			},
			"Pixel 8": {
				{{ID: "asset-4"}},
				{},
				{{ID: "asset-5"}},
			},
			"X100V": {
				{{ID: "asset-6"}, {ID: "asset-7"}},
			},
		},
	}

	t.Run("no filter", func(t *testing.T) {
		var seq planners.Sequential
		seq.Init(client, immich.CameraFilter{}, 2)
		expectIDs(t, drain(t, &seq), "asset-1", "asset-2", "asset-3")
	})

	t.Run("multiple models", func(t *testing.T) {
		var seq planners.Sequential
		seq.Init(client, immich.NewCameraFilter("X100V", "Pixel 8"), 2)
		expectIDs(t, drain(t, &seq), "asset-4", "asset-5", "asset-6", "asset-7")
	})

	t.Run("unknown model", func(t *testing.T) {
		var seq planners.Sequential
		seq.Init(client, immich.NewCameraFilter("Leica"), 2)
		expectIDs(t, drain(t, &seq))
	})
}

// TestSequentialRetry tests a failed page is requested again on the next call.
func TestSequentialRetry(t *testing.T) {
	client := &testAssetClient{
		lut: map[string][][]immich.Asset{
			"": {{{ID: "asset-1"}}, {{ID: "asset-2"}}},
		},
	}
	var seq planners.Sequential
	seq.Init(client, immich.CameraFilter{}, 1)
	if _, err := seq.Next(context.Background()); err != nil {
		t.Fatal(err)
	}

	client.fail = true
	if _, err := seq.Next(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	client.fail = false
	assets, err := seq.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	expectIDs(t, ids(assets), "asset-2")

	last := client.queries[len(client.queries)-1]
	if last.Page != 2 || last.Size != 1 {
		t.Fatalf("unexpected query %+v", last)
	}
}

// liveAssetClient pages by offset over the assets that are not removed, the
// way immich does: removing an asset shifts every later page forward.
type liveAssetClient struct {
	assets  []immich.Asset
	removed map[immich.AssetID]bool
}

func newLiveAssetClient(created []time.Time, ids ...immich.AssetID) *liveAssetClient {
	c := &liveAssetClient{removed: map[immich.AssetID]bool{}}
	for i, id := range ids {
		c.assets = append(c.assets, immich.Asset{ID: id, FileCreatedAt: created[i]})
	}
	return c
}

// ListAssets implements planners.AssetClient.
func (c *liveAssetClient) ListAssets(_ context.Context, q immich.AssetQuery) (*immich.Page, error) {
	var live []immich.Asset
	for _, a := range c.assets {
		if c.removed[a.ID] || (!q.TakenBefore.IsZero() && a.FileCreatedAt.After(q.TakenBefore)) {
			continue
		}
		live = append(live, a)
	}
	start := min((q.Page-1)*q.Size, len(live))
	end := min(start+q.Size, len(live))
	page := &immich.Page{Assets: live[start:end]}
	if end < len(live) {
		page.NextPage = q.Page + 1
	}
	return page, nil
}

// RandomAssets implements planners.AssetClient.
func (c *liveAssetClient) RandomAssets(context.Context, int) ([]immich.Asset, error) {
	return nil, nil
}

// descending returns n creation times, newest first, spaced by step.
func descending(n int, step time.Duration) []time.Time {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = base.Add(-time.Duration(i) * step)
	}
	return out
}

// TestSequentialRemovedAssets tests that removing every returned asset
// before asking for the next page does not skip the assets that moved up.
func TestSequentialRemovedAssets(t *testing.T) {
	for name, step := range map[string]time.Duration{
		"distinct times": time.Minute,
		"same time":      0,
	} {
		t.Run(name, func(t *testing.T) {
			client := newLiveAssetClient(descending(7, step), "A", "B", "C", "D", "E", "F", "G")
			var seq planners.Sequential
			seq.Init(client, immich.CameraFilter{}, 2)

			var got []immich.AssetID
			for range 20 {
				assets, err := seq.Next(context.Background())
				if errors.Is(err, planners.ErrExhausted) {
					break
				}
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				for _, a := range assets {
					got = append(got, a.ID)
					client.removed[a.ID] = true
				}
			}
			expectIDs(t, got, "A", "B", "C", "D", "E", "F", "G")
		})
	}
}

// TestSequentialSameTime tests paging through more assets sharing one
// creation time than fit on a page, without removing any.
func TestSequentialSameTime(t *testing.T) {
	client := newLiveAssetClient(descending(5, 0), "A", "B", "C", "D", "E")
	var seq planners.Sequential
	seq.Init(client, immich.CameraFilter{}, 2)
	expectIDs(t, drain(t, &seq), "A", "B", "C", "D", "E")
}

// TestRandomPlanner tests Random filters by camera and never repeats an asset.
func TestRandomPlanner(t *testing.T) {
	client := &testAssetClient{
		random: [][]immich.Asset{
			{{ID: "asset-1", Model: "X100V"}, {ID: "asset-2", Model: "Pixel 8"}},
			{{ID: "asset-1", Model: "X100V"}, {ID: "asset-3", Model: "X100V"}},
			{{ID: "asset-2", Model: "Pixel 8"}},
		},
	}
	var r planners.Random
	r.Init(client, immich.NewCameraFilter("X100V"), 2)
	expectIDs(t, drain(t, &r), "asset-1", "asset-3")
}

func TestPlanAlgorithm_UnmarshalText(t *testing.T) {
	for name, expected := range map[string]string{
		"sequential": "sequential",
		"Random":     "random",
	} {
		var p planners.PlanAlgorithm
		if err := p.UnmarshalText([]byte(name)); err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if p.Name() != expected {
			t.Fatalf("expected %q, found %q", expected, p.Name())
		}
	}

	var p planners.PlanAlgorithm
	if err := p.UnmarshalText([]byte("shuffle")); err == nil {
		t.Fatal("expected an error for an unknown algorithm")
	}
	if p.OrDefault().Name() != "sequential" {
		t.Fatalf("expected sequential default, found %q", p.OrDefault().Name())
	}
}

package immich_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"immich-sorter/internal/immich"
	"immich-sorter/internal/immich/api"
)

// fakeImmich is a minimal immich server for exercising the Client.
type fakeImmich struct {
	mu          sync.Mutex
	assets      map[api.AssetID]api.AssetResponse
	content     map[string]string
	hits        map[string]int
	suggestions []string
	searches    []api.SearchMetadataRequest
	failUpdate  bool
}

func (f *fakeImmich) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := strings.TrimPrefix(r.URL.Path, "/api")
	f.hits[r.Method+" "+p]++
	switch {
	case p == "/search/metadata":
		var req api.SearchMetadataRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.searches = append(f.searches, req)
		var resp api.SearchMetadataResponse
		for _, a := range f.assets {
			if req.Model == "" || (a.ExifInfo != nil && a.ExifInfo.Model == req.Model) {
				resp.Assets.Items = append(resp.Assets.Items, a)
			}
		}
		if req.Page == 1 {
			next := "2"
			resp.Assets.NextPage = &next
		}
		json.NewEncoder(w).Encode(resp)
	case p == "/search/suggestions":
		time.Sleep(10 * time.Millisecond)
		json.NewEncoder(w).Encode(f.suggestions)
	case p == "/assets" && r.Method == http.MethodPut && f.failUpdate:
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"message":"bad request"}`)
	case p == "/assets":
		w.WriteHeader(http.StatusNoContent)
	case strings.HasSuffix(p, "/thumbnail"), strings.HasSuffix(p, "/original"):
		data, ok := f.content[p]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		io.WriteString(w, data)
	case strings.HasPrefix(p, "/assets/"):
		a, ok := f.assets[api.AssetID(strings.TrimPrefix(p, "/assets/"))]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"message":"Not found or no asset.read access"}`)
			return
		}
		json.NewEncoder(w).Encode(a)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeImmich) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[key]
}

func newFake() *fakeImmich {
	return &fakeImmich{
		assets: map[api.AssetID]api.AssetResponse{
			"asset-1": {ID: "asset-1", Type: "IMAGE", IsFavorite: true, ExifInfo: &api.ExifInfo{Model: "X100V", ExifImageWidth: 6240}},
			"asset-2": {ID: "asset-2", Type: "VIDEO", ExifInfo: &api.ExifInfo{Model: "Pixel 8"}},
			"asset-3": {ID: "asset-3", Type: "IMAGE", IsTrashed: true},
		},
		content: map[string]string{
			"/assets/asset-1/thumbnail": "thumb-1",
			"/assets/asset-2/thumbnail": "thumb-2",
		},
		hits:        map[string]int{},
		suggestions: []string{"X100V", "", "--", "Pixel 8", "X100V"},
	}
}

func newClient(t *testing.T, f *fakeImmich, opts ...func(*immich.InMemoryConfig)) *immich.Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	cache := immich.InMemoryConfig{UseInMemoryCache: true, InMemoryCacheSize: 1 << 20}
	for _, opt := range opts {
		opt(&cache)
	}
	return immich.NewClient(
		immich.WithRemote(api.Config{
			ImmichAPIEndpoint: srv.URL,
			Retry:             api.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond},
		}, nil),
		immich.WithInMemoryCache(cache),
	)
}

func TestClient_ListAssets(t *testing.T) {
	f := newFake()
	client := newClient(t, f)

	page, err := client.ListAssets(context.Background(), immich.AssetQuery{Model: "X100V", Size: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Assets) != 1 || page.Assets[0].ID != "asset-1" {
		t.Fatalf("expected only asset-1, got %+v", page.Assets)
	}
	if page.NextPage != 2 {
		t.Fatalf("expected next page 2, got %d", page.NextPage)
	}
	got := page.Assets[0]
	if got.Disposition() != immich.Favorited || got.Width != 6240 || got.Model != "X100V" {
		t.Fatalf("unexpected asset %+v", got)
	}
	f.mu.Lock()
	req := f.searches[0]
	f.mu.Unlock()
	if req.Page != 1 || req.Size != 50 || !req.WithExif || req.Model != "X100V" {
		t.Fatalf("unexpected search request %+v", req)
	}
}

func TestClient_ListAssets_SkipsTrashed(t *testing.T) {
	client := newClient(t, newFake())
	page, err := client.ListAssets(context.Background(), immich.AssetQuery{Page: 2, Size: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(page.Assets))
	}
	for _, a := range page.Assets {
		if a.ID == "asset-3" {
			t.Fatal("trashed asset should be skipped")
		}
	}
	if page.NextPage != 0 {
		t.Fatalf("expected last page, got next page %d", page.NextPage)
	}
}

func TestClient_ListAssets_TakenBefore(t *testing.T) {
	f := newFake()
	client := newClient(t, f)

	cursor := time.Date(2024, 5, 1, 12, 0, 0, 500_000_000, time.FixedZone("CEST", 2*60*60))
	if _, err := client.ListAssets(context.Background(), immich.AssetQuery{TakenBefore: cursor, Size: 50}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := client.ListAssets(context.Background(), immich.AssetQuery{Size: 50}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if got := f.searches[0].TakenBefore; got != "2024-05-01T10:00:00.5Z" {
		t.Fatalf("unexpected takenBefore %q", got)
	}
	if got := f.searches[1].TakenBefore; got != "" {
		t.Fatalf("expected no takenBefore without a cursor, found %q", got)
	}
}

func TestClient_GetAsset_NotFound(t *testing.T) {
	client := newClient(t, newFake())
	ctx := context.Background()

	if _, err := client.GetAsset(ctx, "missing"); !errors.Is(err, immich.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := client.GetAsset(ctx, "asset-3"); !errors.Is(err, immich.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for trashed asset, got %v", err)
	}
	a, err := client.GetAsset(ctx, "asset-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.IsVideo() {
		t.Fatalf("expected a video, got %s", a.Type)
	}
}

func TestClient_GetThumbnail_Cached(t *testing.T) {
	f := newFake()
	client := newClient(t, f)
	ctx := context.Background()

	if client.HasContent("asset-1", immich.SizeThumbnail) {
		t.Fatal("content should not be cached yet")
	}
	for range 3 {
		content, err := client.GetThumbnail(ctx, "asset-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(content.Data) != "thumb-1" {
			t.Fatalf("unexpected content %q", content.Data)
		}
	}
	if n := f.count("GET /assets/asset-1/thumbnail"); n != 1 {
		t.Fatalf("expected 1 remote fetch, got %d", n)
	}
	if !client.HasContent("asset-1", immich.SizeThumbnail) {
		t.Fatal("content should be cached")
	}
}

func TestClient_GetThumbnail_EvictsBySize(t *testing.T) {
	f := newFake()
	client := newClient(t, f, func(c *immich.InMemoryConfig) { c.InMemoryCacheSize = 10 })
	ctx := context.Background()

	if _, err := client.GetThumbnail(ctx, "asset-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.GetThumbnail(ctx, "asset-2"); err != nil {
		t.Fatal(err)
	}
	if client.HasContent("asset-1", immich.SizeThumbnail) {
		t.Fatal("asset-1 should have been evicted")
	}
	if !client.HasContent("asset-2", immich.SizeThumbnail) {
		t.Fatal("asset-2 should be cached")
	}
}

func TestClient_GetFullImage_FetchError(t *testing.T) {
	client := newClient(t, newFake())
	_, err := client.GetFullImage(context.Background(), "asset-1")
	var ferr *immich.FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if ferr.Size != immich.SizeOriginal || ferr.ID != "asset-1" {
		t.Fatalf("unexpected FetchError %+v", ferr)
	}
	if !errors.Is(err, immich.ErrNotFound) {
		t.Fatalf("404 should unwrap to ErrNotFound, got %v", err)
	}
}

func TestClient_ApplyDisposition(t *testing.T) {
	f := newFake()
	client := newClient(t, f)
	ctx := context.Background()

	for _, change := range []immich.Change{immich.ChangeTrash, immich.ChangeRestore, immich.ChangeFavorite, immich.ChangeUnarchive} {
		if err := client.ApplyDisposition(ctx, "asset-1", change); err != nil {
			t.Fatalf("%s: unexpected error: %v", change, err)
		}
	}
	if n := f.count("PUT /assets"); n != 2 {
		t.Fatalf("expected 2 updates, got %d", n)
	}
	if n := f.count("POST /trash/restore/assets"); n != 1 {
		t.Fatalf("expected 1 restore, got %d", n)
	}

	f.mu.Lock()
	f.failUpdate = true
	f.mu.Unlock()
	err := client.ApplyDisposition(ctx, "asset-1", immich.ChangeArchive)
	var derr *immich.DispositionError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DispositionError, got %v", err)
	}
	if derr.Change != immich.ChangeArchive {
		t.Fatalf("unexpected change %s", derr.Change)
	}
}

func TestClient_CameraModels_FetchedOnce(t *testing.T) {
	f := newFake()
	client := newClient(t, f)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			models, err := client.CameraModels(context.Background())
			if err != nil || len(models) != 2 || models[0] != "Pixel 8" || models[1] != "X100V" {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()
	if n := failures.Load(); n != 0 {
		t.Fatalf("%d callers got unexpected camera models", n)
	}
	if _, err := client.CameraModels(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := f.count("GET /search/suggestions"); n != 1 {
		t.Fatalf("expected 1 remote fetch, got %d", n)
	}
}

func TestClient_Diagnostics(t *testing.T) {
	d := immich.NewClient().Diagnostics(context.Background())
	if d.RemoteConfigured || d.InMemoryConfigured {
		t.Fatalf("unexpected diagnostics %+v", d)
	}
	if d.RemoteConnectedError == "" {
		t.Fatal("expected a connection error without a remote")
	}
}

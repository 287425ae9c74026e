package immich

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"immich-sorter/internal/immich/api"
)

// Client provides an API for listing, downloading and triaging immich assets
// with seamless in-memory caching of downloaded content.
type Client struct {
	refreshInterval time.Duration
	cache           rwClient
	remote          remoteClient

	cameras struct {
		mu        sync.Mutex
		models    []string
		fetchedAt time.Time
		fetched   bool
		group     singleflight.Group
	}
}

// rwClient is a client that can both read and write asset content, typically
// the in-memory cache, not the remote immich server.
type rwClient interface {
	readClient
	writeClient
	Contains(id AssetID, size Size) bool
	Usage() (items int, bytes uint64)
}

// readClient is a client that can provide asset content.
type readClient interface {
	GetContent(id AssetID, size Size) (*Content, error)
}

// writeClient is a client that can store asset content.
type writeClient interface {
	StoreContent(id AssetID, size Size, content *Content) error
}

// remoteClient is the immich API surface the Client relies on.
type remoteClient interface {
	IsConnected(ctx context.Context) error
	SearchMetadata(ctx context.Context, req api.SearchMetadataRequest) (*api.SearchMetadataResponse, error)
	RandomAssets(ctx context.Context, count int) ([]api.AssetResponse, error)
	GetAssetInfo(ctx context.Context, id api.AssetID) (*api.AssetResponse, error)
	GetAssetContent(ctx context.Context, id api.AssetID, size api.Size) (*api.Content, error)
	UpdateAssets(ctx context.Context, req api.UpdateAssetsRequest) error
	DeleteAssets(ctx context.Context, ids []api.AssetID) error
	RestoreTrashedAssets(ctx context.Context, ids []api.AssetID) error
	SearchSuggestions(ctx context.Context, typ api.SuggestionType) ([]string, error)
}

// AssetQuery selects one page of the triage sequence.
type AssetQuery struct {
	// Model restricts the page to one camera model. Empty means any.
	Model string
	// TakenBefore, if set, restricts the page to assets created at or before
	// it.
	TakenBefore time.Time
	// Page is 1-based.
	Page int
	Size int
}

// Page is one page of asset summaries. NextPage is 0 on the last page.
type Page struct {
	Assets   []Asset
	NextPage int
}

// ListAssets returns one page of untriaged (timeline, not trashed) assets,
// newest first.
func (c *Client) ListAssets(ctx context.Context, q AssetQuery) (*Page, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	log := slog.With("model", q.Model, "page", q.Page)
	req := api.SearchMetadataRequest{
		Page:       q.Page,
		Size:       q.Size,
		WithExif:   true,
		Model:      q.Model,
		Order:      "desc",
		Visibility: "timeline",
	}
	if !q.TakenBefore.IsZero() {
		req.TakenBefore = q.TakenBefore.UTC().Format(time.RFC3339Nano)
		log = log.With("taken_before", req.TakenBefore)
	}
	resp, err := c.remote.SearchMetadata(ctx, req)
	if err != nil {
		log.Error("failed to list assets", "error", err)
		return nil, err
	}
	page := &Page{NextPage: resp.Next()}
	for _, r := range resp.Assets.Items {
		if r.IsTrashed {
			continue
		}
		page.Assets = append(page.Assets, assetFromResponse(r))
	}
	log.Info("listed assets", "count", len(page.Assets), "next_page", page.NextPage)
	return page, nil
}

// RandomAssets draws up to count random untriaged assets.
func (c *Client) RandomAssets(ctx context.Context, count int) ([]Asset, error) {
	resp, err := c.remote.RandomAssets(ctx, count)
	if err != nil {
		return nil, err
	}
	assets := make([]Asset, 0, len(resp))
	for _, r := range resp {
		a := assetFromResponse(r)
		if a.State.Trashed || a.State.Archived {
			continue
		}
		assets = append(assets, a)
	}
	return assets, nil
}

// GetAsset gets fresh metadata for an asset. ErrNotFound is returned if the
// asset no longer exists or is already in the trash.
func (c *Client) GetAsset(ctx context.Context, id AssetID) (*Asset, error) {
	resp, err := c.remote.GetAssetInfo(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	a := assetFromResponse(*resp)
	if a.State.Trashed {
		return nil, ErrNotFound
	}
	return &a, nil
}

// GetThumbnail retrieves the preview rendition of an asset.
func (c *Client) GetThumbnail(ctx context.Context, id AssetID) (*Content, error) {
	return c.getContent(ctx, id, SizeThumbnail)
}

// GetFullImage retrieves the original file of an asset.
func (c *Client) GetFullImage(ctx context.Context, id AssetID) (*Content, error) {
	return c.getContent(ctx, id, SizeOriginal)
}

// HasContent reports whether the rendition is currently cached.
func (c *Client) HasContent(id AssetID, size Size) bool {
	return c.cache.Contains(id, size)
}

// getContent retrieves asset content. It first checks the in-memory cache,
// then the remote server. On success, the in-memory cache is updated.
func (c *Client) getContent(ctx context.Context, id AssetID, size Size) (*Content, error) {
	log := slog.With("id", id, "size", size)
	{
		content, err := c.cache.GetContent(id, size)
		if err == nil {
			log.Debug("found content in cache", "bytes", humanize.Bytes(uint64(len(content.Data))))
			return content, nil
		}
		log.Debug("failed to get content from cache", "error", err)
	}
	{
		log.Debug("fetching content from remote")
		content, err := c.remote.GetAssetContent(ctx, id, size)
		if err != nil {
			log.Warn("failed to get content from remote", "error", err)
			return nil, &FetchError{ID: id, Size: size, Err: notFound(err)}
		}
		log.Info("fetched content from remote", "bytes", humanize.Bytes(uint64(len(content.Data))))
		if err := c.cache.StoreContent(id, size, content); err != nil {
			log.Debug("failed to store content in cache", "error", err)
		}
		return content, nil
	}
}

// CameraModels returns the distinct camera models known to immich, sorted.
// The list is fetched once and shared by concurrent callers; failures are not
// cached.
func (c *Client) CameraModels(ctx context.Context) ([]string, error) {
	c.cameras.mu.Lock()
	if c.cameras.fetched && !c.shouldRefresh(c.cameras.fetchedAt) {
		slog.Debug("found camera models in cache",
			"age", time.Since(c.cameras.fetchedAt).String(),
			"maxAge", c.refreshInterval.String())
		models := slices.Clone(c.cameras.models)
		c.cameras.mu.Unlock()
		return models, nil
	}
	c.cameras.mu.Unlock()

	v, err, _ := c.cameras.group.Do("camera-models", func() (any, error) {
		// Another caller may have finished fetching since the check above.
		c.cameras.mu.Lock()
		if c.cameras.fetched && !c.shouldRefresh(c.cameras.fetchedAt) {
			models := c.cameras.models
			c.cameras.mu.Unlock()
			return models, nil
		}
		c.cameras.mu.Unlock()

		slog.Info("fetching camera models from remote")
		values, err := c.remote.SearchSuggestions(context.WithoutCancel(ctx), api.SuggestionCameraModel)
		if err != nil {
			return nil, err
		}
		models := make([]string, 0, len(values))
		for _, v := range values {
			if v == "" || v == "--" || slices.Contains(models, v) {
				continue
			}
			models = append(models, v)
		}
		slices.Sort(models)

		c.cameras.mu.Lock()
		defer c.cameras.mu.Unlock()
		c.cameras.models = models
		c.cameras.fetchedAt = time.Now()
		c.cameras.fetched = true
		slog.Info("fetched camera models", "count", len(models))
		return models, nil
	})
	if err != nil {
		slog.Error("failed to get camera models", "error", err)
		return nil, err
	}
	return slices.Clone(v.([]string)), nil
}

func (c *Client) shouldRefresh(respTime time.Time) bool {
	if c.refreshInterval == 0 {
		return false
	}
	return time.Since(respTime) >= c.refreshInterval
}

// clientOpt is used for configuring the [Client].
type clientOpt func(*Client)

// WithRefreshInterval controls how long the camera model list is valid. A
// value of 0 means the list is fetched once per session.
func WithRefreshInterval(d time.Duration) clientOpt {
	return func(c *Client) { c.refreshInterval = d }
}

// WithInMemoryCache adds an in-memory content cache to the Client, if
// configured. Only one in-memory cache can be configured. If multiple are
// provided, the last is used.
func WithInMemoryCache(conf InMemoryConfig) clientOpt {
	return func(c *Client) {
		if !conf.UseInMemoryCache {
			return
		}
		c.cache = newInMemoryCacheClient(conf)
	}
}

// WithRemote adds a remote client. observe, if not nil, receives the outcome
// of every request. Only one remote client can be configured. If multiple are
// provided, the last is used.
func WithRemote(conf api.Config, observe func(api.Call)) clientOpt {
	return func(c *Client) {
		if observe == nil {
			c.remote = api.NewClient(conf)
			return
		}
		c.remote = api.NewClient(conf, api.WithObserver(observe))
	}
}

// NewClient initialized a new client with the provided options. See
// [WithInMemoryCache] and [WithRemote].
func NewClient(opts ...clientOpt) *Client {
	noop := noopClient{}
	client := &Client{
		cache:  noop,
		remote: noop,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// noopClient provides a noop implementation for the cache and remote clients.
type noopClient struct{}

var errNoop = errors.New("noop")

func (noopClient) GetContent(AssetID, Size) (*Content, error)         { return nil, errNoop }
func (noopClient) StoreContent(AssetID, Size, *Content) error         { return errNoop }
func (noopClient) Contains(AssetID, Size) bool                        { return false }
func (noopClient) Usage() (int, uint64)                               { return 0, 0 }
func (noopClient) IsConnected(context.Context) error                  { return errNoop }
func (noopClient) RandomAssets(context.Context, int) ([]api.AssetResponse, error) {
	return nil, errNoop
}
func (noopClient) SearchMetadata(context.Context, api.SearchMetadataRequest) (*api.SearchMetadataResponse, error) {
	return nil, errNoop
}
func (noopClient) GetAssetInfo(context.Context, api.AssetID) (*api.AssetResponse, error) {
	return nil, errNoop
}
func (noopClient) GetAssetContent(context.Context, api.AssetID, api.Size) (*api.Content, error) {
	return nil, errNoop
}
func (noopClient) UpdateAssets(context.Context, api.UpdateAssetsRequest) error { return errNoop }
func (noopClient) DeleteAssets(context.Context, []api.AssetID) error          { return errNoop }
func (noopClient) RestoreTrashedAssets(context.Context, []api.AssetID) error  { return errNoop }
func (noopClient) SearchSuggestions(context.Context, api.SuggestionType) ([]string, error) {
	return nil, errNoop
}

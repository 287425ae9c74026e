package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"immich-sorter/internal/immich/api"
)

// recordingSleep records the requested retry delays and fires immediately.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

// timer implements backoff.Timer for a single request.
type timer struct {
	rs *recordingSleep
	c  chan time.Time
}

func (r *recordingSleep) newTimer() backoff.Timer {
	return &timer{rs: r, c: make(chan time.Time, 1)}
}

func (t *timer) Start(d time.Duration) {
	t.rs.mu.Lock()
	t.rs.delays = append(t.rs.delays, d)
	t.rs.mu.Unlock()
	t.c <- time.Now()
}

func (t *timer) Stop() {}

func (t *timer) C() <-chan time.Time { return t.c }

func newTestClient(t *testing.T, h http.Handler, opts ...func(*api.Config)) (*api.Client, *recordingSleep) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	conf := api.Config{
		ImmichAPIEndpoint: srv.URL,
		ImmichAPIKey:      "secret",
		Retry: api.RetryConfig{
			MaxAttempts: 4,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    time.Second,
		},
	}
	for _, opt := range opts {
		opt(&conf)
	}
	rs := &recordingSleep{}
	return api.NewClient(conf, api.WithTimer(rs.newTimer)), rs
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	client, rs := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(api.AssetResponse{ID: "asset-1", Type: "IMAGE"})
	}))

	md, err := client.GetAssetInfo(context.Background(), "asset-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if md.ID != "asset-1" {
		t.Fatalf(`expected "asset-1", got %q`, md.ID)
	}
	if n := hits.Load(); n != 3 {
		t.Fatalf("expected 3 requests, got %d", n)
	}
	if len(rs.delays) != 2 {
		t.Fatalf("expected 2 delays, got %v", rs.delays)
	}
	var total time.Duration
	for _, d := range rs.delays {
		total += d
	}
	if total != 300*time.Millisecond {
		t.Fatalf("expected total delay 300ms, got %s", total)
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	client, rs := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"message":"Not found or no asset.read access"}`)
	}))

	_, err := client.GetAssetInfo(context.Background(), "asset-1")
	var serr *api.StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if !serr.IsNotFound() {
		t.Fatalf("expected not found, got %v", serr)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("expected 1 request, got %d", n)
	}
	if len(rs.delays) != 0 {
		t.Fatalf("expected no delays, got %v", rs.delays)
	}
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	client, rs := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.GetAssetContent(context.Background(), "asset-1", api.SizeThumbnail)
	if !api.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if n := hits.Load(); n != 4 {
		t.Fatalf("expected 4 requests, got %d", n)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if len(rs.delays) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, rs.delays)
	}
	for i := range want {
		if rs.delays[i] != want[i] {
			t.Fatalf("delays[%d] should be %s, found %s", i, want[i], rs.delays[i])
		}
	}
}

func TestClient_SerializesRequests(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		w.Write([]byte("img"))
	}))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.GetAssetContent(context.Background(), "asset-1", api.SizeOriginal); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if m := maxInFlight.Load(); m != 1 {
		t.Fatalf("expected at most 1 request in flight, saw %d", m)
	}
}

func TestClient_RewritesRequests(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery, gotKey = r.URL.Path, r.URL.RawQuery, r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "image/webp")
		w.Write([]byte("thumb"))
	}))

	content, err := client.GetAssetContent(context.Background(), "asset-1", api.SizeThumbnail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/api/assets/asset-1/thumbnail" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotQuery != "size=preview" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if gotKey != "secret" {
		t.Fatalf("unexpected api key %q", gotKey)
	}
	if content.ContentType != "image/webp" || string(content.Data) != "thumb" {
		t.Fatalf("unexpected content %q (%s)", content.Data, content.ContentType)
	}
}

func TestClient_DispositionBodies(t *testing.T) {
	type seen struct {
		method, path string
		body         map[string]any
	}
	var got []seen
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		got = append(got, seen{r.Method, r.URL.Path, body})
		w.WriteHeader(http.StatusNoContent)
	}))

	ctx := context.Background()
	fav := true
	if err := client.UpdateAssets(ctx, api.UpdateAssetsRequest{IDs: []api.AssetID{"a"}, IsFavorite: &fav}); err != nil {
		t.Fatal(err)
	}
	if err := client.DeleteAssets(ctx, []api.AssetID{"a"}); err != nil {
		t.Fatal(err)
	}
	if err := client.RestoreTrashedAssets(ctx, []api.AssetID{"a"}); err != nil {
		t.Fatal(err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(got))
	}
	if got[0].method != http.MethodPut || got[0].path != "/api/assets" || got[0].body["isFavorite"] != true {
		t.Fatalf("unexpected update request %+v", got[0])
	}
	if _, ok := got[0].body["isArchived"]; ok {
		t.Fatalf("isArchived should be omitted, got %+v", got[0].body)
	}
	if got[1].method != http.MethodDelete || got[1].path != "/api/assets" || got[1].body["force"] != false {
		t.Fatalf("unexpected delete request %+v", got[1])
	}
	if got[2].method != http.MethodPost || got[2].path != "/api/trash/restore/assets" {
		t.Fatalf("unexpected restore request %+v", got[2])
	}
}

func TestClient_ObservesCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	var calls []api.Call
	client := api.NewClient(api.Config{ImmichAPIEndpoint: srv.URL}, api.WithObserver(func(c api.Call) {
		calls = append(calls, c)
	}))

	client.GetAssetInfo(context.Background(), "missing")
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if c := calls[0]; c.StatusCode != http.StatusNotFound || c.Attempts != 1 || c.Err == nil || c.Path != "/assets/missing" {
		t.Fatalf("unexpected call %+v", c)
	}
}

func TestSearchMetadataResponse_Next(t *testing.T) {
	var resp api.SearchMetadataResponse
	if n := resp.Next(); n != 0 {
		t.Fatalf("expected 0 for missing next page, got %d", n)
	}
	next := "3"
	resp.Assets.NextPage = &next
	if n := resp.Next(); n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
}

func TestRetryConfig_NewBackOff(t *testing.T) {
	r := api.RetryConfig{MaxAttempts: 6, BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
	b := r.NewBackOff(context.Background())
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
		500 * time.Millisecond,
		backoff.Stop,
	}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Fatalf("delay %d should be %s, found %s", i, w, got)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := r.NewBackOff(ctx).NextBackOff(); got != backoff.Stop {
		t.Fatalf("expected no retry after the context is done, found %s", got)
	}
}

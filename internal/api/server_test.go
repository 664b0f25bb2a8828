package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spectrail/specwatch/internal/detect"
	"github.com/spectrail/specwatch/internal/monitor"
	"github.com/spectrail/specwatch/internal/product"
)

type stubFetcher struct {
	result  product.Result
	results []product.Result
}

func (f *stubFetcher) Fetch(_ context.Context, url string, _ bool) product.Result {
	res := f.result
	res.URL = url
	return res
}

func (f *stubFetcher) BatchFetch(_ context.Context, urls []string, _ int, _ bool) []product.Result {
	if f.results != nil {
		return f.results
	}
	out := make([]product.Result, len(urls))
	for i, u := range urls {
		res := f.result
		res.URL = u
		out[i] = res
	}
	return out
}

type stubChecker struct {
	result monitor.CheckResult
	err    error
}

func (c *stubChecker) CheckURL(_ context.Context, url string) (monitor.CheckResult, error) {
	c.result.URL = url
	return c.result, c.err
}

func newTestServer(fetcher fetchService, checker checkService) *Server {
	return NewServer(fetcher, detect.New(detect.DefaultConfig(), nil, nil), checker, Config{MaxBatchSize: 3}, nil)
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubFetcher{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubFetcher{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestFetchEndpoint(t *testing.T) {
	t.Parallel()

	snap := product.Snapshot{URL: "https://shop.example.com/p", Type: "Faucet"}
	s := newTestServer(&stubFetcher{result: product.Result{Success: true, Snapshot: &snap}}, nil)

	rec := postJSON(t, s.Handler(), "/v1/fetch", fetchRequest{URL: "https://shop.example.com/p"})
	require.Equal(t, http.StatusOK, rec.Code)

	var res product.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.Success)
	require.Equal(t, "https://shop.example.com/p", res.URL)
	require.NotNil(t, res.Snapshot)
}

func TestFetchEndpointRejectsMissingURL(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubFetcher{}, nil)
	rec := postJSON(t, s.Handler(), "/v1/fetch", fetchRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFetchEndpointMalformedInputStatus(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubFetcher{result: product.Failure("", product.ErrKindMalformedInput, fmt.Errorf("invalid url"))}, nil)
	rec := postJSON(t, s.Handler(), "/v1/fetch", fetchRequest{URL: "not-a-url"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestBatchEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubFetcher{result: product.Result{Success: true, FromCache: true}}, nil)
	rec := postJSON(t, s.Handler(), "/v1/fetch/batch", batchFetchRequest{
		URLs: []string{"https://a.example/1", "https://b.example/2"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp batchFetchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Total)
	require.Equal(t, 2, resp.Succeeded)
	require.Equal(t, 2, resp.FromCache)
	require.Len(t, resp.Results, 2)
}

func TestBatchEndpointCapsSize(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubFetcher{}, nil)
	rec := postJSON(t, s.Handler(), "/v1/fetch/batch", batchFetchRequest{
		URLs: []string{"a", "b", "c", "d"},
	})
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestChangesEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubFetcher{}, nil)
	oldSnap := product.Snapshot{
		URL: "https://shop.example.com/p", Type: "Faucet",
		Description: "Chrome kitchen faucet", ImageReference: "a.jpg", ConfidenceScore: 0.9,
	}
	newSnap := oldSnap
	newSnap.Type = "Sink"

	rec := postJSON(t, s.Handler(), "/v1/changes", changesRequest{Old: oldSnap, New: newSnap})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp changesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Changes, 1)
	require.Equal(t, 1, resp.Summary.Count)
	require.False(t, resp.Discontinued)
}

func TestCheckEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubFetcher{}, &stubChecker{result: monitor.CheckResult{Discontinued: true}})
	rec := postJSON(t, s.Handler(), "/v1/check", checkRequest{URL: "https://shop.example.com/p"})
	require.Equal(t, http.StatusOK, rec.Code)

	var result monitor.CheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.True(t, result.Discontinued)
	require.Equal(t, "https://shop.example.com/p", result.URL)
}

func TestCheckEndpointWithoutMonitor(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubFetcher{}, nil)
	rec := postJSON(t, s.Handler(), "/v1/check", checkRequest{URL: "https://shop.example.com/p"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCheckEndpointUpstreamFailure(t *testing.T) {
	t.Parallel()

	s := newTestServer(&stubFetcher{}, &stubChecker{err: fmt.Errorf("refresh failed")})
	rec := postJSON(t, s.Handler(), "/v1/check", checkRequest{URL: "https://shop.example.com/p"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

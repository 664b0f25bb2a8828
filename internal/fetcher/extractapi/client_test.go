package extractapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spectrail/specwatch/internal/product"
)

func TestRetrieveParsesServiceResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req scrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "https://shop.example.com/p", req.URL)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"html": "<html><title>KF-100</title></html>",
				"metadata": map[string]any{
					"sourceURL":  "https://shop.example.com/p",
					"statusCode": 200,
				},
			},
		})
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, APIKey: "sk-test"})
	require.NoError(t, err)
	require.Equal(t, product.MethodExtract, c.Method())

	raw, err := c.Retrieve(context.Background(), "https://shop.example.com/p")
	require.NoError(t, err)
	require.Equal(t, 200, raw.StatusCode)
	require.Equal(t, "https://shop.example.com/p", raw.FinalURL)
	require.Contains(t, string(raw.Body), "KF-100")
}

func TestRetrieveSurfacesServiceFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "target blocked the request",
		})
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = c.Retrieve(context.Background(), "https://shop.example.com/p")
	require.ErrorContains(t, err, "target blocked the request")
}

func TestRetrieveRejectsNon200(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = c.Retrieve(context.Background(), "https://shop.example.com/p")
	require.ErrorContains(t, err, "429")
}

func TestNewRequiresEndpoint(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

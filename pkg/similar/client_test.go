package similar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_ParsesItemsAndScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/similar", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req LookupRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "acme.com", req.Domain)
		assert.InDelta(t, 0.8, req.SimilarityWeight, 0.001)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"items": [
				{"id": "c1", "name": "Beta Corp", "domain": "beta.io", "keywords": ["saas", "crm"]},
				{"id": "c2", "name": "Gamma Inc", "domain": "gamma.co"}
			],
			"metadata": {"scores": {"c1": 0.92}}
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := c.Lookup(context.Background(), LookupRequest{Domain: "acme.com", SimilarityWeight: 0.8})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "Beta Corp", resp.Items[0].Name)
	assert.Equal(t, []string{"saas", "crm"}, resp.Items[0].Keywords)
	assert.InDelta(t, 0.92, resp.Scores["c1"], 0.001)
	_, ok := resp.Scores["c2"]
	assert.False(t, ok)
	assert.NotEmpty(t, resp.RawBody)
}

func TestLookup_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "rate limit exceeded"}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.Lookup(context.Background(), LookupRequest{Domain: "x.com"})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Contains(t, string(se.Body), "rate limit")
}

func TestLookup_MalformedSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := c.Lookup(context.Background(), LookupRequest{Domain: "acme.com"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, resp.Items)
	assert.Equal(t, "not json at all", string(resp.RawBody))
}

func TestStatusError_Truncation(t *testing.T) {
	body := make([]byte, 500)
	for i := range body {
		body[i] = 'a'
	}
	se := &StatusError{StatusCode: 500, Body: body}
	assert.Less(t, len(se.Error()), 300)
	assert.Contains(t, se.Error(), "...")
}

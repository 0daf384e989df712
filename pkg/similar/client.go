// Package similar is the client for the external similar-company
// lookup API. The provider is treated as opaque: one domain in, a list
// of similar companies plus per-item similarity scores out.
package similar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.similarityhub.io"

// Client performs similar-company lookups.
type Client interface {
	Lookup(ctx context.Context, req LookupRequest) (*LookupResponse, error)
}

// LookupRequest is the request body for POST /v1/similar.
type LookupRequest struct {
	Domain           string  `json:"domain"`
	SimilarityWeight float64 `json:"similarity_weight"`
	CountryCode      string  `json:"country_code,omitempty"`
}

// Item is a single similar company returned by the provider.
type Item struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Domain      string   `json:"domain"`
	Website     string   `json:"website"`
	Industry    string   `json:"industry"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	LogoURL     string   `json:"logo_url"`
}

// LookupResponse carries the parsed provider payload together with the
// verbatim body for the raw-response audit trail. A well-formed 2xx
// with an unparseable body yields Items == nil and no error.
type LookupResponse struct {
	StatusCode int
	RawBody    []byte
	Items      []Item
	Scores     map[string]float64
}

// StatusError is a non-2xx application response from the provider.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("similar: unexpected status %d: %s", e.StatusCode, truncate(e.Body, 200))
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the default per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a similar-company API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// wirePayload is the provider's success body.
type wirePayload struct {
	Items    []Item `json:"items"`
	Metadata struct {
		Scores map[string]float64 `json:"scores"`
	} `json:"metadata"`
}

func (c *httpClient) Lookup(ctx context.Context, req LookupRequest) (*LookupResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "similar: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/similar", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "similar: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "similar: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "similar: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: respBody}
	}

	result := &LookupResponse{
		StatusCode: resp.StatusCode,
		RawBody:    respBody,
	}

	// The call succeeded even if the body is not the expected shape;
	// extraction simply yields nothing in that case.
	var payload wirePayload
	if err := json.Unmarshal(respBody, &payload); err == nil {
		result.Items = payload.Items
		result.Scores = payload.Metadata.Scores
	}

	return result, nil
}

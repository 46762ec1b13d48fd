package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// braveProvider queries the Brave Search REST API. It is only installed when
// an API key is configured; DuckDuckGo remains the keyless fallback.
type braveProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func newBraveSearchProvider(apiKey string) *braveProvider {
	return &braveProvider{
		apiKey:   apiKey,
		endpoint: braveSearchEndpoint,
		client:   &http.Client{Timeout: searchTimeoutSeconds * time.Second},
	}
}

func (p *braveProvider) Name() string { return "brave" }

// braveQuery maps the tool's search parameters onto Brave's query string.
// Only parameters the tool surface exposes are sent.
func braveQuery(params searchParams) url.Values {
	q := url.Values{"q": []string{params.Query}}
	if params.Count > 0 {
		q.Set("count", strconv.Itoa(params.Count))
	}
	if params.Country != "" {
		q.Set("country", params.Country)
	}
	if params.SearchLang != "" {
		q.Set("search_lang", params.SearchLang)
	}
	if f := normalizeFreshness(params.Freshness); f != "" {
		q.Set("freshness", f)
	}
	return q
}

// braveWebResponse is the slice of the API response this tool reads; the
// result objects share the tool's searchResult JSON shape.
type braveWebResponse struct {
	Web struct {
		Results []searchResult `json:"results"`
	} `json:"web"`
}

func (p *braveProvider) Search(ctx context.Context, params searchParams) ([]searchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.URL.RawQuery = braveQuery(params).Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave API returned %d: %s", resp.StatusCode, truncateStr(string(body), 200))
	}

	var decoded braveWebResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	results := decoded.Web.Results
	if params.Count > 0 && len(results) > params.Count {
		results = results[:params.Count]
	}
	return results, nil
}

package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ddgProvider scrapes the DuckDuckGo HTML endpoint. Keyless fallback when no
// Brave API key is configured; freshness and locale params are ignored.
type ddgProvider struct {
	client *http.Client
}

func newDDGProvider() *ddgProvider {
	return &ddgProvider{
		client: &http.Client{Timeout: searchTimeoutSeconds * time.Second},
	}
}

func (p *ddgProvider) Name() string { return "duckduckgo" }

func (p *ddgProvider) Search(ctx context.Context, params searchParams) ([]searchResult, error) {
	endpoint := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(params.Query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", webSearchUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return parseDDGResults(string(body), params.Count), nil
}

var (
	ddgLinkRe    = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
)

func parseDDGResults(html string, count int) []searchResult {
	links := ddgLinkRe.FindAllStringSubmatch(html, count+5)
	if len(links) == 0 {
		return nil
	}
	snippets := ddgSnippetRe.FindAllStringSubmatch(html, count+5)

	results := make([]searchResult, 0, count)
	for i := 0; i < len(links) && len(results) < count; i++ {
		title := strings.TrimSpace(htmlTagRe.ReplaceAllString(links[i][2], ""))
		desc := ""
		if i < len(snippets) {
			desc = strings.TrimSpace(htmlTagRe.ReplaceAllString(snippets[i][1], ""))
		}
		results = append(results, searchResult{
			Title:       title,
			URL:         unwrapDDGRedirect(links[i][1]),
			Description: desc,
		})
	}
	return results
}

// unwrapDDGRedirect extracts the destination from DDG's redirect wrapper
// (the uddg= query parameter). Unwrapped URLs pass through.
func unwrapDDGRedirect(raw string) string {
	if !strings.Contains(raw, "uddg=") {
		return raw
	}
	u, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	idx := strings.Index(u, "uddg=")
	if idx == -1 {
		return raw
	}
	dest := u[idx+len("uddg="):]
	if amp := strings.Index(dest, "&"); amp != -1 {
		dest = dest[:amp]
	}
	return dest
}

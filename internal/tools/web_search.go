package tools

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

const (
	defaultSearchCount   = 5
	maxSearchCount       = 10
	searchTimeoutSeconds = 30
	braveSearchEndpoint  = "https://api.search.brave.com/res/v1/web/search"
	webSearchUserAgent   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// SearchProvider abstracts a web search backend.
type SearchProvider interface {
	Search(ctx context.Context, params searchParams) ([]searchResult, error)
	Name() string
}

type searchParams struct {
	Query      string
	Count      int
	Country    string
	SearchLang string
	Freshness  string
}

type searchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

var (
	freshnessShortcuts = map[string]bool{"pd": true, "pw": true, "pm": true, "py": true}
	freshnessRangeRe   = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})to(\d{4}-\d{2}-\d{2})$`)
)

func normalizeFreshness(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return ""
	}
	if freshnessShortcuts[v] {
		return v
	}
	if m := freshnessRangeRe.FindStringSubmatch(v); len(m) == 3 {
		start, errS := time.Parse("2006-01-02", m[1])
		end, errE := time.Parse("2006-01-02", m[2])
		if errS == nil && errE == nil && !start.After(end) {
			return v
		}
	}
	return ""
}

// WebSearchTool searches the web through a provider chain: Brave when an API
// key is configured, DuckDuckGo otherwise. First provider to succeed wins.
type WebSearchTool struct {
	providers []SearchProvider
	cache     *webCache
}

// WebSearchConfig tunes the web_search tool.
type WebSearchConfig struct {
	BraveAPIKey string
	CacheTTL    time.Duration
}

func NewWebSearchTool(cfg WebSearchConfig) *WebSearchTool {
	var providers []SearchProvider
	if cfg.BraveAPIKey != "" {
		providers = append(providers, newBraveSearchProvider(cfg.BraveAPIKey))
	}
	providers = append(providers, newDDGProvider())

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &WebSearchTool{
		providers: providers,
		cache:     newWebCache(defaultCacheMaxEntries, ttl),
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns titles, URLs, and snippets from search results."
}
func (t *WebSearchTool) Ephemeral() bool { return false }

func (t *WebSearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query to look up on the web",
			},
			"num_results": map[string]any{
				"type":        "number",
				"description": "Number of search results to return (1-10).",
				"minimum":     1.0,
				"maximum":     float64(maxSearchCount),
			},
			"country": map[string]any{
				"type":        "string",
				"description": "2-letter country code for region-specific results (e.g. 'DE', 'US').",
			},
			"search_lang": map[string]any{
				"type":        "string",
				"description": "ISO language code for search results (e.g. 'de', 'en').",
			},
			"freshness": map[string]any{
				"type":        "string",
				"description": "Filter by discovery time: 'pd', 'pw', 'pm', 'py', or range 'YYYY-MM-DDtoYYYY-MM-DD'.",
			},
		},
		"required":             []string{"query"},
		"additionalProperties": false,
	}
}

func (t *WebSearchTool) Run(ctx context.Context, tc *ToolContext, args map[string]any) (map[string]any, error) {
	query, err := requireString(args, "query")
	if err != nil {
		return nil, err
	}

	count := defaultSearchCount
	if c, ok := args["num_results"].(float64); ok && int(c) >= 1 && int(c) <= maxSearchCount {
		count = int(c)
	}
	country, _ := args["country"].(string)
	searchLang, _ := args["search_lang"].(string)
	freshness, _ := args["freshness"].(string)

	params := searchParams{
		Query:      query,
		Count:      count,
		Country:    country,
		SearchLang: searchLang,
		Freshness:  freshness,
	}

	cacheKey := buildSearchCacheKey(params)
	if cached, ok := t.cache.get(cacheKey); ok {
		slog.Debug("web_search cache hit", "query", query)
		var out map[string]any
		if jerr := json.Unmarshal([]byte(cached), &out); jerr == nil {
			return out, nil
		}
	}

	var lastErr error
	for _, provider := range t.providers {
		results, perr := provider.Search(ctx, params)
		if perr != nil {
			slog.Warn("web_search provider failed", "provider", provider.Name(), "error", perr)
			lastErr = perr
			continue
		}

		items := make([]any, 0, len(results))
		for _, r := range results {
			items = append(items, map[string]any{
				"title":       r.Title,
				"url":         r.URL,
				"description": r.Description,
			})
		}
		out := map[string]any{
			"type":     "web_search_result",
			"query":    query,
			"provider": provider.Name(),
			"results":  items,
			"count":    len(items),
		}
		if encoded, jerr := json.Marshal(out); jerr == nil {
			t.cache.set(cacheKey, string(encoded))
		}
		return out, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all search providers failed: %w", lastErr)
	}
	return nil, fmt.Errorf("no search providers configured")
}

func buildSearchCacheKey(p searchParams) string {
	parts := []string{
		p.Query,
		fmt.Sprintf("%d", p.Count),
		orDefault(p.Country, "default"),
		orDefault(p.SearchLang, "default"),
		orDefault(p.Freshness, "default"),
	}
	return strings.Join(parts, ":")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

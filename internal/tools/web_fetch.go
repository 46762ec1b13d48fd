package tools

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultFetchMaxChars    = 50000
	defaultFetchMaxRedirect = 3
	fetchTimeoutSeconds     = 30
	fetchUserAgent          = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// WebFetchTool fetches a URL and extracts its content as markdown or plain
// text. Redirects are capped and every hop is SSRF-checked.
type WebFetchTool struct {
	maxChars int
	cache    *webCache
}

// WebFetchConfig tunes the web_fetch tool.
type WebFetchConfig struct {
	MaxChars int
	CacheTTL time.Duration
}

func NewWebFetchTool(cfg WebFetchConfig) *WebFetchTool {
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultFetchMaxChars
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &WebFetchTool{
		maxChars: maxChars,
		cache:    newWebCache(defaultCacheMaxEntries, ttl),
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch a URL and extract its content. Supports HTML (converted to markdown/text), JSON, and plain text."
}
func (t *WebFetchTool) Ephemeral() bool { return false }

func (t *WebFetchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch.",
			},
			"extract_mode": map[string]any{
				"type":        "string",
				"description": `Extraction mode ("markdown" or "text"). Default: "markdown".`,
				"enum":        []string{"markdown", "text"},
			},
			"max_chars": map[string]any{
				"type":        "number",
				"description": "Maximum characters to return (truncates when exceeded).",
				"minimum":     100.0,
			},
		},
		"required":             []string{"url"},
		"additionalProperties": false,
	}
}

func (t *WebFetchTool) Run(ctx context.Context, tc *ToolContext, args map[string]any) (map[string]any, error) {
	rawURL, err := requireString(args, "url")
	if err != nil {
		return nil, err
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return webFetchError(rawURL, "invalid URL: "+err.Error(), "InvalidURL"), nil
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return webFetchError(rawURL, "only http and https URLs are supported", "InvalidURL"), nil
	}
	if err := checkSSRF(rawURL); err != nil {
		return webFetchError(rawURL, "SSRF protection: "+err.Error(), "SSRFBlocked"), nil
	}

	extractMode := "markdown"
	if em, ok := args["extract_mode"].(string); ok && (em == "markdown" || em == "text") {
		extractMode = em
	}
	maxChars := t.maxChars
	if mc, ok := args["max_chars"].(float64); ok && int(mc) >= 100 {
		maxChars = int(mc)
	}

	cacheKey := fmt.Sprintf("fetch:%s:%s:%d", rawURL, extractMode, maxChars)
	if cached, ok := t.cache.get(cacheKey); ok {
		slog.Debug("web_fetch cache hit", "url", rawURL)
		var out map[string]any
		if jerr := json.Unmarshal([]byte(cached), &out); jerr == nil {
			return out, nil
		}
	}

	result, err := t.doFetch(ctx, rawURL, extractMode, maxChars)
	if err != nil {
		return webFetchError(rawURL, err.Error(), "FetchFailed"), nil
	}

	if encoded, jerr := json.Marshal(result); jerr == nil {
		t.cache.set(cacheKey, string(encoded))
	}
	return result, nil
}

func webFetchError(url, message, errorType string) map[string]any {
	return map[string]any{
		"type":       "web_fetch_error",
		"url":        url,
		"error":      message,
		"error_type": errorType,
	}
}

func (t *WebFetchTool) doFetch(ctx context.Context, rawURL, extractMode string, maxChars int) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	redirectCount := 0
	client := &http.Client{
		Timeout: fetchTimeoutSeconds * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 15 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			redirectCount++
			if redirectCount > defaultFetchMaxRedirect {
				return fmt.Errorf("stopped after %d redirects", defaultFetchMaxRedirect)
			}
			if err := checkSSRF(req.URL.String()); err != nil {
				return fmt.Errorf("redirect SSRF protection: %w", err)
			}
			return nil
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Read extra to account for HTML markup stripped during extraction.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxChars*4)))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	finalURL := resp.Request.URL.String()

	var text, extractor string
	switch {
	case strings.Contains(contentType, "application/json"):
		text, extractor = extractJSON(body)
	case strings.Contains(contentType, "text/markdown"):
		text, extractor = string(body), "markdown"
		if extractMode == "text" {
			text = markdownToText(text)
		}
	case strings.Contains(contentType, "text/html"),
		strings.Contains(contentType, "application/xhtml"):
		if extractMode == "markdown" {
			text, extractor = htmlToMarkdown(string(body)), "html-to-markdown"
		} else {
			text, extractor = htmlToText(string(body)), "html-to-text"
		}
	default:
		text, extractor = string(body), "raw"
	}

	truncated := false
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}

	return map[string]any{
		"type":         "web_fetch_result",
		"url":          rawURL,
		"final_url":    finalURL,
		"status":       resp.StatusCode,
		"content_type": contentType,
		"extractor":    extractor,
		"truncated":    truncated,
		"content":      wrapExternalContent(text, "Web Fetch", true),
	}, nil
}

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

const (
	webSearchUserAgent   = "Mozilla/5.0 (compatible; nanobot-gateway/1.0)"
	searchTimeoutSeconds = 10
	defaultResultCount   = 5
)

type searchArgs struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

var (
	ddgLinkRe = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	htmlTagRe = regexp.MustCompile(`<[^>]+>`)
)

// NewWebSearchTool is grounded on the DuckDuckGo HTML-scrape provider the
// teacher ships (web_search_ddg.go) — the one search backend that needs no
// API key, so it's the default here. The researcher agent's system prompt
// tells the LLM to call this first (§4.4 step 8).
func NewWebSearchTool() Tool {
	client := &http.Client{Timeout: searchTimeoutSeconds * time.Second}
	return Tool{
		Name:        "web_search",
		Description: "Search the public web and return a short list of results with titles and URLs.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string", "description": "search query"},
				"count": map[string]interface{}{"type": "integer", "description": "max results, default 5"},
			},
			"required": []string{"query"},
		},
		Run: func(ctx context.Context, rawArgs map[string]interface{}) (string, error) {
			var args searchArgs
			if err := DecodeArgs(rawArgs, &args); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if strings.TrimSpace(args.Query) == "" {
				return "", fmt.Errorf("query must not be empty")
			}
			count := args.Count
			if count <= 0 {
				count = defaultResultCount
			}

			searchURL := fmt.Sprintf("https://html.duckduckgo.com/html/?q=%s", url.QueryEscape(args.Query))
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
			if err != nil {
				return "", err
			}
			req.Header.Set("User-Agent", webSearchUserAgent)

			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return "", fmt.Errorf("read response: %w", err)
			}

			results := extractDDGResults(string(body), count)
			if len(results) == 0 {
				return "no results", nil
			}

			var b strings.Builder
			for i, r := range results {
				fmt.Fprintf(&b, "%d. %s — %s\n", i+1, r.title, r.url)
			}
			return b.String(), nil
		},
	}
}

type ddgResult struct {
	title string
	url   string
}

func extractDDGResults(html string, count int) []ddgResult {
	matches := ddgLinkRe.FindAllStringSubmatch(html, count+5)
	out := make([]ddgResult, 0, len(matches))
	for _, m := range matches {
		if len(out) >= count {
			break
		}
		title := strings.TrimSpace(htmlTagRe.ReplaceAllString(m[2], ""))
		if title == "" {
			continue
		}
		out = append(out, ddgResult{title: title, url: m[1]})
	}
	return out
}

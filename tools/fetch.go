package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	readability "github.com/go-shiori/go-readability"
	"github.com/temoto/robotstxt"

	"github.com/toolrpc/mcpd"
)

const (
	fetchUserAgent   = "mcpd/0.1 (+https://github.com/toolrpc/mcpd)"
	fetchTimeout     = 30 * time.Second
	defaultMaxLength = 5000
)

// Fetch is a tool that downloads a URL and returns its contents, converted
// to markdown unless raw output is requested or the body is not HTML.
// Fetches honor the target host's robots.txt.
type Fetch struct {
	client *http.Client
}

// NewFetch creates a fetch tool with its own HTTP client.
func NewFetch() Fetch {
	return NewFetchWithClient(&http.Client{Timeout: fetchTimeout})
}

// NewFetchWithClient creates a fetch tool using the given HTTP client.
func NewFetchWithClient(client *http.Client) Fetch {
	return Fetch{client: client}
}

// Def implements mcpd.ToolDef.
func (Fetch) Def() mcpd.Tool {
	return mcpd.Tool{
		Name:        "fetch",
		Description: "Fetches a URL from the internet and extracts its contents as markdown",
		InputSchema: fetchSchema,
	}
}

// Call implements mcpd.ToolDef. Every failure the peer can act on, from a
// bad URL to a denied robots.txt, is reported as an error result.
func (f Fetch) Call(ctx context.Context, args fetchArgs) (mcpd.CallToolResult, error) {
	target, err := url.Parse(args.URL)
	if err != nil {
		return errorResult(fmt.Sprintf("Invalid URL: %v", err)), nil
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return errorResult(fmt.Sprintf("Invalid URL: unsupported scheme %q", target.Scheme)), nil
	}
	if target.Host == "" {
		return errorResult("Invalid URL: missing host"), nil
	}

	if err := f.checkRobots(ctx, target); err != nil {
		return errorResult(fmt.Sprintf("Access denied by robots.txt: %v", err)), nil
	}

	body, contentType, err := f.fetch(ctx, target)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to fetch URL: %v", err)), nil
	}

	content, err := processContent(target, body, contentType, args.Raw)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to process content: %v", err)), nil
	}

	return textResult(truncate(content, args.StartIndex, maxLength(args.MaxLength))), nil
}

// checkRobots returns an error when the target host's robots.txt disallows
// the path. An unreachable, missing, or forbidden robots.txt does not
// block the fetch; a robots.txt whose body cannot be read does.
func (f Fetch) checkRobots(ctx context.Context, target *url.URL) error {
	robotsURL := url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/robots.txt"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read robots.txt: %w", err)
	}

	robots, err := robotstxt.FromBytes(body)
	if err != nil {
		return fmt.Errorf("failed to parse robots.txt: %w", err)
	}

	path := target.Path
	if path == "" {
		path = "/"
	}
	// Robots rules match on path plus query, so a rule like
	// "Disallow: /data?" must see the query string.
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	if !robots.TestAgent(path, fetchUserAgent) {
		return fmt.Errorf("path %s is disallowed for %s", path, fetchUserAgent)
	}
	return nil
}

func (f Fetch) fetch(ctx context.Context, target *url.URL) (body, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("status code %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}

	return string(data), resp.Header.Get("Content-Type"), nil
}

// processContent converts an HTML body to markdown by extracting its main
// content first. Raw mode and non-HTML bodies pass through untouched.
func processContent(target *url.URL, body, contentType string, raw bool) (string, error) {
	isHTML := strings.HasPrefix(strings.ToLower(strings.TrimSpace(body)), "<html") ||
		strings.Contains(contentType, "text/html")

	if raw || !isHTML {
		return body, nil
	}

	article, err := readability.FromReader(strings.NewReader(body), target)
	if err != nil {
		return "", fmt.Errorf("failed to extract content: %w", err)
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(article.Content)
	if err != nil {
		return "", fmt.Errorf("failed to convert to markdown: %w", err)
	}
	return markdown, nil
}

func maxLength(arg *int) int {
	if arg == nil {
		return defaultMaxLength
	}
	return *arg
}

// truncate drops start leading bytes, then keeps at most max characters.
func truncate(content string, start, max int) string {
	if start < 0 {
		start = 0
	}
	if start >= len(content) {
		return ""
	}
	content = content[start:]

	if max < 0 {
		max = 0
	}
	runes := []rune(content)
	if len(runes) > max {
		runes = runes[:max]
	}
	return string(runes)
}

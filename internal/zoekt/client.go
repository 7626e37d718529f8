// Package zoekt implements the HTTP client for the Zoekt code search backend.
package zoekt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Search bounds enforced by the client regardless of caller input.
const (
	DefaultSearchLimit  = 10
	DefaultContextLines = 2
	MaxSearchLimit      = 25
	MaxContextLines     = 3
)

// Client talks to a Zoekt web server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the Zoekt client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient = &http.Client{Timeout: d} }
}

// NewClient creates a Zoekt client for the given base URL.
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ZOEKT_API_URL is not set")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured backend URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Search runs a Zoekt query and returns shaped results.
// The limit is clamped to [1, MaxSearchLimit] and context lines to
// [0, MaxContextLines].
func (c *Client) Search(ctx context.Context, query string, limit, contextLines int) ([]SearchResult, error) {
	num := clamp(limit, 1, MaxSearchLimit)
	params := url.Values{}
	params.Set("q", query)
	params.Set("num", strconv.Itoa(num))
	params.Set("format", "json")
	params.Set("ctx", strconv.Itoa(clamp(contextLines, 0, MaxContextLines)))

	body, err := c.get(ctx, "/search", params)
	if err != nil {
		return nil, err
	}

	var payload searchResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	results := formatSearchResults(&payload, num)
	c.logger.DebugContext(ctx, "zoekt search completed",
		slog.String("query", query),
		slog.Int("hits", len(results)),
	)
	return results, nil
}

// SearchSymbols runs a symbol-scoped search. Queries without a sym: atom
// get one prepended; context lines are always zero for symbol hits.
func (c *Client) SearchSymbols(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if !strings.Contains(query, "sym:") {
		query = "sym:" + query
	}
	return c.Search(ctx, query, limit, 0)
}

// FetchContent returns the requested line range of a file, lines joined
// with newlines. Line numbers are 1-based and inclusive.
func (c *Client) FetchContent(ctx context.Context, repo, path string, startLine, endLine int) (string, error) {
	if startLine <= 0 || endLine <= 0 || endLine < startLine {
		return "", fmt.Errorf("invalid line range")
	}

	params := url.Values{}
	params.Set("r", cleanRepositoryPath(repo))
	params.Set("f", path)

	body, err := c.get(ctx, "/print", params)
	if err != nil {
		return "", err
	}

	allLines := extractLinesFromHTML(string(body))
	if len(allLines) == 0 {
		return "", fmt.Errorf("file not found or unreadable")
	}

	startIndex := startLine - 1
	if startIndex >= len(allLines) {
		return "", nil
	}
	endIndex := endLine
	if endIndex > len(allLines) {
		endIndex = len(allLines)
	}
	return strings.Join(allLines[startIndex:endIndex], "\n"), nil
}

// ListDir renders a depth-limited directory tree for a repository path.
func (c *Client) ListDir(ctx context.Context, repo, path string, depth int) (string, error) {
	cleanRepo := cleanRepositoryPath(repo)
	normalizedPath := strings.Trim(path, "/")

	var query string
	if normalizedPath != "" {
		query = fmt.Sprintf("r:%s file:^%s/", cleanRepo, normalizedPath)
	} else {
		query = fmt.Sprintf(`r:%s f:\.*`, cleanRepo)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("num", "1000")
	params.Set("format", "json")

	body, err := c.get(ctx, "/search", params)
	if err != nil {
		return "", err
	}

	var payload searchResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("parsing search response: %w", err)
	}

	var filePaths []string
	if payload.Result != nil {
		for _, match := range payload.Result.FileMatches {
			if match.FileName != "" {
				filePaths = append(filePaths, match.FileName)
			}
		}
	}
	sort.Strings(filePaths)

	if normalizedPath != "" {
		prefix := normalizedPath + "/"
		kept := filePaths[:0]
		for _, p := range filePaths {
			if strings.HasPrefix(p, prefix) {
				kept = append(kept, p)
			}
		}
		filePaths = kept
		if len(filePaths) == 0 {
			return "", fmt.Errorf("directory not found")
		}
	}

	if depth < 1 {
		depth = 1
	}
	return formatDirectoryTree(filePaths, normalizedPath, depth), nil
}

// ListRepos returns the sorted, deduplicated names of all indexed repositories.
func (c *Client) ListRepos(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/list", bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend error (status %d): %s", resp.StatusCode, string(body))
	}

	var payload listResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing list response: %w", err)
	}

	seen := make(map[string]bool)
	var repos []string
	for _, item := range payload.List.Repos {
		name := item.Repository.Name
		if name != "" && !seen[name] {
			seen[name] = true
			repos = append(repos, name)
		}
	}
	sort.Strings(repos)
	return repos, nil
}

// Ping probes the backend, used by readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListRepos(ctx)
	return err
}

// get performs a GET request against the backend and returns the raw body.
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func cleanRepositoryPath(repository string) string {
	repository = strings.ReplaceAll(repository, "https://", "")
	return strings.ReplaceAll(repository, "http://", "")
}

// --- Zoekt API wire types (unexported) ---

type searchResponse struct {
	Result *searchResult  `json:"result"`
	Repos  *repoContainer `json:"repos"`
}

type searchResult struct {
	FileMatches []fileMatch `json:"FileMatches"`
}

type fileMatch struct {
	FileName string      `json:"FileName"`
	Repo     string      `json:"Repo"`
	Matches  []lineMatch `json:"Matches"`
}

type lineMatch struct {
	LineNum   int        `json:"LineNum"`
	Before    string     `json:"Before"`
	After     string     `json:"After"`
	URL       string     `json:"URL"`
	Fragments []fragment `json:"Fragments"`
}

type fragment struct {
	Pre   string `json:"Pre"`
	Match string `json:"Match"`
	Post  string `json:"Post"`
}

type repoContainer struct {
	Repos []repoEntry `json:"Repos"`
}

type repoEntry struct {
	Name string `json:"Name"`
	URL  string `json:"URL"`
}

type listResponse struct {
	List struct {
		Repos []struct {
			Repository struct {
				Name string `json:"Name"`
			} `json:"Repository"`
		} `json:"Repos"`
	} `json:"List"`
}

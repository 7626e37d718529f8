package zoekt

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// SearchResult is one file (or, for repository queries, one repository)
// entry produced by Search.
type SearchResult struct {
	Filename   string  `json:"filename"`
	Repository string  `json:"repository"`
	URL        string  `json:"url,omitempty"`
	Matches    []Match `json:"matches"`
}

// Match is a single matched line with its surrounding context folded in.
type Match struct {
	LineNumber int    `json:"line_number"`
	Text       string `json:"text"`
}

var (
	inlinePreRe = regexp.MustCompile(`(?s)<pre[^>]*class="inline-pre"[^>]*>(.*?)</pre>`)
	noselectRe  = regexp.MustCompile(`(?s)<span[^>]*class="noselect"[^>]*>.*?</span>`)
	tagRe       = regexp.MustCompile(`<[^>]+>`)
)

// formatSearchResults shapes a raw Zoekt response into SearchResult entries.
// Repository queries (type:repo) produce one entry per repository with a
// synthetic match line; file queries fold each match's before/after context
// into a single text block.
func formatSearchResults(payload *searchResponse, limit int) []SearchResult {
	var formatted []SearchResult

	if payload.Repos != nil && len(payload.Repos.Repos) > 0 {
		for _, repo := range payload.Repos.Repos {
			if len(formatted) >= limit {
				break
			}
			repoURL := repo.URL
			if repoURL == "" {
				repoURL = "https://" + repo.Name
			}
			formatted = append(formatted, SearchResult{
				Filename:   "",
				Repository: repo.Name,
				URL:        repoURL,
				Matches: []Match{
					{LineNumber: 0, Text: fmt.Sprintf("Repository: %s", repo.Name)},
				},
			})
		}
		return formatted
	}

	if payload.Result == nil {
		return formatted
	}

	for _, fm := range payload.Result.FileMatches {
		if len(formatted) >= limit {
			break
		}

		var matches []Match
		for _, m := range fm.Matches {
			var full strings.Builder
			for _, frag := range m.Fragments {
				full.WriteString(frag.Pre)
				full.WriteString(frag.Match)
				full.WriteString(frag.Post)
			}

			var context []string
			if before := strings.TrimSpace(m.Before); before != "" {
				context = append(context, strings.Split(before, "\n")...)
			}
			context = append(context, strings.TrimSpace(full.String()))
			if after := strings.TrimSpace(m.After); after != "" {
				context = append(context, strings.Split(after, "\n")...)
			}

			var kept []string
			for _, line := range context {
				if line != "" {
					kept = append(kept, line)
				}
			}

			matches = append(matches, Match{
				LineNumber: m.LineNum,
				Text:       strings.Join(kept, "\n"),
			})
		}

		if len(matches) == 0 {
			continue
		}

		url := fm.Matches[0].URL
		if idx := strings.Index(url, "#L"); idx >= 0 {
			url = url[:idx]
		}

		formatted = append(formatted, SearchResult{
			Filename:   fm.FileName,
			Repository: fm.Repo,
			URL:        url,
			Matches:    matches,
		})
	}

	return formatted
}

// extractLinesFromHTML pulls source lines out of the Zoekt /print HTML view.
// Each line lives in a <pre class="inline-pre"> block; line-number gutters
// are carried in noselect spans and stripped along with all other markup.
func extractLinesFromHTML(htmlContent string) []string {
	var lines []string
	for _, match := range inlinePreRe.FindAllStringSubmatch(htmlContent, -1) {
		lineContent := noselectRe.ReplaceAllString(match[1], "")
		lineContent = tagRe.ReplaceAllString(lineContent, "")
		lines = append(lines, html.UnescapeString(lineContent))
	}
	return lines
}

// formatDirectoryTree renders sorted file paths as an indented tree,
// truncated at maxDepth directory levels. Directories carry a trailing slash.
func formatDirectoryTree(filePaths []string, basePath string, maxDepth int) string {
	if len(filePaths) == 0 {
		return ""
	}

	var treeLines []string
	printed := make(map[string]bool)

	for _, path := range filePaths {
		relative := path
		if basePath != "" && strings.HasPrefix(path, basePath+"/") {
			relative = path[len(basePath)+1:]
		}

		var parts []string
		for _, part := range strings.Split(relative, "/") {
			if part != "" {
				parts = append(parts, part)
			}
		}
		if len(parts) == 0 {
			continue
		}

		maxParts := len(parts)
		if maxDepth+1 < maxParts {
			maxParts = maxDepth + 1
		}
		for index := 0; index < maxParts; index++ {
			prefix := strings.Join(parts[:index+1], "/")
			if printed[prefix] {
				continue
			}
			printed[prefix] = true

			indent := strings.Repeat("  ", index)
			label := parts[index]
			if index != len(parts)-1 {
				label += "/"
			}
			treeLines = append(treeLines, indent+label)
		}
	}

	return strings.Join(treeLines, "\n")
}

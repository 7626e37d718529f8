package render

import (
	"strings"
	"testing"

	"github.com/jkaninda/kazi/internal/catalog"
)

func TestFormatCapabilityHits(t *testing.T) {
	hits := []catalog.Hit{
		{
			ID:           "repo_discovery",
			Kind:         "workflow",
			Summary:      "Rank candidate repositories.",
			WhenToUse:    "Start here.",
			RequiredArgs: []string{"query"},
			Example:      `repo_discovery --query "kafka"`,
		},
		{
			ID:        "zoekt.listRepos",
			Kind:      "runtime_tool",
			Summary:   "List every indexed repository.",
			WhenToUse: "Fallback enumeration.",
		},
	}

	out := FormatCapabilityHits("kafka consumers", hits)
	for _, want := range []string{
		"## Capability Search Results",
		"- Query: `kafka consumers`",
		"- Hits: `2`",
		"### Capability Types",
		"- `runtime_tool`: script helpers available in custom code via `require(\"zoekt\")` and `require(\"cli\")`.",
		"### 1. `repo_discovery`",
		"- Kind: `workflow`",
		"- Summary: Rank candidate repositories.",
		"- When to use: Start here.",
		"- Required args: `query`",
		"- Example: `repo_discovery --query \"kafka\"`",
		"### 2. `zoekt.listRepos`",
		"- Required args: `(none)`",
		"- Example: (none)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.HasSuffix(out, "\n") {
		t.Fatalf("trailing whitespace should be stripped")
	}
}

func TestFormatCapabilityHitsEmpty(t *testing.T) {
	out := FormatCapabilityHits("nothing relevant", nil)
	for _, want := range []string{
		"- Hits: `0`",
		"No capabilities matched.",
		"Try a broader query:",
		"- Use 2-5 keywords, not a full sentence.",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatCapabilityDoc(t *testing.T) {
	doc := catalog.Doc{
		ID:          "symbol_usage",
		Kind:        "workflow",
		Description: "Find call-sites of a symbol.",
		ArgSchema: map[string]any{
			"query": map[string]any{"type": "string", "required": true},
			"limit": map[string]any{"type": "integer", "default": 10},
		},
		Examples: []map[string]any{
			{"call": `symbol_usage --query "Foo"`},
		},
		Constraints:         []string{"limit is clamped to 25"},
		ExpectedOutputShape: map[string]any{"query": "string", "results": "list"},
	}

	out := FormatCapabilityDoc(doc)
	for _, want := range []string{
		"## Capability: `symbol_usage`",
		"- Kind: `workflow`",
		"### Capability Types",
		"### Description",
		"Find call-sites of a symbol.",
		"### Arg Schema",
		"\"query\": {",
		"### Examples",
		"symbol_usage --query",
		"### Constraints",
		"- limit is clamped to 25",
		"### Expected Output Shape",
		"\"results\": \"list\"",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}

	// Sorted keys: "limit" renders before "query" in the schema block.
	schemaIdx := strings.Index(out, "### Arg Schema")
	limitIdx := strings.Index(out[schemaIdx:], "\"limit\"")
	queryIdx := strings.Index(out[schemaIdx:], "\"query\"")
	if limitIdx < 0 || queryIdx < 0 || limitIdx > queryIdx {
		t.Fatalf("arg schema keys not sorted:\n%s", out)
	}
}

func TestFormatCapabilityDocEmptySections(t *testing.T) {
	doc := catalog.Doc{ID: "broken", Kind: "error", Description: "unknown capability_id: broken"}
	out := FormatCapabilityDoc(doc)
	for _, want := range []string{
		"## Capability: `broken`",
		"- Kind: `error`",
		"unknown capability_id: broken",
		"### Arg Schema\n```json\n{}\n```",
		"### Examples\n```json\n[]\n```",
		"### Constraints\n- (none)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

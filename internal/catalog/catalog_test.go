package catalog

import (
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func embeddedCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Embedded(testLogger())
	if err != nil {
		t.Fatalf("Embedded: %v", err)
	}
	return c
}

func TestEmbeddedCatalog(t *testing.T) {
	c := embeddedCatalog(t)
	if c.Len() != 13 {
		t.Fatalf("Len = %d, want 13", c.Len())
	}

	doc, ok := c.Read("repo_discovery")
	if !ok {
		t.Fatalf("Read(repo_discovery) missing")
	}
	if doc.Kind != KindWorkflow {
		t.Fatalf("kind = %q", doc.Kind)
	}
	if doc.Description == "" {
		t.Fatalf("description empty")
	}
	if _, ok := doc.ArgSchema["query"]; !ok {
		t.Fatalf("arg_schema = %#v, want query key", doc.ArgSchema)
	}
	if len(doc.Examples) == 0 {
		t.Fatalf("examples empty")
	}
	if len(doc.ExpectedOutputShape) == 0 {
		t.Fatalf("expected_output_shape empty")
	}

	if doc, _ := c.Read("zoekt.search"); doc.Kind != KindRuntimeTool {
		t.Fatalf("zoekt.search kind = %q", doc.Kind)
	}
	if doc, _ := c.Read("execution.run_custom_workflow_code"); doc.Kind != KindExecutionPattern {
		t.Fatalf("run_custom_workflow_code kind = %q", doc.Kind)
	}

	if _, ok := c.Read("no_such_capability"); ok {
		t.Fatalf("Read(no_such_capability) should miss")
	}
}

func TestListManifestOrder(t *testing.T) {
	c := embeddedCatalog(t)
	hits := c.List()
	if len(hits) != 13 {
		t.Fatalf("List len = %d, want 13", len(hits))
	}

	wantFirst := []string{
		"repo_discovery",
		"symbol_definition",
		"symbol_usage",
		"file_context_reader",
		"cross_repo_trace",
		"cli.parseArgs",
	}
	for i, want := range wantFirst {
		if hits[i].ID != want {
			t.Fatalf("hits[%d] = %q, want %q", i, hits[i].ID, want)
		}
	}
	for _, hit := range hits {
		if hit.Summary == "" || hit.WhenToUse == "" || hit.Example == "" {
			t.Fatalf("hit %q has empty metadata: %#v", hit.ID, hit)
		}
	}
}

func TestSearchExactIDWins(t *testing.T) {
	c := embeddedCatalog(t)
	hits := c.Search("symbol_usage", 8)
	if len(hits) == 0 {
		t.Fatalf("no hits")
	}
	if hits[0].ID != "symbol_usage" {
		t.Fatalf("hits[0] = %q, want symbol_usage", hits[0].ID)
	}
}

func TestSearchSubstringOfID(t *testing.T) {
	c := embeddedCatalog(t)
	hits := c.Search("symbol", 13)
	if len(hits) < 2 {
		t.Fatalf("hits = %d, want at least symbol_definition and symbol_usage", len(hits))
	}
	found := map[string]bool{}
	for _, hit := range hits {
		found[hit.ID] = true
	}
	if !found["symbol_definition"] || !found["symbol_usage"] {
		t.Fatalf("hits missing symbol workflows: %v", found)
	}
}

func TestSearchDottedToken(t *testing.T) {
	c := embeddedCatalog(t)
	hits := c.Search("zoekt.fetchcontent", 8)
	if len(hits) == 0 {
		t.Fatalf("no hits")
	}
	if hits[0].ID != "zoekt.fetchContent" {
		t.Fatalf("hits[0] = %q, want zoekt.fetchContent", hits[0].ID)
	}
}

func TestSearchEmptyQueryListsCatalog(t *testing.T) {
	c := embeddedCatalog(t)
	hits := c.Search("", 50)
	if len(hits) != 13 {
		t.Fatalf("hits = %d, want full catalog", len(hits))
	}
	if hits[0].ID != "repo_discovery" {
		t.Fatalf("hits[0] = %q, want manifest order", hits[0].ID)
	}
}

func TestSearchLimit(t *testing.T) {
	c := embeddedCatalog(t)
	if hits := c.Search("", 2); len(hits) != 2 {
		t.Fatalf("limit 2 returned %d hits", len(hits))
	}
	if hits := c.Search("", 0); len(hits) != 8 {
		t.Fatalf("limit 0 should fall back to default %d, got %d", DefaultSearchLimit, len(hits))
	}
}

func TestSearchNoMatches(t *testing.T) {
	c := embeddedCatalog(t)
	if hits := c.Search("quantum blockchain teapot", 8); len(hits) != 0 {
		t.Fatalf("hits = %v, want none", hits)
	}
}

const syntheticManifest = `
workflows:
  - id: bare
    description: |-
      First line of description.
      Second line with more detail.
    arg_schema:
      alpha: {type: string, required: true}
      beta: {type: integer}
    examples:
      - call: bare --alpha x
  - id: explicit
    summary: Short summary.
    required_args: [zed]
    description: Something else entirely.
  - id: empty_entry
  - summary: entry with no id at all
  - id: bare
    description: duplicate, must be ignored
`

func TestHitMetadataFallbacks(t *testing.T) {
	c, err := New([]byte(syntheticManifest), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3 (no-id and duplicate skipped)", c.Len())
	}

	hits := c.List()
	bare := hits[0]
	if bare.Summary != "First line of description." {
		t.Fatalf("Summary = %q", bare.Summary)
	}
	if bare.WhenToUse != "First line of description." {
		t.Fatalf("WhenToUse = %q, want summary fallback", bare.WhenToUse)
	}
	if len(bare.RequiredArgs) != 1 || bare.RequiredArgs[0] != "alpha" {
		t.Fatalf("RequiredArgs = %v, want [alpha] from schema", bare.RequiredArgs)
	}
	if bare.Example != "bare --alpha x" {
		t.Fatalf("Example = %q, want first example call", bare.Example)
	}

	explicit := hits[1]
	if explicit.Summary != "Short summary." {
		t.Fatalf("Summary = %q", explicit.Summary)
	}
	if len(explicit.RequiredArgs) != 1 || explicit.RequiredArgs[0] != "zed" {
		t.Fatalf("RequiredArgs = %v, explicit list must win", explicit.RequiredArgs)
	}

	empty := hits[2]
	if empty.WhenToUse != "Use when needed." {
		t.Fatalf("WhenToUse = %q, want terminal fallback", empty.WhenToUse)
	}

	doc, ok := c.Read("bare")
	if !ok {
		t.Fatalf("Read(bare) missing")
	}
	if doc.Description != "First line of description.\nSecond line with more detail." {
		t.Fatalf("Description = %q, duplicate entry must not overwrite", doc.Description)
	}
}

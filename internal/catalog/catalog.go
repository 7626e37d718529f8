// Package catalog serves capability discovery over the workflow
// manifest. It reads the same manifest the workflow registry loads,
// but keeps a generic view: every workflow, runtime tool, and
// execution pattern becomes a capability document an agent can search
// and read before deciding how to execute.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jkaninda/kazi/internal/workflow"
)

const (
	// DefaultSearchLimit applies when the caller passes no limit.
	DefaultSearchLimit = 8
	// MaxSearchLimit caps any requested limit.
	MaxSearchLimit = 50
)

// Kind values for capability documents.
const (
	KindWorkflow         = "workflow"
	KindRuntimeTool      = "runtime_tool"
	KindExecutionPattern = "execution_pattern"
)

// Doc is the full capability document behind one catalog id.
type Doc struct {
	ID                  string           `json:"id"`
	Kind                string           `json:"kind"`
	Description         string           `json:"description"`
	ArgSchema           map[string]any   `json:"arg_schema"`
	Examples            []map[string]any `json:"examples"`
	Constraints         []string         `json:"constraints"`
	ExpectedOutputShape map[string]any   `json:"expected_output_shape"`
}

// Hit is the compact search-result view of a capability.
type Hit struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Summary      string   `json:"summary"`
	WhenToUse    string   `json:"when_to_use"`
	RequiredArgs []string `json:"required_args"`
	Example      string   `json:"example"`
}

type hitMetadata struct {
	summary      string
	whenToUse    string
	requiredArgs []string
	example      string
}

// Catalog holds the parsed manifest in declaration order.
type Catalog struct {
	docs   []Doc
	byID   map[string]int
	meta   map[string]hitMetadata
	logger *slog.Logger
}

type manifestFile struct {
	Workflows         []map[string]any `yaml:"workflows"`
	RuntimeTools      []map[string]any `yaml:"runtime_tools"`
	ExecutionPatterns []map[string]any `yaml:"execution_patterns"`
}

// Embedded builds the catalog from the compiled-in manifest.
func Embedded(logger *slog.Logger) (*Catalog, error) {
	return New(workflow.EmbeddedManifest(), logger)
}

// Load builds the catalog from a manifest file on disk.
func Load(manifestPath string, logger *slog.Logger) (*Catalog, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading capability manifest: %w", err)
	}
	return New(data, logger)
}

// New parses manifest bytes into a catalog.
func New(manifestData []byte, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var raw manifestFile
	if err := yaml.Unmarshal(manifestData, &raw); err != nil {
		return nil, fmt.Errorf("parsing capability manifest: %w", err)
	}

	c := &Catalog{
		byID:   map[string]int{},
		meta:   map[string]hitMetadata{},
		logger: logger,
	}
	c.addEntries(raw.Workflows, KindWorkflow)
	c.addEntries(raw.RuntimeTools, KindRuntimeTool)
	c.addEntries(raw.ExecutionPatterns, KindExecutionPattern)

	logger.Info("capability catalog loaded", slog.Int("capabilities", len(c.docs)))
	return c, nil
}

func (c *Catalog) addEntries(entries []map[string]any, kind string) {
	for _, entry := range entries {
		id := stringField(entry, "id")
		if id == "" {
			c.logger.Warn("skipping capability without id", slog.String("kind", kind))
			continue
		}
		if _, dup := c.byID[id]; dup {
			c.logger.Warn("duplicate capability id, keeping first", slog.String("id", id))
			continue
		}
		c.byID[id] = len(c.docs)
		c.docs = append(c.docs, entryToDoc(entry, id, kind))
		c.meta[id] = hitMetadata{
			summary:      stringField(entry, "summary"),
			whenToUse:    stringField(entry, "when_to_use"),
			requiredArgs: stringSliceField(entry, "required_args"),
			example:      stringField(entry, "example"),
		}
	}
}

// Len reports how many capabilities the catalog holds.
func (c *Catalog) Len() int { return len(c.docs) }

// Read returns the full document for a capability id.
func (c *Catalog) Read(id string) (Doc, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return Doc{}, false
	}
	return c.docs[idx], true
}

// List returns every capability as a hit, in manifest order.
func (c *Catalog) List() []Hit {
	hits := make([]Hit, 0, len(c.docs))
	for _, doc := range c.docs {
		hits = append(hits, c.hitFor(doc))
	}
	return hits
}

// Search ranks capabilities against a free-text query. An empty query
// lists the catalog front-to-back. Results never exceed the clamped
// limit; zero-scoring capabilities are dropped.
func (c *Catalog) Search(query string, limit int) []Hit {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	tokens := tokenize(query)
	if len(tokens) == 0 {
		hits := c.List()
		if len(hits) > limit {
			hits = hits[:limit]
		}
		return hits
	}

	type scored struct {
		hit   Hit
		score int
	}
	var matches []scored
	for _, doc := range c.docs {
		hit := c.hitFor(doc)
		if score := scoreCapability(doc, hit, tokens); score > 0 {
			matches = append(matches, scored{hit: hit, score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, m.hit)
	}
	return hits
}

// hitFor assembles the compact view, falling back to derived fields
// when the manifest omits explicit hit metadata.
func (c *Catalog) hitFor(doc Doc) Hit {
	meta := c.meta[doc.ID]

	summary := meta.summary
	if summary == "" {
		summary, _, _ = strings.Cut(doc.Description, "\n")
	}
	whenToUse := meta.whenToUse
	if whenToUse == "" {
		whenToUse = summary
	}
	if whenToUse == "" {
		whenToUse = "Use when needed."
	}

	requiredArgs := meta.requiredArgs
	if len(requiredArgs) == 0 {
		requiredArgs = requiredArgsFromSchema(doc.ArgSchema)
	}

	example := meta.example
	if example == "" && len(doc.Examples) > 0 {
		example = exampleFromEntry(doc.Examples[0])
	}

	return Hit{
		ID:           doc.ID,
		Kind:         doc.Kind,
		Summary:      summary,
		WhenToUse:    whenToUse,
		RequiredArgs: requiredArgs,
		Example:      example,
	}
}

func entryToDoc(entry map[string]any, id, kind string) Doc {
	return Doc{
		ID:                  id,
		Kind:                kind,
		Description:         stringField(entry, "description"),
		ArgSchema:           mapField(entry, "arg_schema"),
		Examples:            mapSliceField(entry, "examples"),
		Constraints:         stringSliceField(entry, "constraints"),
		ExpectedOutputShape: mapField(entry, "expected_output_shape"),
	}
}

func requiredArgsFromSchema(schema map[string]any) []string {
	var names []string
	for name, raw := range schema {
		spec, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if required, _ := spec["required"].(bool); required {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func exampleFromEntry(example map[string]any) string {
	if call, ok := example["call"].(string); ok && call != "" {
		return call
	}
	if args, ok := example["args"]; ok && args != nil {
		return fmt.Sprintf("%v", args)
	}
	return ""
}

// scoreCapability accumulates per-token weights: id matches dominate,
// then summary, usage guidance, and description. Kind names count so
// a query like "workflow" surfaces workflows.
func scoreCapability(doc Doc, hit Hit, tokens []string) int {
	id := strings.ToLower(doc.ID)
	summary := strings.ToLower(hit.Summary)
	whenToUse := strings.ToLower(hit.WhenToUse)
	description := strings.ToLower(doc.Description)

	score := 0
	for _, token := range tokens {
		switch {
		case id == token:
			score += 10
		case strings.Contains(id, token):
			score += 5
		}
		if strings.Contains(summary, token) {
			score += 3
		}
		if strings.Contains(whenToUse, token) {
			score += 2
		}
		if strings.Contains(description, token) {
			score++
		}
		if doc.Kind == token {
			score += 2
		}
	}
	return score
}

func tokenize(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		isWord := r == '_' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		return !isWord
	})
}

func stringField(entry map[string]any, key string) string {
	s, _ := entry[key].(string)
	return s
}

func mapField(entry map[string]any, key string) map[string]any {
	m, _ := entry[key].(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m
}

func mapSliceField(entry map[string]any, key string) []map[string]any {
	raw, _ := entry[key].([]any)
	var out []map[string]any
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func stringSliceField(entry map[string]any, key string) []string {
	raw, _ := entry[key].([]any)
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

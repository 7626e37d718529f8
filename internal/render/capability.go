package render

import (
	"strconv"
	"strings"

	"github.com/jkaninda/kazi/internal/catalog"
)

// capabilityKindLegend is repeated on every capability response so an
// agent always knows how to act on each kind.
func capabilityKindLegend() []string {
	return []string{
		"### Capability Types",
		"- `workflow`: prebuilt analysis flows invoked with `run_workflow_cli`.",
		"- `runtime_tool`: script helpers available in custom code via `require(\"zoekt\")` and `require(\"cli\")`.",
		"- `execution_pattern`: guidance capabilities for execution interfaces (prefix `execution.*`).",
	}
}

// FormatCapabilityHits renders a search response, including guidance
// when nothing matched.
func FormatCapabilityHits(query string, hits []catalog.Hit) string {
	lines := []string{
		"## Capability Search Results",
		"",
		"- Query: `" + query + "`",
		"- Hits: `" + strconv.Itoa(len(hits)) + "`",
		"",
	}
	lines = append(lines, capabilityKindLegend()...)
	lines = append(lines, "")

	if len(hits) == 0 {
		lines = append(lines,
			"No capabilities matched.",
			"",
			"Try a broader query:",
			"- Use 2-5 keywords, not a full sentence.",
			"- Start with intent words like `repo discovery`, `symbol definition`, `symbol usage`, or `file context`.",
			"- Drop stack traces, exact error text, and very specific literals.",
		)
		return strings.Join(lines, "\n")
	}

	for i, hit := range hits {
		requiredArgs := "(none)"
		if len(hit.RequiredArgs) > 0 {
			requiredArgs = strings.Join(hit.RequiredArgs, ", ")
		}
		example := "- Example: (none)"
		if hit.Example != "" {
			example = "- Example: `" + hit.Example + "`"
		}
		lines = append(lines,
			"### "+strconv.Itoa(i+1)+". `"+hit.ID+"`",
			"- Kind: `"+hit.Kind+"`",
			"- Summary: "+hit.Summary,
			"- When to use: "+hit.WhenToUse,
			"- Required args: `"+requiredArgs+"`",
			example,
			"",
		)
	}
	return strings.TrimRight(strings.Join(lines, "\n"), " \t\n")
}

// FormatCapabilityDoc renders the full document for one capability.
func FormatCapabilityDoc(doc catalog.Doc) string {
	lines := []string{
		"## Capability: `" + doc.ID + "`",
		"",
		"- Kind: `" + doc.Kind + "`",
		"",
	}
	lines = append(lines, capabilityKindLegend()...)
	lines = append(lines, "")

	if doc.Description != "" {
		lines = append(lines, "### Description", doc.Description, "")
	}

	argSchema := doc.ArgSchema
	if argSchema == nil {
		argSchema = map[string]any{}
	}
	examples := doc.Examples
	if examples == nil {
		examples = []map[string]any{}
	}
	outputShape := doc.ExpectedOutputShape
	if outputShape == nil {
		outputShape = map[string]any{}
	}

	lines = append(lines,
		"### Arg Schema",
		"```json",
		jsonIndent(argSchema),
		"```",
		"",
		"### Examples",
		"```json",
		jsonIndent(examples),
		"```",
		"",
		"### Constraints",
	)
	if len(doc.Constraints) > 0 {
		for _, constraint := range doc.Constraints {
			lines = append(lines, "- "+constraint)
		}
	} else {
		lines = append(lines, "- (none)")
	}

	lines = append(lines,
		"",
		"### Expected Output Shape",
		"```json",
		jsonIndent(outputShape),
		"```",
	)
	return strings.Join(lines, "\n")
}

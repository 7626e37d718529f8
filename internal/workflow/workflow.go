// Package workflow holds the built-in workflow templates: a YAML
// manifest describing each workflow's argument schema plus the script
// sources themselves. The default manifest and scripts are embedded in
// the binary; operators can point the gateway at an external manifest
// to override them.
package workflow

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed manifest.yaml
var embeddedManifest []byte

//go:embed scripts
var embeddedScripts embed.FS

// EmbeddedManifest returns the raw built-in manifest. The capability
// catalog parses the same document with its own, looser view.
func EmbeddedManifest() []byte {
	return embeddedManifest
}

// ArgSpec describes one workflow argument.
type ArgSpec struct {
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
	Default  any    `yaml:"default"`
	Minimum  *int   `yaml:"minimum"`
	Maximum  *int   `yaml:"maximum"`
}

// HasDefault reports whether the manifest declared a default value.
func (s ArgSpec) HasDefault() bool {
	return s.Default != nil
}

// ArgSchema is an ordered argument mapping. Order follows the manifest
// so usage strings and error lists read the way the author wrote them.
type ArgSchema struct {
	names []string
	specs map[string]ArgSpec
}

// UnmarshalYAML decodes a mapping node while preserving key order.
func (s *ArgSchema) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("arg_schema must be a mapping")
	}
	s.names = nil
	s.specs = make(map[string]ArgSpec, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var name string
		if err := node.Content[i].Decode(&name); err != nil {
			return fmt.Errorf("arg_schema key: %w", err)
		}
		var spec ArgSpec
		if err := node.Content[i+1].Decode(&spec); err != nil {
			return fmt.Errorf("arg_schema entry %q: %w", name, err)
		}
		if _, dup := s.specs[name]; !dup {
			s.names = append(s.names, name)
		}
		s.specs[name] = spec
	}
	return nil
}

// Names returns argument names in manifest order.
func (s *ArgSchema) Names() []string {
	return append([]string(nil), s.names...)
}

// Get looks up one argument spec.
func (s *ArgSchema) Get(name string) (ArgSpec, bool) {
	spec, ok := s.specs[name]
	return spec, ok
}

// Len returns the number of declared arguments.
func (s *ArgSchema) Len() int {
	return len(s.names)
}

// Workflow is one named, parameterized script template.
type Workflow struct {
	ID          string    `yaml:"id"`
	Description string    `yaml:"description"`
	ScriptPath  string    `yaml:"script_path"`
	ArgSchema   ArgSchema `yaml:"arg_schema"`
}

// MissingRequiredArgs returns the sorted names of required arguments
// absent from args.
func (w *Workflow) MissingRequiredArgs(args map[string]any) []string {
	var missing []string
	for _, name := range w.ArgSchema.names {
		spec := w.ArgSchema.specs[name]
		if !spec.Required {
			continue
		}
		if _, ok := args[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

type manifestDoc struct {
	Workflows []*Workflow `yaml:"workflows"`
}

// Registry resolves workflow identifiers to their schema and script
// source. Immutable once loaded.
type Registry struct {
	workflows map[string]*Workflow
	scripts   fs.FS
}

// Embedded builds the registry from the manifest and scripts compiled
// into the binary.
func Embedded(logger *slog.Logger) (*Registry, error) {
	return parseManifest(embeddedManifest, embeddedScripts, logger)
}

// Load builds the registry from an external manifest file. Script
// paths resolve relative to scriptsDir, or to the manifest's directory
// when scriptsDir is empty.
func Load(manifestPath, scriptsDir string, logger *slog.Logger) (*Registry, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading workflow manifest: %w", err)
	}
	if scriptsDir == "" {
		scriptsDir = filepath.Dir(manifestPath)
	}
	return parseManifest(data, os.DirFS(scriptsDir), logger)
}

func parseManifest(data []byte, scripts fs.FS, logger *slog.Logger) (*Registry, error) {
	var doc manifestDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing workflow manifest: %w", err)
	}

	reg := &Registry{
		workflows: make(map[string]*Workflow, len(doc.Workflows)),
		scripts:   scripts,
	}
	for _, wf := range doc.Workflows {
		if wf == nil || wf.ID == "" {
			logger.Warn("workflow entry missing id, skipped")
			continue
		}
		if _, dup := reg.workflows[wf.ID]; dup {
			logger.Warn("duplicate workflow id, later entry wins", slog.String("workflow_id", wf.ID))
		}
		reg.workflows[wf.ID] = wf
	}
	if len(reg.workflows) == 0 {
		logger.Warn("workflow manifest declares no workflows")
	}
	logger.Info("workflow registry loaded", slog.Int("workflows", len(reg.workflows)))
	return reg, nil
}

// Get looks up a workflow by id.
func (r *Registry) Get(id string) (*Workflow, bool) {
	wf, ok := r.workflows[id]
	return wf, ok
}

// IDs returns all workflow identifiers, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.workflows))
	for id := range r.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered workflows.
func (r *Registry) Len() int {
	return len(r.workflows)
}

// Source reads the script source for a workflow.
func (r *Registry) Source(id string) (string, error) {
	wf, ok := r.workflows[id]
	if !ok {
		return "", fmt.Errorf("unknown workflow_id: %s", id)
	}
	if wf.ScriptPath == "" {
		return "", fmt.Errorf("workflow script_path missing: %s", id)
	}
	data, err := fs.ReadFile(r.scripts, wf.ScriptPath)
	if err != nil {
		return "", fmt.Errorf("workflow script missing: %s", wf.ScriptPath)
	}
	return string(data), nil
}

package workflow

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
)

// ParseCommand parses a CLI-style workflow invocation such as
//
//	symbol_usage --query "ProcessOrder" --context-lines 1
//
// into a workflow id and a typed argument map. Flags accept both the
// schema name (--context_lines) and its hyphenated form
// (--context-lines). Defaults are applied and required flags enforced.
// Every failure is returned as an "args validation failure" error so
// callers can surface it verbatim.
func (r *Registry) ParseCommand(command string) (string, map[string]any, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", nil, fmt.Errorf("args validation failure: command must not be empty")
	}

	tokens, err := shellquote.Split(command)
	if err != nil {
		return "", nil, fmt.Errorf("args validation failure: invalid command: %v", err)
	}
	if len(tokens) == 0 {
		return "", nil, fmt.Errorf("args validation failure: command must not be empty")
	}

	workflowID := tokens[0]
	wf, ok := r.workflows[workflowID]
	if !ok {
		available := strings.Join(r.IDs(), ", ")
		return "", nil, fmt.Errorf(
			"args validation failure: unknown workflow_id: %s. Available workflows: %s",
			workflowID, available,
		)
	}

	usage := workflowUsage(workflowID, &wf.ArgSchema)
	aliases := flagAliases(&wf.ArgSchema)
	parsed := make(map[string]any)

	for index := 1; index < len(tokens); {
		token := tokens[index]
		if !strings.HasPrefix(token, "--") {
			return "", nil, fmt.Errorf(
				"args validation failure: unexpected positional argument `%s`. %s", token, usage)
		}

		argName, known := aliases[token]
		if !known {
			return "", nil, fmt.Errorf("args validation failure: unknown flag `%s`. %s", token, usage)
		}
		if _, dup := parsed[argName]; dup {
			return "", nil, fmt.Errorf("args validation failure: duplicate flag `%s`. %s", token, usage)
		}
		if index+1 >= len(tokens) {
			return "", nil, fmt.Errorf("args validation failure: missing value for `%s`. %s", token, usage)
		}
		value := tokens[index+1]
		if strings.HasPrefix(value, "--") {
			return "", nil, fmt.Errorf("args validation failure: missing value for `%s`. %s", token, usage)
		}

		spec, _ := wf.ArgSchema.Get(argName)
		coerced, err := coerceArgValue(argName, value, spec, usage)
		if err != nil {
			return "", nil, err
		}
		parsed[argName] = coerced
		index += 2
	}

	// Defaults, in manifest order, through the same coercion and
	// bounds as explicit values.
	for _, argName := range wf.ArgSchema.names {
		spec := wf.ArgSchema.specs[argName]
		if _, set := parsed[argName]; set || !spec.HasDefault() {
			continue
		}
		coerced, err := coerceArgValue(argName, spec.Default, spec, usage)
		if err != nil {
			return "", nil, err
		}
		parsed[argName] = coerced
	}

	var missing []string
	for _, argName := range wf.ArgSchema.names {
		if wf.ArgSchema.specs[argName].Required {
			if _, set := parsed[argName]; !set {
				missing = append(missing, "--"+hyphenate(argName))
			}
		}
	}
	if len(missing) > 0 {
		return "", nil, fmt.Errorf(
			"args validation failure: missing required flags: %s. %s",
			strings.Join(missing, ", "), usage,
		)
	}

	return workflowID, parsed, nil
}

// Usage returns the usage line for a workflow, or "" if unknown.
func (r *Registry) Usage(id string) string {
	wf, ok := r.workflows[id]
	if !ok {
		return ""
	}
	return workflowUsage(id, &wf.ArgSchema)
}

func workflowUsage(workflowID string, schema *ArgSchema) string {
	var parts []string
	for _, argName := range schema.names {
		flag := "--" + hyphenate(argName)
		if schema.specs[argName].Required {
			parts = append(parts, flag+" <value>")
		} else {
			parts = append(parts, "["+flag+" <value>]")
		}
	}
	if len(parts) == 0 {
		return "Usage: " + workflowID
	}
	return "Usage: " + workflowID + " " + strings.Join(parts, " ")
}

func flagAliases(schema *ArgSchema) map[string]string {
	aliases := make(map[string]string, schema.Len()*2)
	for _, argName := range schema.names {
		aliases["--"+argName] = argName
		aliases["--"+hyphenate(argName)] = argName
	}
	return aliases
}

func hyphenate(argName string) string {
	return strings.ReplaceAll(argName, "_", "-")
}

func coerceArgValue(argName string, raw any, spec ArgSpec, usage string) (any, error) {
	argType := strings.ToLower(strings.TrimSpace(spec.Type))
	if argType == "" {
		argType = "string"
	}
	flag := "--" + hyphenate(argName)

	switch argType {
	case "string":
		return stringify(raw), nil

	case "integer":
		value, ok := toInt(raw)
		if !ok {
			return nil, fmt.Errorf(
				"args validation failure: invalid integer for `%s`: '%v'. %s", flag, raw, usage)
		}
		if spec.Minimum != nil && value < *spec.Minimum {
			return nil, fmt.Errorf(
				"args validation failure: value for `%s` must be >= %d. %s", flag, *spec.Minimum, usage)
		}
		if spec.Maximum != nil && value > *spec.Maximum {
			return nil, fmt.Errorf(
				"args validation failure: value for `%s` must be <= %d. %s", flag, *spec.Maximum, usage)
		}
		return value, nil

	case "boolean":
		switch strings.ToLower(strings.TrimSpace(stringify(raw))) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
		return nil, fmt.Errorf(
			"args validation failure: invalid boolean for `%s`: '%v'. %s", flag, raw, usage)

	default:
		return nil, fmt.Errorf(
			"args validation failure: unsupported arg type `%s` for `%s`. %s", argType, flag, usage)
	}
}

func stringify(raw any) string {
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", raw)
}

func toInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		return int(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

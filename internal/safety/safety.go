// Package safety statically validates agent-authored workflow scripts
// before anything is executed. Scripts are parsed with the goja parser
// and inspected as an AST; nothing in this package ever evaluates code.
//
// Checks run in a fixed order and the first failure decides the verdict:
// parse, entrypoint shape, import allowlist, call denylist. The call
// check is name-based: a denied callable reached through an alias is not
// detected. That boundary is handled by process isolation, not here.
package safety

import (
	"fmt"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja/token"
)

// Kind classifies why a script was rejected.
type Kind string

const (
	KindSyntaxError       Kind = "syntax_error"
	KindMissingEntrypoint Kind = "missing_entrypoint"
	KindDisallowedImport  Kind = "disallowed_import"
	KindDisallowedCall    Kind = "disallowed_call"
)

// Rejection describes the single offending construct that failed validation.
// Line and Column are 1-based and zero when the position is unknown.
type Rejection struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// String renders the rejection the way it appears in execution results.
func (r Rejection) String() string {
	if r.Line > 0 {
		return fmt.Sprintf("%s: %s (line %d, col %d)", r.Kind, r.Detail, r.Line, r.Column)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Detail)
}

// Verdict is the outcome of validating one script.
type Verdict struct {
	Allowed   bool
	Rejection *Rejection
}

func allowed() Verdict { return Verdict{Allowed: true} }

func rejected(kind Kind, detail string, line, column int) Verdict {
	return Verdict{Rejection: &Rejection{Kind: kind, Detail: detail, Line: line, Column: column}}
}

// Policy lists what scripts may import and what they may never call.
type Policy struct {
	AllowedImports []string
	DeniedCalls    []string
}

// DefaultPolicy returns the built-in policy: scripts may require the two
// host-provided modules and may not reach for anything that evaluates
// code, spawns processes, touches files, prompts, or opens connections.
func DefaultPolicy() Policy {
	return Policy{
		AllowedImports: []string{"cli", "zoekt"},
		DeniedCalls: []string{
			"eval", "Function",
			"exec", "execSync", "spawn", "spawnSync",
			"open", "prompt", "fetch",
		},
	}
}

// Validator checks scripts against a fixed policy.
type Validator struct {
	allowedImports map[string]bool
	deniedCalls    map[string]bool
}

// New creates a Validator for the given policy. Empty policy lists fall
// back to the defaults.
func New(policy Policy) *Validator {
	def := DefaultPolicy()
	imports := policy.AllowedImports
	if len(imports) == 0 {
		imports = def.AllowedImports
	}
	calls := policy.DeniedCalls
	if len(calls) == 0 {
		calls = def.DeniedCalls
	}

	v := &Validator{
		allowedImports: make(map[string]bool, len(imports)),
		deniedCalls:    make(map[string]bool, len(calls)),
	}
	for _, name := range imports {
		v.allowedImports[name] = true
	}
	for _, name := range calls {
		v.deniedCalls[name] = true
	}
	return v
}

// Validate parses and inspects one script. It is pure: same source and
// policy, same verdict, and the source is never executed.
func (v *Validator) Validate(source string) Verdict {
	prog, err := parser.ParseFile(nil, "workflow.js", source, 0)
	if err != nil {
		detail, line, column := parseErrorDetail(err)
		return rejected(KindSyntaxError, detail, line, column)
	}

	if verdict, ok := checkEntrypoint(prog); !ok {
		return verdict
	}

	scan := &scanner{validator: v, source: source}
	ast.Walk(scan, prog)

	// Import violations outrank call violations regardless of where
	// each first appears in the source.
	if scan.firstImport != nil {
		return Verdict{Rejection: scan.firstImport}
	}
	if scan.firstCall != nil {
		return Verdict{Rejection: scan.firstCall}
	}
	return allowed()
}

// parseErrorDetail extracts the first parser error and its position.
func parseErrorDetail(err error) (string, int, int) {
	if list, ok := err.(parser.ErrorList); ok && len(list) > 0 {
		first := list[0]
		return first.Message, first.Position.Line, first.Position.Column
	}
	return err.Error(), 0, 0
}

// --- Entrypoint shape ---

type fnShape struct {
	params int
	rest   bool
}

// checkEntrypoint enforces the script contract: either a top-level
// callable run taking exactly one argument (sync or async), or the
// legacy triple of parseArgs, a zero-argument main, and a top-level
// require.main === module guard.
func checkEntrypoint(prog *ast.Program) (Verdict, bool) {
	var (
		run       *fnShape
		parseArgs bool
		mainFn    *fnShape
		guard     bool
	)

	record := func(name string, shape fnShape) {
		switch name {
		case "run":
			s := shape
			run = &s
		case "parseArgs":
			parseArgs = true
		case "main":
			s := shape
			mainFn = &s
		}
	}

	for _, stmt := range prog.Body {
		switch st := stmt.(type) {
		case *ast.FunctionDeclaration:
			if st.Function != nil && st.Function.Name != nil {
				record(st.Function.Name.Name.String(), literalShape(st.Function.ParameterList))
			}
		case *ast.VariableStatement:
			recordBindings(st.List, record)
		case *ast.LexicalDeclaration:
			recordBindings(st.List, record)
		case *ast.IfStatement:
			if isMainGuard(st.Test) {
				guard = true
			}
		}
	}

	if run != nil {
		if run.params == 1 && !run.rest {
			return Verdict{}, true
		}
		if legacyComplete(parseArgs, mainFn, guard) {
			return Verdict{}, true
		}
		return rejected(KindMissingEntrypoint, "run must accept exactly one argument", 0, 0), false
	}
	if legacyComplete(parseArgs, mainFn, guard) {
		return Verdict{}, true
	}
	return rejected(KindMissingEntrypoint,
		"script must define run(args), or parseArgs() and main() with a require.main guard", 0, 0), false
}

func legacyComplete(parseArgs bool, mainFn *fnShape, guard bool) bool {
	return parseArgs && mainFn != nil && mainFn.params == 0 && !mainFn.rest && guard
}

// recordBindings handles const/let/var bindings of function expressions
// and arrow functions, which are as common a way to define an entrypoint
// as a declaration.
func recordBindings(list []*ast.Binding, record func(string, fnShape)) {
	for _, binding := range list {
		ident, ok := binding.Target.(*ast.Identifier)
		if !ok || binding.Initializer == nil {
			continue
		}
		switch fn := binding.Initializer.(type) {
		case *ast.FunctionLiteral:
			record(ident.Name.String(), literalShape(fn.ParameterList))
		case *ast.ArrowFunctionLiteral:
			record(ident.Name.String(), literalShape(fn.ParameterList))
		}
	}
}

func literalShape(params *ast.ParameterList) fnShape {
	if params == nil {
		return fnShape{}
	}
	return fnShape{params: len(params.List), rest: params.Rest != nil}
}

// isMainGuard matches `require.main === module` (either operand order,
// strict or loose equality).
func isMainGuard(test ast.Expression) bool {
	bin, ok := test.(*ast.BinaryExpression)
	if !ok {
		return false
	}
	if bin.Operator != token.STRICT_EQUAL && bin.Operator != token.EQUAL {
		return false
	}
	return (isRequireMain(bin.Left) && isIdent(bin.Right, "module")) ||
		(isRequireMain(bin.Right) && isIdent(bin.Left, "module"))
}

func isRequireMain(expr ast.Expression) bool {
	dot, ok := expr.(*ast.DotExpression)
	if !ok {
		return false
	}
	return isIdent(dot.Left, "require") && dot.Identifier.Name.String() == "main"
}

func isIdent(expr ast.Expression, name string) bool {
	ident, ok := expr.(*ast.Identifier)
	return ok && ident.Name.String() == name
}

// --- Import and call scan ---

// scanner walks the whole tree recording the first import violation and
// the first denied call in source order.
type scanner struct {
	validator   *Validator
	source      string
	firstImport *Rejection
	firstCall   *Rejection
}

func (s *scanner) Enter(n ast.Node) ast.Visitor {
	if s.firstImport != nil && s.firstCall != nil {
		return nil
	}
	switch node := n.(type) {
	case *ast.CallExpression:
		s.inspect(node.Callee, node.ArgumentList, false, node.Idx0())
	case *ast.NewExpression:
		s.inspect(node.Callee, node.ArgumentList, true, node.Idx0())
	}
	return s
}

func (s *scanner) Exit(n ast.Node) {}

func (s *scanner) inspect(callee ast.Expression, args []ast.Expression, isNew bool, idx file.Idx) {
	switch fn := callee.(type) {
	case *ast.Identifier:
		name := fn.Name.String()
		if !isNew && name == "require" {
			s.checkImport(args, idx)
			return
		}
		if s.validator.deniedCalls[name] {
			s.recordCall(name, idx)
		}
	case *ast.DotExpression:
		// Attribute calls match on the final property name only.
		name := fn.Identifier.Name.String()
		if s.validator.deniedCalls[name] {
			s.recordCall(name, idx)
		}
	}
}

// checkImport resolves the require() target. Only a single string
// literal argument can be checked statically; anything else is treated
// as a dynamic import and rejected outright.
func (s *scanner) checkImport(args []ast.Expression, idx file.Idx) {
	if len(args) == 1 {
		if lit, ok := args[0].(*ast.StringLiteral); ok {
			name := lit.Value.String()
			if !s.validator.allowedImports[name] {
				s.recordImport(name, idx)
			}
			return
		}
	}
	s.recordImport("(dynamic)", idx)
}

func (s *scanner) recordImport(name string, idx file.Idx) {
	if s.firstImport != nil {
		return
	}
	line, column := s.position(idx)
	s.firstImport = &Rejection{Kind: KindDisallowedImport, Detail: name, Line: line, Column: column}
}

func (s *scanner) recordCall(name string, idx file.Idx) {
	if s.firstCall != nil {
		return
	}
	line, column := s.position(idx)
	s.firstCall = &Rejection{Kind: KindDisallowedCall, Detail: name, Line: line, Column: column}
}

// position converts a 1-based source offset into line and column by
// counting newlines in the raw source.
func (s *scanner) position(idx file.Idx) (int, int) {
	offset := int(idx) - 1
	if offset < 0 || offset > len(s.source) {
		return 0, 0
	}
	line, column := 1, 1
	for _, b := range []byte(s.source[:offset]) {
		if b == '\n' {
			line++
			column = 1
		} else {
			column++
		}
	}
	return line, column
}

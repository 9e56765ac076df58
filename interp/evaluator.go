package interp

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mlld-lang/mlld/interp/engine/expr"
)

// returnSignal is how ExeReturnNode propagates a value up through an
// enclosing ExeBlockNode (§4.1 "ExeReturn"). It is caught by
// evalExeBlock and never escapes to a caller outside one.
type returnSignal struct {
	value *StructuredValue
}

func (r *returnSignal) Error() string { return "return" }

// ModuleResolver loads another module's exported Environment for an
// `import` directive. A production host wires this to the project's
// module graph; the parser/resolver that turns a module path into
// source text is out of scope here.
type ModuleResolver interface {
	Resolve(path string) (*Environment, error)
}

// Evaluator is the root AST dispatcher (§4.1): it consumes a node and
// an Environment and produces a StructuredValue, threading guard/policy
// observation and ExecInvocation/Pipeline dispatch through the
// directive kinds that need them.
type Evaluator struct {
	l        *slog.Logger
	Invoker  *ExecInvoker
	Cond     *expr.ConditionEvaluator
	Loader   *ContentLoader
	Sinks    *OutputSinkRegistry
	Policy   *PolicyEnforcer
	CM       *ContextManager
	Bus      EventBus
	Approver Approver
	Modules  ModuleResolver
}

// NewEvaluator constructs an Evaluator and wires itself as invoker's
// ArgEvaluator and NodeExecutor, closing the mutual-reference loop
// described in exec_invocation.go's ArgEvaluator doc comment.
func NewEvaluator(l *slog.Logger, invoker *ExecInvoker, loader *ContentLoader, sinks *OutputSinkRegistry, policy *PolicyEnforcer, cm *ContextManager, bus EventBus, approver Approver, modules ModuleResolver) *Evaluator {
	if l == nil {
		l = slog.Default()
	}
	e := &Evaluator{
		l:        l,
		Invoker:  invoker,
		Cond:     expr.NewConditionEvaluator(),
		Loader:   loader,
		Sinks:    sinks,
		Policy:   policy,
		CM:       cm,
		Bus:      bus,
		Approver: approver,
		Modules:  modules,
	}
	invoker.SetArgEvaluator(e)
	invoker.SetNodeExecutor(e)
	return e
}

// EvalArg implements ArgEvaluator for ExecInvoker: argument nodes are
// evaluated the same way any RHS expression is, just without a
// resulting Environment.
func (e *Evaluator) EvalArg(node Node, env *Environment) (*StructuredValue, error) {
	sv, _, err := e.Eval(context.Background(), node, env)
	return sv, err
}

// ExecNode implements NodeExecutor for ExecInvoker's mlld-when /
// mlld-exe-block pseudo-language handoff (§4.4).
func (e *Evaluator) ExecNode(ctx context.Context, node Node, env *Environment) (*StructuredValue, error) {
	sv, _, err := e.Eval(ctx, node, env)
	return sv, err
}

// EvalProgram evaluates a top-level node list in order against env,
// concatenating the text of every node that produces document output
// (prose text and `show` results) into the final rendered document.
func (e *Evaluator) EvalProgram(ctx context.Context, nodes []Node, env *Environment) (*StructuredValue, error) {
	var doc strings.Builder
	cur := env
	for _, n := range nodes {
		sv, next, err := e.Eval(ctx, n, cur)
		if err != nil {
			if _, ok := err.(*returnSignal); ok {
				continue
			}
			return nil, err
		}
		if next != nil {
			cur = next
		}
		if isDocumentOutput(n) && sv != nil {
			doc.WriteString(sv.Text)
		}
	}
	return Wrap(doc.String()), nil
}

func isDocumentOutput(n Node) bool {
	switch n.Type() {
	case NodeText, NodeNewline:
		return true
	case NodeDirective:
		d := n.(*Directive)
		return d.Kind == DirectiveShow
	default:
		return false
	}
}

// Eval dispatches a single AST node against env, returning its value
// and (when the node introduces bindings, e.g. a directive) the
// resulting Environment. Dispatch is total: an unrecognized node type
// fails with ErrUnknownNodeType (§4.1).
func (e *Evaluator) Eval(ctx context.Context, node Node, env *Environment) (*StructuredValue, *Environment, error) {
	switch n := node.(type) {
	case *Directive:
		return e.evalDirective(ctx, n, env)
	case *VariableReference:
		sv, err := e.evalVariableReference(n, env)
		return sv, env, err
	case *ExecInvocationNode:
		res, err := e.Invoker.Invoke(ctx, env, e.CM, n, universalOf(env))
		if err != nil {
			return nil, env, err
		}
		if res.Denied {
			e.markDenied(res.DenyReason)
			return Wrap(""), env, nil
		}
		return res.Value, env, nil
	case *ExeBlockNode:
		sv, err := e.evalExeBlock(ctx, n, env)
		return sv, env, err
	case *ExeReturnNode:
		val := Wrap("")
		if n.Value != nil {
			sv, _, err := e.Eval(ctx, n.Value, env)
			if err != nil {
				return nil, env, err
			}
			val = sv
		}
		return nil, env, &returnSignal{value: val}
	case *WhenExpressionNode:
		sv, err := e.evalWhen(ctx, n, env)
		return sv, env, err
	case *IfNode:
		sv, err := e.evalIf(ctx, n, env)
		return sv, env, err
	case *ForExpressionNode:
		sv, err := e.evalFor(ctx, n, env)
		return sv, env, err
	case *ForeachExpressionNode:
		sv, err := e.evalForeach(ctx, n, env)
		return sv, env, err
	case *LoopExpressionNode:
		sv, err := e.evalLoop(ctx, n, env)
		return sv, env, err
	case *LetAssignmentNode:
		sv, next, err := e.evalLetAssignment(ctx, n, env)
		return sv, next, err
	case *AugmentedAssignmentNode:
		sv, next, err := e.evalAugmentedAssignment(ctx, n, env)
		return sv, next, err
	case *BinaryExpressionNode:
		sv, err := e.evalBinary(ctx, n, env)
		return sv, env, err
	case *UnaryExpressionNode:
		sv, err := e.evalUnary(ctx, n, env)
		return sv, env, err
	case *LiteralNode:
		return Wrap(n.Value), env, nil
	case *TextNode:
		return Wrap(n.Value), env, nil
	case *CommandNode:
		text, err := e.Invoker.renderCommandAST(n.Parts, env)
		if err != nil {
			return nil, env, err
		}
		sv, err := e.Invoker.cmd.Execute(ctx, text, env.Cwd, nil, nil)
		return sv, env, err
	case *CodeNode:
		sv, err := e.Invoker.code.Execute(ctx, n.Language, n.Body, nil, nil, nil, env.Cwd)
		return sv, env, err
	case *ArrayNode:
		out := make([]any, len(n.Elements))
		desc := EmptyDescriptor()
		for i, el := range n.Elements {
			sv, _, err := e.Eval(ctx, el, env)
			if err != nil {
				return nil, env, err
			}
			out[i] = sv.Unwrap()
			desc = desc.Merge(sv.DescriptorOrEmpty())
		}
		return Wrap(out).WithDescriptor(&desc), env, nil
	case *ObjectNode:
		out := make(map[string]any, len(n.Fields))
		desc := EmptyDescriptor()
		for k, fn := range n.Fields {
			sv, _, err := e.Eval(ctx, fn, env)
			if err != nil {
				return nil, env, err
			}
			out[k] = sv.Unwrap()
			desc = desc.Merge(sv.DescriptorOrEmpty())
		}
		return Wrap(out).WithDescriptor(&desc), env, nil
	case *FileReferenceNode:
		sv, err := e.evalFileReference(ctx, n, env)
		return sv, env, err
	case *LoadContentNode:
		sv, err := e.evalFileReference(ctx, n.Ref, env)
		return sv, env, err
	case *GuardBlockNode:
		e.evalGuardBlock(n, env)
		return Wrap(""), env, nil
	default:
		return nil, env, ErrUnknownNodeType(string(node.Type()))
	}
}

func universalOf(env *Environment) *UniversalContext {
	if env == nil {
		return nil
	}
	return env.Universal
}

func (e *Evaluator) markDenied(reason string) {
	if e.CM == nil {
		return
	}
	top := e.CM.Top()
	if top == nil {
		return
	}
	top.Denied = true
	top.DenyReason = reason
}

// evalDirective dispatches the top-level directive kinds (§4.1): var,
// exe, show, run, output, when, if, for, foreach, import, export, env.
// Directives that bind a name (var, exe) mutate env in place and return
// it unchanged, since Environment binding methods already operate by
// pointer; a let (LetAssignmentNode) binds in, and returns, a new child
// env instead.
func (e *Evaluator) evalDirective(ctx context.Context, d *Directive, env *Environment) (*StructuredValue, *Environment, error) {
	switch d.Kind {
	case DirectiveVar:
		return e.evalVarDirective(ctx, d, env)
	case DirectiveExe:
		return e.evalExeDirective(d, env)
	case DirectiveShow:
		sv, err := e.evalGatedOutput(ctx, d.RHS, env, "show", ChannelShow)
		return sv, env, err
	case DirectiveRun:
		sv, _, err := e.Eval(ctx, d.RHS, env)
		if err != nil {
			return nil, env, err
		}
		if denied, reason, retry, gerr := e.Invoker.checkOperationGuard(env, e.CM, "run", d.Identifier); gerr != nil {
			return nil, env, gerr
		} else if denied {
			e.markDenied(reason)
			return Wrap(""), env, nil
		} else if retry != nil {
			e.l.Debug("guard requested retry on run directive", "hint", retry.Hint)
		}
		return sv, env, nil
	case DirectiveOutput, DirectiveEnv:
		sv, err := e.evalOutputDirective(ctx, d, env)
		return sv, env, err
	case DirectiveWhen:
		sv, err := e.evalWhenDirective(ctx, d, env)
		return sv, env, err
	case DirectiveIf:
		sv, err := e.evalIf(ctx, &IfNode{Condition: d.Condition, Then: d.Body, Else: d.Else}, env)
		return sv, env, err
	case DirectiveFor:
		if fn, ok := d.RHS.(*ForExpressionNode); ok {
			sv, err := e.evalFor(ctx, fn, env)
			return sv, env, err
		}
		return nil, env, ErrUnknownNodeType("ForDirective")
	case DirectiveForeach:
		if fn, ok := d.RHS.(*ForeachExpressionNode); ok {
			sv, err := e.evalForeach(ctx, fn, env)
			return sv, env, err
		}
		return nil, env, ErrUnknownNodeType("ForeachDirective")
	case DirectiveImport:
		return e.evalImportDirective(d, env)
	case DirectiveExport:
		return e.evalExportDirective(d, env)
	case DirectiveGuard:
		return Wrap(""), env, nil
	default:
		return nil, env, ErrUnknownNodeType(string(d.Kind))
	}
}

// evalVarDirective evaluates the RHS, binds it as a Structured
// Variable, marks retryability per §3.1 for command/code/exec RHS
// kinds, and runs per-input guards on the freshly bound value.
func (e *Evaluator) evalVarDirective(ctx context.Context, d *Directive, env *Environment) (*StructuredValue, *Environment, error) {
	sv, _, err := e.Eval(ctx, d.RHS, env)
	if err != nil {
		return nil, env, err
	}

	v := NewVariableFactory().Structured(d.Identifier, sv, VariableSource{Directive: "var"})
	if isRetryableRHS(d.RHS) {
		v.RetryableFrom(d.RHS)
	}

	allowShadow, _ := d.Meta["allowLetShadowing"].(bool)
	if err := env.Define(v, allowShadow); err != nil {
		return nil, env, err
	}

	if e.CM != nil {
		e.CM.OnValueBound(v)
	}
	if denied, reason := e.checkPerInputGuards(env, v); denied {
		e.markDenied(reason)
	}

	return sv, env, nil
}

func isRetryableRHS(node Node) bool {
	switch node.(type) {
	case *ExecInvocationNode, *CommandNode, *CodeNode:
		return true
	default:
		return false
	}
}

// checkPerInputGuards runs every registered per-input guard against a
// scope built from v's labels and @ctx, stopping at the first deny; a
// retry decision does not stop the scan, and a guard evaluation error
// ends it with no denial (§4.9 "per-input").
func (e *Evaluator) checkPerInputGuards(env *Environment, v *Variable) (denied bool, reason string) {
	if env.GuardReg == nil {
		return false, ""
	}
	guards := env.GuardReg.ForKind(ScopePerInput, "")
	if len(guards) == 0 {
		return false, ""
	}

	engine := NewGuardEngine(e.Approver)
	scope := e.scopeFor(env)
	scope["input"] = map[string]any{"name": v.Name, "labels": v.Descriptor().LabelSlice()}

	for _, g := range guards {
		outcome, err := engine.Evaluate(g, scope)
		if err != nil {
			return false, ""
		}
		if outcome.Decision == DecisionAllow {
			continue
		}
		d, r, _ := outcome.ApplyOutcome()
		if d {
			return true, r
		}
	}
	return false, ""
}

// evalExeDirective builds an ExecutableDefinition from the directive's
// RHS shape and binds it as an executable Variable (§4.1 "exe").
func (e *Evaluator) evalExeDirective(d *Directive, env *Environment) (*StructuredValue, *Environment, error) {
	def := e.buildExecutableDefinition(d)
	v := NewVariableFactory().Executable(d.Identifier, def, VariableSource{Directive: "exe"})
	if err := env.Define(v, false); err != nil {
		return nil, env, err
	}
	return Wrap(""), env, nil
}

func (e *Evaluator) buildExecutableDefinition(d *Directive) *ExecutableDefinition {
	def := &ExecutableDefinition{ParamNames: d.Params, WithClause: d.WithClause}

	switch rhs := d.RHS.(type) {
	case *CommandNode:
		def.Kind = ExecCommand
		def.CommandAST = rhs.Parts
	case *CodeNode:
		def.Kind = ExecCode
		def.Language = rhs.Language
		def.CodeAST = rhs.Body
	case *ExeBlockNode:
		def.Kind = ExecCode
		def.Language = PseudoLangExeBlock
		def.CodeAST = Node(rhs)
	case *WhenExpressionNode:
		def.Kind = ExecCode
		def.Language = PseudoLangWhen
		def.CodeAST = Node(rhs)
	case *VariableReference:
		def.Kind = ExecCommandRef
		def.RefName = rhs.Name
	default:
		if parts, ok := d.Meta["templateParts"].([]any); ok {
			def.Kind = ExecTemplate
			def.TemplateParts = parts
		} else if name, ok := d.Meta["builtin"].(string); ok {
			def.Kind = ExecBuiltin
			def.RefName = name
		} else {
			def.Kind = ExecCommand
			def.CommandAST = ""
		}
	}

	if shadow, ok := d.Meta["shadowEnvs"].(map[string]*Environment); ok {
		def.CapturedShadow = shadow
	}
	return def
}

// evalGatedOutput evaluates node, runs the named per-operation guard
// kind, and checks the label-flow policy for the given channel,
// failing closed with ErrLabelFlowDenied on a violation (§4.9).
func (e *Evaluator) evalGatedOutput(ctx context.Context, node Node, env *Environment, opKind string, channel FlowChannel) (*StructuredValue, error) {
	sv, _, err := e.Eval(ctx, node, env)
	if err != nil {
		return nil, err
	}

	if denied, reason, retry, gerr := e.Invoker.checkOperationGuard(env, e.CM, opKind, ""); gerr != nil {
		return nil, gerr
	} else if denied {
		e.markDenied(reason)
		return Wrap(""), nil
	} else if retry != nil {
		e.l.Debug("guard requested retry", "op", opKind, "hint", retry.Hint)
	}

	if e.Policy != nil {
		if violated, reason := e.Policy.CheckLabelFlow(LabelFlowRequest{
			InputTaint:  sv.DescriptorOrEmpty().TaintSlice(),
			FlowChannel: channel,
		}); violated {
			return nil, ErrLabelFlowDenied(reason)
		}
	}

	return sv, nil
}

// evalOutputDirective dispatches to the sink named by the directive's
// target scheme (§6 "output sinks"). DirectiveEnv reuses this with an
// implied "env" scheme.
func (e *Evaluator) evalOutputDirective(ctx context.Context, d *Directive, env *Environment) (*StructuredValue, error) {
	sv, err := e.evalGatedOutput(ctx, d.RHS, env, "output", ChannelOutput)
	if err != nil || sv == nil {
		return sv, err
	}

	scheme, _ := d.Meta["scheme"].(string)
	if d.Kind == DirectiveEnv {
		scheme = "env"
	}
	if scheme == "" {
		scheme = "stdout"
	}
	target, _ := d.Meta["target"].(string)
	if scheme == "env" && target == "" {
		target = DefaultEnvName(d.Identifier)
	}
	format := OutputFormat(toStr(d.Meta["format"]))

	if e.Sinks == nil {
		return sv, nil
	}
	sink, ok := e.Sinks.Get(scheme)
	if !ok {
		return nil, &InterpError{Kind: KindValidation, Code: "OUTPUT_SINK_UNKNOWN", Message: "no output sink registered for scheme \"" + scheme + "\""}
	}
	if err := sink.Write(OutputRequest{Target: target, Value: sv, Format: format, Env: env}); err != nil {
		return nil, &InterpError{Kind: KindExecution, Code: "OUTPUT_WRITE_FAILED", Message: err.Error(), Cause: err}
	}
	return sv, nil
}

func toStr(v any) string {
	s, _ := v.(string)
	return s
}

// evalWhenDirective handles the top-level `when` directive form, which
// may carry a full WhenExpressionNode in RHS or a single
// condition/body pair directly on the Directive.
func (e *Evaluator) evalWhenDirective(ctx context.Context, d *Directive, env *Environment) (*StructuredValue, error) {
	if wn, ok := d.RHS.(*WhenExpressionNode); ok {
		return e.evalWhen(ctx, wn, env)
	}
	ok, err := e.evalCondition(d.Condition, env)
	if err != nil {
		return nil, err
	}
	if ok {
		return e.runActionSequence(ctx, d.Body, env)
	}
	return Wrap(""), nil
}

// evalImportDirective copies exported bindings from a resolved module
// Environment into env, honoring the module's ExportManifest and an
// optional alias map carried in Directive.Meta["imports"] (§4.1
// "import"/"export").
func (e *Evaluator) evalImportDirective(d *Directive, env *Environment) (*StructuredValue, *Environment, error) {
	if e.Modules == nil {
		return nil, env, &InterpError{Kind: KindExecution, Code: "IMPORT_RESOLVER_UNSET", Message: "no module resolver configured for import"}
	}
	path, _ := d.Meta["path"].(string)
	modEnv, err := e.Modules.Resolve(path)
	if err != nil {
		return nil, env, &InterpError{Kind: KindResolution, Code: "MODULE_NOT_FOUND", Message: "cannot resolve module \"" + path + "\": " + err.Error(), Cause: err}
	}

	aliases, _ := d.Meta["imports"].(map[string]string)
	names := modEnv.Names()
	if modEnv.ExportsOf != nil && !modEnv.ExportsOf.AutoExport {
		names = modEnv.ExportsOf.Names
	}

	for _, name := range names {
		v, ok := modEnv.LocalLookup(name)
		if !ok {
			continue
		}
		local := name
		if aliases != nil {
			if alias, ok := aliases[name]; ok {
				local = alias
			}
		}
		imported := *v
		imported.Name = local
		imported.Internal.IsImported = true
		if err := env.Define(&imported, false); err != nil {
			return nil, env, err
		}
	}
	return Wrap(""), env, nil
}

// evalExportDirective records exported names on env's ExportManifest
// (§4.1 "export").
func (e *Evaluator) evalExportDirective(d *Directive, env *Environment) (*StructuredValue, *Environment, error) {
	if env.ExportsOf == nil {
		env.ExportsOf = &ExportManifest{}
	}
	if wildcard, _ := d.Meta["wildcard"].(bool); wildcard {
		env.ExportsOf.AutoExport = true
		return Wrap(""), env, nil
	}
	for _, name := range d.Params {
		env.ExportsOf.Add(name)
	}
	if d.Identifier != "" {
		env.ExportsOf.Add(d.Identifier)
	}
	return Wrap(""), env, nil
}

// evalVariableReference resolves @name (with optional field path) and
// notifies the context manager a value was bound for per-input guard
// observation (§3.5, §9 "onValueBound").
func (e *Evaluator) evalVariableReference(ref *VariableReference, env *Environment) (*StructuredValue, error) {
	v, ok := env.Lookup(ref.Name)
	if !ok {
		return nil, &InterpError{Kind: KindResolution, Code: "VARIABLE_UNDEFINED", Message: "\"" + ref.Name + "\" is not defined", Variable: ref.Name}
	}
	if e.CM != nil {
		e.CM.OnValueBound(v)
	}

	var sv *StructuredValue
	switch val := v.Value.(type) {
	case *StructuredValue:
		sv = val
	default:
		d := v.Descriptor()
		sv = Wrap(v.Value).WithDescriptor(&d)
	}

	if len(ref.FieldPath) == 0 {
		return sv, nil
	}

	path := make([]string, len(ref.FieldPath))
	for i, p := range ref.FieldPath {
		switch pv := p.(type) {
		case string:
			path[i] = pv
		default:
			path[i] = toStringKey(pv)
		}
	}
	return ResolveFieldPath(sv, path)
}

func toStringKey(v any) string {
	return Wrap(v).Text
}

// evalExeBlock runs Statements in order, catching a returnSignal from
// any ExeReturnNode and yielding its value as the block's result
// (§4.1 "ExeBlock groups statements... propagating ExeReturn control").
func (e *Evaluator) evalExeBlock(ctx context.Context, n *ExeBlockNode, env *Environment) (*StructuredValue, error) {
	cur := env.Child()
	for _, stmt := range n.Statements {
		sv, next, err := e.Eval(ctx, stmt, cur)
		if err != nil {
			if rs, ok := err.(*returnSignal); ok {
				return rs.value, nil
			}
			return nil, err
		}
		if next != nil {
			cur = next
		}
		_ = sv
	}
	return Wrap(""), nil
}

// evalIf is a short-circuiting conditional. When HasReturn, a
// returnSignal from either branch is propagated unchanged to the
// enclosing ExeBlock rather than swallowed here (§4.1).
func (e *Evaluator) evalIf(ctx context.Context, n *IfNode, env *Environment) (*StructuredValue, error) {
	cond, err := e.evalCondition(n.Condition, env)
	if err != nil {
		return nil, err
	}

	branch := n.Else
	if cond {
		branch = n.Then
	}

	cur := env.Child()
	var last *StructuredValue = Wrap("")
	for _, stmt := range branch {
		sv, next, err := e.Eval(ctx, stmt, cur)
		if err != nil {
			return nil, err
		}
		if next != nil {
			cur = next
		}
		last = sv
	}
	return last, nil
}

// evalCondition evaluates a condition Node to a bool, building a scope
// from env's visible bindings plus the ambient @ctx object.
func (e *Evaluator) evalCondition(node Node, env *Environment) (bool, error) {
	expression, scope := e.conditionSourceAndScope(node, env)
	ok, err := e.Cond.EvalBool(expression, scope)
	if err != nil {
		return false, ErrConditionEval(err)
	}
	return ok, nil
}

// conditionSourceAndScope extracts an expr-lang source string from a
// condition node. Boolean literals are rendered as `true`/`false`; any
// other node is evaluated against env and its truthiness is exposed to
// the expression as `__cond`.
func (e *Evaluator) conditionSourceAndScope(node Node, env *Environment) (string, map[string]any) {
	scope := e.scopeFor(env)
	switch n := node.(type) {
	case *LiteralNode:
		if b, ok := n.Value.(bool); ok {
			if b {
				return "true", scope
			}
			return "false", scope
		}
	case *VariableReference:
		return "__cond", mapWith(scope, "__cond", e.mustEvalRefTruthy(n, env))
	case *BinaryExpressionNode, *UnaryExpressionNode:
		// Structural expression nodes are flattened through the scope by
		// pre-evaluating and exposing the boolean result, since the
		// condition evaluator's grammar is expr-lang source text, not AST.
		return "__cond", mapWith(scope, "__cond", e.mustEvalNodeTruthy(n, env))
	}
	return "__cond", mapWith(scope, "__cond", e.mustEvalNodeTruthy(node, env))
}

func mapWith(base map[string]any, key string, val any) map[string]any {
	out := make(map[string]any, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = val
	return out
}

func (e *Evaluator) mustEvalRefTruthy(ref *VariableReference, env *Environment) bool {
	sv, err := e.evalVariableReference(ref, env)
	if err != nil {
		return false
	}
	return truthy(sv.Unwrap())
}

func (e *Evaluator) mustEvalNodeTruthy(node Node, env *Environment) bool {
	sv, _, err := e.Eval(context.Background(), node, env)
	if err != nil {
		return false
	}
	return truthy(sv.Unwrap())
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int, int64, float64:
		return val != 0
	default:
		return true
	}
}

// scopeFor flattens env's visible bindings (parameters shadow
// variables, child shadows parent) into a flat map for expr-lang, plus
// the ambient @ctx object under "ctx".
func (e *Evaluator) scopeFor(env *Environment) map[string]any {
	scope := map[string]any{}
	var chain []*Environment
	for cur := env; cur != nil; cur = cur.Parent() {
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for _, name := range chain[i].Names() {
			if v, ok := chain[i].LocalLookup(name); ok {
				scope[name] = v.Value
			}
		}
	}
	if e.CM != nil {
		scope["ctx"] = e.CM.BuildCtx()
	}
	return scope
}

// evalWhen handles the three `when` forms (§4.1). A `none` branch is
// accepted only as the last branch (ErrNoneNotLast otherwise), so at
// most one is allowed, in any form. In match and first-match block form
// it runs when no earlier branch matched; in `all` block form it runs
// when some condition is false. Operators are not checked against it,
// and a denied context does not select it.
func (e *Evaluator) evalWhen(ctx context.Context, n *WhenExpressionNode, env *Environment) (*StructuredValue, error) {
	for i, b := range n.Branches {
		if b.IsNone && i != len(n.Branches)-1 {
			return nil, ErrNoneNotLast()
		}
	}

	switch n.Form {
	case WhenSimple:
		if len(n.Branches) == 0 {
			return Wrap(""), nil
		}
		b := n.Branches[0]
		ok, err := e.evalCondition(b.Condition, env)
		if err != nil {
			return nil, err
		}
		if ok {
			return e.runActionSequence(ctx, b.Action, env)
		}
		return Wrap(""), nil

	case WhenMatch:
		subject, _, err := e.Eval(ctx, n.Subject, env)
		if err != nil {
			return nil, err
		}
		for _, b := range n.Branches {
			if b.IsNone {
				return e.runActionSequence(ctx, b.Action, env)
			}
			val, _, err := e.Eval(ctx, b.Condition, env)
			if err != nil {
				return nil, err
			}
			if val.Text == subject.Text {
				return e.runActionSequence(ctx, b.Action, env)
			}
		}
		return Wrap(""), nil

	case WhenBlock:
		switch n.Modifier {
		case WhenModifierAll:
			allTrue := true
			for _, b := range n.Branches {
				if b.IsNone {
					continue
				}
				ok, err := e.evalCondition(b.Condition, env)
				if err != nil {
					return nil, err
				}
				if !ok {
					allTrue = false
					break
				}
			}
			if allTrue {
				var last *StructuredValue = Wrap("")
				for _, b := range n.Branches {
					if b.IsNone {
						continue
					}
					sv, err := e.runActionSequence(ctx, b.Action, env)
					if err != nil {
						return nil, err
					}
					last = sv
				}
				return last, nil
			}
			return e.runNoneBranch(ctx, n.Branches, env)

		default: // first (block default) and any are both first-match
			for _, b := range n.Branches {
				if b.IsNone {
					return e.runActionSequence(ctx, b.Action, env)
				}
				ok, err := e.evalCondition(b.Condition, env)
				if err != nil {
					return nil, err
				}
				if ok {
					return e.runActionSequence(ctx, b.Action, env)
				}
			}
			return Wrap(""), nil
		}
	}
	return Wrap(""), nil
}

func (e *Evaluator) runNoneBranch(ctx context.Context, branches []WhenBranch, env *Environment) (*StructuredValue, error) {
	for _, b := range branches {
		if b.IsNone {
			return e.runActionSequence(ctx, b.Action, env)
		}
	}
	return Wrap(""), nil
}

func (e *Evaluator) runActionSequence(ctx context.Context, action []Node, env *Environment) (*StructuredValue, error) {
	cur := env
	var last *StructuredValue = Wrap("")
	for _, stmt := range action {
		sv, next, err := e.Eval(ctx, stmt, cur)
		if err != nil {
			return nil, err
		}
		if next != nil {
			cur = next
		}
		last = sv
	}
	return last, nil
}

// evalFor runs a sequential or parallel `for @x in xs => expr`.
// Sequential preserves input order; parallel runs each iteration in its
// own child env under one isolation-root env, so writes to outer
// bindings fail (§4.1, §5).
func (e *Evaluator) evalFor(ctx context.Context, n *ForExpressionNode, env *Environment) (*StructuredValue, error) {
	coll, _, err := e.Eval(ctx, n.Collection, env)
	if err != nil {
		return nil, err
	}
	items, ok := coll.Unwrap().([]any)
	if !ok {
		return nil, &InterpError{Kind: KindValidation, Code: "FOR_COLLECTION_NOT_ARRAY", Message: "for loop collection did not evaluate to an array"}
	}

	bindIterVar := func(scope *Environment, item any) {
		v := NewVariableFactory().Structured(n.VarName, Wrap(item), VariableSource{Directive: "for"})
		scope.Define(v, true)
	}

	if !n.Parallel {
		out := make([]any, len(items))
		for i, item := range items {
			iterEnv := env.Child()
			bindIterVar(iterEnv, item)
			sv, _, err := e.Eval(ctx, n.Body, iterEnv)
			if err != nil {
				return nil, err
			}
			out[i] = sv.Unwrap()
		}
		return Wrap(out), nil
	}

	root := env.ChildIsolationRoot()
	out := make([]any, len(items))
	errs := make([]error, len(items))
	done := make(chan int, len(items))
	for i, item := range items {
		go func(i int, item any) {
			iterEnv := root.Child()
			bindIterVar(iterEnv, item)
			sv, _, err := e.Eval(ctx, n.Body, iterEnv)
			if err != nil {
				errs[i] = err
			} else {
				out[i] = sv.Unwrap()
			}
			done <- i
		}(i, item)
	}
	for range items {
		<-done
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return Wrap(out), nil
}

// evalForeach applies a function pointwise over aligned collections
// (§4.1 "foreach f(xs, ys,…) is pointwise application").
func (e *Evaluator) evalForeach(ctx context.Context, n *ForeachExpressionNode, env *Environment) (*StructuredValue, error) {
	cols := make([][]any, len(n.Collections))
	shortest := -1
	for i, c := range n.Collections {
		sv, _, err := e.Eval(ctx, c, env)
		if err != nil {
			return nil, err
		}
		arr, ok := sv.Unwrap().([]any)
		if !ok {
			return nil, &InterpError{Kind: KindValidation, Code: "FOREACH_COLLECTION_NOT_ARRAY", Message: "foreach collection did not evaluate to an array"}
		}
		cols[i] = arr
		if shortest == -1 || len(arr) < shortest {
			shortest = len(arr)
		}
	}
	if shortest < 0 {
		shortest = 0
	}

	fn, ok := env.Lookup(n.FuncRef)
	if !ok || !fn.IsExecutable() {
		return nil, &InterpError{Kind: KindResolution, Code: "EXEC_NOT_FOUND", Message: "\"" + n.FuncRef + "\" is not a defined executable", Variable: n.FuncRef}
	}
	def := fn.ExecutableDef()

	out := make([]any, shortest)
	for i := 0; i < shortest; i++ {
		args := make(map[string]*StructuredValue, len(cols))
		for ci, pname := range def.ParamNames {
			if ci < len(cols) {
				args[pname] = Wrap(cols[ci][i])
			}
		}
		sv, err := e.Invoker.dispatch(ctx, env.Child(), def, args)
		if err != nil {
			return nil, err
		}
		out[i] = sv.Unwrap()
	}
	return Wrap(out), nil
}

// evalLoop repeats Body while Condition holds and stops, without an
// error, after defaultIterationCap iterations; the configured pipeline
// iteration cap does not apply here.
func (e *Evaluator) evalLoop(ctx context.Context, n *LoopExpressionNode, env *Environment) (*StructuredValue, error) {
	cur := env.Child()
	var last *StructuredValue = Wrap("")
	for i := 0; i < defaultIterationCap; i++ {
		ok, err := e.evalCondition(n.Condition, cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		for _, stmt := range n.Body {
			sv, next, err := e.Eval(ctx, stmt, cur)
			if err != nil {
				return nil, err
			}
			if next != nil {
				cur = next
			}
			last = sv
		}
	}
	return last, nil
}

// evalLetAssignment binds Name in a fresh child scope, allowed to
// shadow an outer binding of the same name (§4.1 "allowLetShadowing").
func (e *Evaluator) evalLetAssignment(ctx context.Context, n *LetAssignmentNode, env *Environment) (*StructuredValue, *Environment, error) {
	sv, _, err := e.Eval(ctx, n.Value, env)
	if err != nil {
		return nil, env, err
	}
	child := env.Child()
	v := NewVariableFactory().Structured(n.Name, sv, VariableSource{Directive: "let"})
	if err := child.Define(v, true); err != nil {
		return nil, env, err
	}
	return sv, child, nil
}

// evalAugmentedAssignment desugars `@name op= expr` into a read,
// operator application, and write-back through Environment.Assign.
func (e *Evaluator) evalAugmentedAssignment(ctx context.Context, n *AugmentedAssignmentNode, env *Environment) (*StructuredValue, *Environment, error) {
	existing, ok := env.Lookup(n.Name)
	if !ok {
		return nil, env, &InterpError{Kind: KindResolution, Code: "VARIABLE_UNDEFINED", Message: "\"" + n.Name + "\" is not defined", Variable: n.Name}
	}
	rhs, _, err := e.Eval(ctx, n.Value, env)
	if err != nil {
		return nil, env, err
	}

	result := applyOperator(strings.TrimSuffix(n.Operator, "="), existing.Value, rhs.Unwrap())
	sv := Wrap(result)
	v := NewVariableFactory().Structured(n.Name, sv, existing.Source)
	if err := env.Assign(n.Name, v); err != nil {
		return nil, env, err
	}
	return sv, env, nil
}

// evalBinary evaluates both operands and combines them with
// applyOperator, merging the operands' descriptors.
func (e *Evaluator) evalBinary(ctx context.Context, n *BinaryExpressionNode, env *Environment) (*StructuredValue, error) {
	left, _, err := e.Eval(ctx, n.Left, env)
	if err != nil {
		return nil, err
	}
	right, _, err := e.Eval(ctx, n.Right, env)
	if err != nil {
		return nil, err
	}
	result := applyOperator(n.Operator, left.Unwrap(), right.Unwrap())
	desc := left.DescriptorOrEmpty().Merge(right.DescriptorOrEmpty())
	return Wrap(result).WithDescriptor(&desc), nil
}

func (e *Evaluator) evalUnary(ctx context.Context, n *UnaryExpressionNode, env *Environment) (*StructuredValue, error) {
	operand, _, err := e.Eval(ctx, n.Operand, env)
	if err != nil {
		return nil, err
	}
	if n.Operator == "!" {
		return Wrap(!truthy(operand.Unwrap())), nil
	}
	return operand, nil
}

func applyOperator(op string, left, right any) any {
	switch op {
	case "+":
		if ls, ok := left.(string); ok {
			return ls + Wrap(right).Text
		}
		return numOp(left, right, func(a, b float64) float64 { return a + b })
	case "-":
		return numOp(left, right, func(a, b float64) float64 { return a - b })
	case "*":
		return numOp(left, right, func(a, b float64) float64 { return a * b })
	case "/":
		return numOp(left, right, func(a, b float64) float64 {
			if b == 0 {
				return 0
			}
			return a / b
		})
	case "==":
		return Wrap(left).Text == Wrap(right).Text
	case "!=":
		return Wrap(left).Text != Wrap(right).Text
	case "&&":
		return truthy(left) && truthy(right)
	case "||":
		return truthy(left) || truthy(right)
	default:
		return nil
	}
}

func numOp(left, right any, fn func(a, b float64) float64) float64 {
	return fn(toFloat(left), toFloat(right))
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return 0
	}
}

// evalFileReference resolves a FileReferenceNode, dispatching on
// whether it names a plain path, a section, or a glob (§4.10).
func (e *Evaluator) evalFileReference(ctx context.Context, n *FileReferenceNode, env *Environment) (*StructuredValue, error) {
	pathSV, _, err := e.Eval(ctx, n.Path, env)
	if err != nil {
		return nil, err
	}
	path := pathSV.Text

	var sv *StructuredValue
	if n.IsGlob {
		var transform func(*StructuredValue) *StructuredValue
		if n.AsSection != "" {
			transform = func(s *StructuredValue) *StructuredValue { return e.Loader.RenameSection(s, n.AsSection) }
		}
		results, err := e.Loader.LoadGlob(path, transform)
		if err != nil {
			return nil, err
		}
		arr := make([]any, len(results))
		for i, r := range results {
			arr[i] = r.Unwrap()
		}
		sv = Wrap(arr)
	} else if n.Section != "" {
		sv, err = e.Loader.LoadSection(path, n.Section)
		if err != nil {
			return nil, err
		}
		if n.AsSection != "" {
			sv = e.Loader.RenameSection(sv, n.AsSection)
		}
	} else {
		sv, err = e.Loader.LoadPath(path)
		if err != nil {
			return nil, err
		}
	}

	if len(n.FieldPath) == 0 {
		return sv, nil
	}
	fieldPath := make([]string, len(n.FieldPath))
	for i, p := range n.FieldPath {
		fieldPath[i] = toStringKey(p)
	}
	return ResolveFieldPath(sv, fieldPath)
}

// evalGuardBlock registers a GuardBlockNode into env's GuardRegistry
// (§4.1 "guard").
func (e *Evaluator) evalGuardBlock(n *GuardBlockNode, env *Environment) {
	g := &Guard{
		Name:  n.Name,
		Scope: GuardScope(n.Scope),
		Kind:  n.Kind,
	}
	for _, r := range n.Rules {
		rule := GuardRule{IsWildcard: r.IsWildcard, Decision: GuardDecision(r.Decision), Message: r.Message}
		if !r.IsWildcard {
			rule.Condition = conditionSourceText(r.Condition, env)
		}
		g.Rules = append(g.Rules, rule)
	}
	env.GuardReg.Register(g)
}

// conditionSourceText renders a guard rule condition node into
// expr-lang source text. Guard conditions in this interpreter are
// always expr-lang-compatible expressions carried as LiteralNode
// string values by the parser.
func conditionSourceText(node Node, env *Environment) string {
	if lit, ok := node.(*LiteralNode); ok {
		if s, ok := lit.Value.(string); ok {
			return s
		}
	}
	return "true"
}

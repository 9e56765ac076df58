package interp

// VariableKind tags the payload shape carried by a Variable.
type VariableKind string

const (
	KindSimpleText VariableKind = "simple-text"
	KindTemplate   VariableKind = "template"
	KindObject     VariableKind = "object"
	KindArray      VariableKind = "array"
	KindPath       VariableKind = "path"
	KindExecutable VariableKind = "executable"
	KindParameter  VariableKind = "parameter"
	KindStructured VariableKind = "structured"
)

// ExecutableKind tags the dispatch strategy of an executable Variable's
// payload (spec §4.2-§4.7).
type ExecutableKind string

const (
	ExecCommand    ExecutableKind = "command"
	ExecCode       ExecutableKind = "code"
	ExecTemplate   ExecutableKind = "template"
	ExecCommandRef ExecutableKind = "commandRef"
	ExecProse      ExecutableKind = "prose"
	ExecBuiltin    ExecutableKind = "builtin"
)

// PseudoLanguage names the two internal code "languages" that hand
// control back to the Evaluator instead of a real interpreter (§4.4).
const (
	PseudoLangWhen     = "mlld-when"
	PseudoLangExeBlock = "mlld-exe-block"
)

// VariableSource records where a Variable's value came from, for
// diagnostics and for deciding whether interpolation/multi-line handling
// applies on re-evaluation.
type VariableSource struct {
	Directive        string
	Syntax           string
	HasInterpolation bool
	IsMultiLine      bool
	WrapperType      string
}

// ExecutableDefinition is the kind-dependent payload of an executable
// Variable.
type ExecutableDefinition struct {
	Kind           ExecutableKind
	ParamNames     []string
	CommandAST     any // template of text/variable segments, for ExecCommand
	Language       string
	CodeAST        any // language + template, for ExecCode
	TemplateParts  []any
	RefName        string // for ExecCommandRef
	RefArgs        []any
	ProseRecipe    any
	BuiltinImpl    BuiltinTransformerFunc
	KeychainOp     string // "get" | "set" | "delete" when this is a gated keychain builtin
	WithClause     *WithClause
	CapturedShadow map[string]*Environment
}

// WithClause captures the options attached to an exec invocation or
// command/code definition: pipeline stages, an external provider
// selection, and a compensation body (§4.2, §4.3, supplemented feature 3).
type WithClause struct {
	Pipeline    []PipelineStage
	Using       map[string]any
	Compensate  any // AST body; stored only, nothing in this module runs it
	Trust       string
	ParallelCap int
}

// VariableInternal groups the internal bookkeeping flags named in spec
// §3.1.
type VariableInternal struct {
	IsSystem              bool
	IsParameter           bool
	IsRetryable           bool
	SourceFunction        any // AST handle, not a live closure (§9 design note)
	IsToolsCollection     bool
	ToolCollection        []string
	CapturedShadowEnvs    map[string]*Environment
	IsBuiltinTransformer  bool
	TransformerImpl       BuiltinTransformerFunc
	KeychainFunction      string
	ImportPath            string
	IsImported            bool
}

// VariableContextSnapshot is materialized on first policy observation of
// a Variable (§3.1 `ctx?`).
type VariableContextSnapshot struct {
	Labels  []string
	Taint   []string
	Sources []string
}

// Variable is the tagged record every binding in an Environment holds.
type Variable struct {
	Name     string
	Kind     VariableKind
	Value    any
	Source   VariableSource
	Mx       *SecurityDescriptor
	Ctx      *VariableContextSnapshot
	Internal VariableInternal
}

// Descriptor returns the variable's security descriptor, defaulting to
// empty when none has been attached.
func (v *Variable) Descriptor() SecurityDescriptor {
	if v == nil || v.Mx == nil {
		return EmptyDescriptor()
	}
	return *v.Mx
}

// IsExecutable reports whether this Variable can be invoked.
func (v *Variable) IsExecutable() bool {
	return v != nil && v.Kind == KindExecutable
}

// ExecutableDef returns the executable payload, or nil if this Variable
// is not an executable.
func (v *Variable) ExecutableDef() *ExecutableDefinition {
	if !v.IsExecutable() {
		return nil
	}
	def, _ := v.Value.(*ExecutableDefinition)
	return def
}

// VariableFactory constructs typed Variables with their derived
// descriptor and source metadata, centralizing the logic spec §9's
// "structured-value descriptor propagation" note asks not to scatter.
type VariableFactory struct{}

// NewVariableFactory returns a VariableFactory.
func NewVariableFactory() *VariableFactory {
	return &VariableFactory{}
}

// SimpleText constructs a simple-text Variable.
func (f *VariableFactory) SimpleText(name, value string, src VariableSource, desc SecurityDescriptor) *Variable {
	return &Variable{Name: name, Kind: KindSimpleText, Value: value, Source: src, Mx: &desc}
}

// Structured constructs a structured-kind Variable wrapping a
// StructuredValue, the common case for `var` RHS results (§4.1).
func (f *VariableFactory) Structured(name string, sv *StructuredValue, src VariableSource) *Variable {
	desc := EmptyDescriptor()
	if sv != nil && sv.Descriptor != nil {
		desc = *sv.Descriptor
	}
	return &Variable{Name: name, Kind: KindStructured, Value: sv, Source: src, Mx: &desc}
}

// Object constructs an object-kind Variable.
func (f *VariableFactory) Object(name string, value map[string]any, src VariableSource, desc SecurityDescriptor) *Variable {
	return &Variable{Name: name, Kind: KindObject, Value: value, Source: src, Mx: &desc}
}

// Array constructs an array-kind Variable.
func (f *VariableFactory) Array(name string, value []any, src VariableSource, desc SecurityDescriptor) *Variable {
	return &Variable{Name: name, Kind: KindArray, Value: value, Source: src, Mx: &desc}
}

// Template constructs a template-kind Variable; the value is the AST
// parts array, not pre-interpolated (§4.1 "Template-kind RHS (triple-
// colon) is stored as AST, not pre-interpolated.").
func (f *VariableFactory) Template(name string, parts []any, src VariableSource) *Variable {
	desc := EmptyDescriptor()
	return &Variable{Name: name, Kind: KindTemplate, Value: parts, Source: src, Mx: &desc}
}

// Executable constructs an executable Variable from a definition
// produced by the `exe` directive handler.
func (f *VariableFactory) Executable(name string, def *ExecutableDefinition, src VariableSource) *Variable {
	desc := EmptyDescriptor()
	return &Variable{
		Name:   name,
		Kind:   KindExecutable,
		Value:  def,
		Source: src,
		Mx:     &desc,
		Internal: VariableInternal{
			IsRetryable: true,
		},
	}
}

// Parameter constructs a parameter-kind Variable bound during exec
// invocation argument binding (§4.2 step 2).
func (f *VariableFactory) Parameter(name string, value any, desc SecurityDescriptor) *Variable {
	return &Variable{
		Name:     name,
		Kind:     KindParameter,
		Value:    value,
		Mx:       &desc,
		Internal: VariableInternal{IsParameter: true},
	}
}

// RetryableFrom marks v as retryable and records the originating AST
// node, per §3.1's "A Variable freshly assigned from a command/code/exec
// RHS has internal.isRetryable = true and sourceFunction set to the
// originating AST node."
func (v *Variable) RetryableFrom(sourceAST any) *Variable {
	v.Internal.IsRetryable = true
	v.Internal.SourceFunction = sourceAST
	return v
}

package interp

// NodeType tags the AST node kinds the parser (an external collaborator,
// out of scope per §1) delivers to the Evaluator (§6 "AST contract").
type NodeType string

const (
	NodeDocument               NodeType = "Document"
	NodeDirective              NodeType = "Directive"
	NodeVariableReference      NodeType = "VariableReference"
	NodeVariableReferenceTail  NodeType = "VariableReferenceWithTail"
	NodeExecInvocation         NodeType = "ExecInvocation"
	NodeExeBlock               NodeType = "ExeBlock"
	NodeExeReturn              NodeType = "ExeReturn"
	NodeWhenExpression         NodeType = "WhenExpression"
	NodeIf                     NodeType = "IfNode"
	NodeForExpression          NodeType = "ForExpression"
	NodeForeachExpression      NodeType = "ForeachExpression"
	NodeLoopExpression         NodeType = "LoopExpression"
	NodeLetAssignment          NodeType = "LetAssignment"
	NodeAugmentedAssignment    NodeType = "AugmentedAssignment"
	NodeBinaryExpression       NodeType = "BinaryExpression"
	NodeUnaryExpression        NodeType = "UnaryExpression"
	NodeLiteral                NodeType = "Literal"
	NodeText                   NodeType = "Text"
	NodeNewline                NodeType = "Newline"
	NodeComment                NodeType = "Comment"
	NodeFrontmatter            NodeType = "Frontmatter"
	NodeCodeFence               NodeType = "CodeFence"
	NodeMlldRunBlock           NodeType = "MlldRunBlock"
	NodeFileReference          NodeType = "FileReference"
	NodeLoadContent            NodeType = "load-content"
	NodeCode                   NodeType = "code"
	NodeCommand                NodeType = "command"
	NodeArray                  NodeType = "array"
	NodeObject                 NodeType = "object"
	NodeGuardBlock             NodeType = "GuardBlock"
	NodeGuardRule              NodeType = "GuardRule"
	NodeGuardAction            NodeType = "GuardAction"
	NodeGuardFilter            NodeType = "GuardFilter"
)

// DirectiveKind enumerates the `kind` field of a Directive node (§6).
type DirectiveKind string

const (
	DirectiveVar    DirectiveKind = "var"
	DirectiveExe    DirectiveKind = "exe"
	DirectiveShow   DirectiveKind = "show"
	DirectiveRun    DirectiveKind = "run"
	DirectiveOutput DirectiveKind = "output"
	DirectiveWhen   DirectiveKind = "when"
	DirectiveIf     DirectiveKind = "if"
	DirectiveFor    DirectiveKind = "for"
	DirectiveForeach DirectiveKind = "foreach"
	DirectiveImport DirectiveKind = "import"
	DirectiveExport DirectiveKind = "export"
	DirectiveGuard  DirectiveKind = "guard"
	DirectiveEnv    DirectiveKind = "env"
)

// Node is the minimal contract every AST node satisfies: enough for the
// Evaluator's total dispatch (§4.1) and for error reporting (§7
// "Errors include file path, line, column, directive kind").
type Node interface {
	Type() NodeType
	Position() Position
}

// Position locates a node in its source document.
type Position struct {
	File   string
	Line   int
	Column int
}

// BaseNode is embedded by concrete node types to satisfy Node.
type BaseNode struct {
	NodeKind NodeType
	Pos      Position
}

func (b BaseNode) Type() NodeType     { return b.NodeKind }
func (b BaseNode) Position() Position { return b.Pos }

// Directive is a top-level instruction (§6, glossary "Directive").
type Directive struct {
	BaseNode
	Kind       DirectiveKind
	Identifier string
	RHS        Node
	Params     []string
	Args       []Node
	Condition  Node
	Body       []Node
	Else       []Node
	WithClause *WithClause
	Meta       map[string]any
}

// VariableReference is `@name` (valueType = varIdentifier) or, inside a
// template, `{{name}}` (valueType = varInterpolation); tail access is an
// explicit field-path array (§6 "Variable reference syntax mapping").
type VariableReference struct {
	BaseNode
	Name       string
	IsInterpolation bool
	FieldPath  []any
}

// ExecInvocationNode is `@name(args...)` or a recipe-style ref where
// args already live on the command node (§6).
type ExecInvocationNode struct {
	BaseNode
	Name       string
	Args       []Node
	WithClause *WithClause
}

// ExeBlockNode groups statements under `exe @name(...) = { ... }`,
// propagating ExeReturn control per §4.1.
type ExeBlockNode struct {
	BaseNode
	Statements []Node
}

// ExeReturnNode is a `return <expr>` inside an ExeBlock.
type ExeReturnNode struct {
	BaseNode
	Value Node
}

// WhenBranch is one `condition -> action` pair of a WhenExpressionNode.
type WhenBranch struct {
	Condition Node // nil for a trailing `none` branch
	IsNone    bool
	Action    []Node
}

// WhenForm distinguishes the three `when` shapes named in §4.1.
type WhenForm string

const (
	WhenSimple WhenForm = "simple"
	WhenMatch  WhenForm = "match"
	WhenBlock  WhenForm = "block"
)

// WhenModifier is the `first`/`any`/`all` block-form modifier (§4.1 "Tie-breaks").
type WhenModifier string

const (
	WhenModifierFirst WhenModifier = "first"
	WhenModifierAny   WhenModifier = "any"
	WhenModifierAll   WhenModifier = "all"
)

// WhenExpressionNode is the `when` directive/expression AST (§4.1).
type WhenExpressionNode struct {
	BaseNode
	Form     WhenForm
	Modifier WhenModifier
	Subject  Node // the expression compared against each branch in match form
	Branches []WhenBranch
}

// IfNode is a short-circuiting conditional that may propagate ExeReturn
// control up through the enclosing ExeBlock (§4.1).
type IfNode struct {
	BaseNode
	Condition Node
	Then      []Node
	Else      []Node
	HasReturn bool
}

// ForExpressionNode is `for @x in xs => expr`, sequential unless
// Parallel marks it parallel (§4.1).
type ForExpressionNode struct {
	BaseNode
	VarName    string
	Collection Node
	Body       Node
	Parallel   bool
}

// ForeachExpressionNode is `foreach f(xs, ys, ...)`, a pointwise
// application over aligned collections (§4.1).
type ForeachExpressionNode struct {
	BaseNode
	FuncRef     string
	Collections []Node
}

// GuardRuleNode is one rule of a guard block: a condition plus a
// decision action (§4.1, §4.9, §6).
type GuardRuleNode struct {
	BaseNode
	Condition  Node // nil when IsWildcard
	IsWildcard bool
	Decision   string // allow | deny | retry | prompt
	Message    string
	Value      string
}

// GuardBlockNode declares a named guard registered under a scope
// (§4.1 "guard").
type GuardBlockNode struct {
	BaseNode
	Name  string
	Scope string // "perInput" | "perOperation"
	Kind  string // exe, output, show, run, ...
	Rules []GuardRuleNode
}

// LiteralNode carries a parsed primitive value (string/number/bool/nil).
type LiteralNode struct {
	BaseNode
	Value any
}

// TextNode is a run of literal document prose, emitted verbatim.
type TextNode struct {
	BaseNode
	Value string
}

// LetAssignmentNode binds a block-scoped name, allowed to shadow an
// enclosing variable of the same name (§4.1 "allowLetShadowing").
type LetAssignmentNode struct {
	BaseNode
	Name  string
	Value Node
}

// AugmentedAssignmentNode is `@name op= expr` (e.g. `+=`), desugared by
// the Evaluator into a read-modify-write against the owning Environment.
type AugmentedAssignmentNode struct {
	BaseNode
	Name     string
	Operator string
	Value    Node
}

// BinaryExpressionNode is a binary operator expression; the Evaluator
// computes it with applyOperator on the two evaluated operands.
type BinaryExpressionNode struct {
	BaseNode
	Operator string
	Left     Node
	Right    Node
}

// UnaryExpressionNode is a unary operator expression (e.g. `!cond`).
type UnaryExpressionNode struct {
	BaseNode
	Operator string
	Operand  Node
}

// LoopExpressionNode is a `loop` directive: repeats Body while Condition
// holds, stopping without an error after defaultIterationCap iterations.
type LoopExpressionNode struct {
	BaseNode
	Condition Node
	Body      []Node
}

// FileReferenceNode is `<path>` or `<path # section>`, optionally
// followed by a field-path tail (§4.10).
type FileReferenceNode struct {
	BaseNode
	Path      Node // interpolated path template
	Section   string
	AsSection string
	FieldPath []any
	IsGlob    bool
}

// LoadContentNode wraps a FileReferenceNode as an RHS expression node.
type LoadContentNode struct {
	BaseNode
	Ref *FileReferenceNode
}

// CodeNode is a `run <lang> { ... }` / `exe ... = <lang> { ... }` body.
type CodeNode struct {
	BaseNode
	Language string
	Body     string
}

// CommandNode is a `run { ... }` shell command body, its template parts
// mixing literal text and VariableReference segments.
type CommandNode struct {
	BaseNode
	Parts []any
}

// ArrayNode is an array literal RHS.
type ArrayNode struct {
	BaseNode
	Elements []Node
}

// ObjectNode is an object literal RHS.
type ObjectNode struct {
	BaseNode
	Fields map[string]Node
}

package interp

import "fmt"

// PathContext records the three directories relevant to relative-path
// resolution inside a document (§3.4).
type PathContext struct {
	ProjectRoot        string
	FileDirectory      string
	InvocationDirectory string
}

// PolicySummary is the subset of the active policy surfaced to the
// environment for quick checks without re-consulting the PolicyEnforcer.
type PolicySummary struct {
	DefaultDecision string
	DeniedOps       map[string]struct{}
}

// ExportManifest accumulates the names an `export` directive has
// declared for a module; a nil manifest paired with AutoExport means a
// `*` wildcard was used instead (§4.1 "export").
type ExportManifest struct {
	Names      []string
	AutoExport bool
}

// Add appends a name to the manifest, ignoring duplicates.
func (m *ExportManifest) Add(name string) {
	for _, n := range m.Names {
		if n == name {
			return
		}
	}
	m.Names = append(m.Names, name)
}

// UniversalContext is the ambient bag of per-invocation metadata threaded
// through ExecInvocation and the pipeline executor (§4.2 step 3).
type UniversalContext struct {
	Stage      int
	IsPipeline bool
	Try        int
	Metadata   map[string]any
}

// Environment is a scoped name->Variable map with a parent chain,
// a parameter scope that shadows the enclosing regular scope, and an
// optional isolation-root marker (§3.4).
type Environment struct {
	parent        *Environment
	variables     map[string]*Variable
	parameters    map[string]*Variable
	Cwd           string
	PathCtx       PathContext
	PolicySum     PolicySummary
	GuardReg      *GuardRegistry
	ExportsOf     *ExportManifest
	Universal     *UniversalContext
	isolationRoot *Environment // self-reference when this env is a parallel isolation root
}

// NewRootEnvironment constructs a top-level Environment with no parent.
func NewRootEnvironment(cwd string, pathCtx PathContext) *Environment {
	return &Environment{
		variables:  map[string]*Variable{},
		parameters: map[string]*Variable{},
		Cwd:        cwd,
		PathCtx:    pathCtx,
		GuardReg:   NewGuardRegistry(),
	}
}

// Child creates a new Environment whose parent is env, inheriting cwd,
// path context, guard registry, and policy summary.
func (env *Environment) Child() *Environment {
	return &Environment{
		parent:     env,
		variables:  map[string]*Variable{},
		parameters: map[string]*Variable{},
		Cwd:        env.Cwd,
		PathCtx:    env.PathCtx,
		PolicySum:  env.PolicySum,
		GuardReg:   env.GuardReg,
	}
}

// ChildIsolationRoot creates a child Environment flagged as an isolation
// root: a marker used by parallel `for` iterations so writes to
// bindings at or above the root are rejected (§4.1, §5, §9).
func (env *Environment) ChildIsolationRoot() *Environment {
	child := env.Child()
	child.isolationRoot = child
	return child
}

// IsIsolationRoot reports whether this environment is itself an
// isolation root.
func (env *Environment) IsIsolationRoot() bool {
	return env.isolationRoot == env && env.isolationRoot != nil
}

// Parent returns the parent environment, or nil at the root.
func (env *Environment) Parent() *Environment {
	return env.parent
}

// nearestIsolationRoot walks up from env and returns the nearest
// ancestor (inclusive) flagged as an isolation root, or nil if none.
func (env *Environment) nearestIsolationRoot() *Environment {
	for e := env; e != nil; e = e.parent {
		if e.isolationRoot == e && e.isolationRoot != nil {
			return e
		}
	}
	return nil
}

// owningEnv walks the parent chain and returns the Environment that
// owns the binding for name (parameters take precedence over
// variables), or nil if unbound.
func (env *Environment) owningEnv(name string) *Environment {
	for e := env; e != nil; e = e.parent {
		if _, ok := e.parameters[name]; ok {
			return e
		}
		if _, ok := e.variables[name]; ok {
			return e
		}
	}
	return nil
}

// Lookup resolves name per §3.4: parameters[name] first, else
// variables[name], else recurse through parent.
func (env *Environment) Lookup(name string) (*Variable, bool) {
	for e := env; e != nil; e = e.parent {
		if v, ok := e.parameters[name]; ok {
			return v, true
		}
		if v, ok := e.variables[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// LocalLookup resolves name only in this environment's own scopes,
// without recursing to the parent.
func (env *Environment) LocalLookup(name string) (*Variable, bool) {
	if v, ok := env.parameters[name]; ok {
		return v, true
	}
	if v, ok := env.variables[name]; ok {
		return v, true
	}
	return nil, false
}

// Define writes a Variable into this environment's own variables map.
// It enforces the redefinition invariant (§3.1): redefining a
// non-shadowable, non-imported variable fails.
func (env *Environment) Define(v *Variable, allowLetShadowing bool) error {
	if existing, ok := env.variables[v.Name]; ok {
		if !existing.Internal.IsImported && !allowLetShadowing {
			return &InterpError{
				Kind:    KindResolution,
				Message: fmt.Sprintf("Variable '%s' is already defined and cannot be redefined", v.Name),
			}
		}
	}
	env.variables[v.Name] = v
	return nil
}

// DefineParameter writes a Variable into this environment's parameter
// scope, which shadows the regular variable scope (§3.4).
func (env *Environment) DefineParameter(v *Variable) {
	v.Internal.IsParameter = true
	env.parameters[v.Name] = v
}

// Assign mutates an existing binding in place, walking up the parent
// chain to find its owning environment, and enforces the isolation-root
// write rule (§5, §9): writing through the isolation barrier to a
// binding owned at or above the nearest isolation root is forbidden.
func (env *Environment) Assign(name string, v *Variable) error {
	owner := env.owningEnv(name)
	if owner == nil {
		// No existing binding: define locally.
		return env.Define(v, true)
	}

	root := env.nearestIsolationRoot()
	if root != nil && isAtOrAbove(root, owner) {
		return &InterpError{
			Kind:    KindPolicySecurity,
			Message: fmt.Sprintf("Parallel for block cannot mutate outer variable @%s.", name),
		}
	}

	if _, ok := owner.parameters[name]; ok {
		owner.parameters[name] = v
		return nil
	}
	owner.variables[name] = v
	return nil
}

// isAtOrAbove reports whether candidate is root or an ancestor of root,
// i.e. candidate sits at or above root in the parent chain.
func isAtOrAbove(root, candidate *Environment) bool {
	for e := root; e != nil; e = e.parent {
		if e == candidate {
			return true
		}
	}
	return false
}

// Names returns the set of variable names bound directly in this
// environment (not inherited), used to verify the "superset by name"
// invariant (§8 invariant 1) in tests.
func (env *Environment) Names() []string {
	names := make([]string, 0, len(env.variables)+len(env.parameters))
	for n := range env.variables {
		names = append(names, n)
	}
	for n := range env.parameters {
		names = append(names, n)
	}
	return names
}

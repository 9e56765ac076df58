package interp

import "strings"

// CallStack tracks the chain of executable names currently being
// invoked, so a commandRef cycle (A calls B calls A) is caught before
// it blows the Go stack (§4.6, §7 ErrCircularCommandRef).
type CallStack struct {
	frames []string
}

// NewCallStack returns an empty CallStack.
func NewCallStack() *CallStack { return &CallStack{} }

// Push adds name to the stack, returning an error if name is already
// on it (a cycle).
func (s *CallStack) Push(name string) error {
	for _, f := range s.frames {
		if f == name {
			chain := append(append([]string{}, s.frames...), name)
			return ErrCircularCommandRef(strings.Join(chain, " -> "))
		}
	}
	s.frames = append(s.frames, name)
	return nil
}

// Pop removes the most recently pushed frame.
func (s *CallStack) Pop() {
	if len(s.frames) == 0 {
		return
	}
	s.frames = s.frames[:len(s.frames)-1]
}

// Snapshot returns a copy of the current frame chain, safe to store in
// an error or log line without aliasing the live stack.
func (s *CallStack) Snapshot() []string {
	return append([]string{}, s.frames...)
}

// RefResolver rewrites a commandRef RHS (ExecutableDefinition.Kind ==
// ExecCommandRef) into the target executable's own definition, so
// ExecInvocation can dispatch through the same path regardless of
// whether the original RHS named a command/code/template or a ref to
// one (§4.6 "commandRef rewrite").
type RefResolver struct {
	stack *CallStack
}

// NewRefResolver returns a RefResolver backed by its own CallStack.
func NewRefResolver() *RefResolver { return &RefResolver{stack: NewCallStack()} }

// Resolve follows a chain of commandRef definitions starting at def,
// returning the first non-ref ExecutableDefinition reached. env is used
// to look up each successive RefName.
func (r *RefResolver) Resolve(env *Environment, name string, def *ExecutableDefinition) (*ExecutableDefinition, error) {
	if err := r.stack.Push(name); err != nil {
		return nil, err
	}
	defer r.stack.Pop()

	current := def
	currentName := name
	for current.Kind == ExecCommandRef {
		target, ok := env.Lookup(current.RefName)
		if !ok {
			return nil, ErrUnresolvedField(current.RefName, "commandRef("+currentName+")")
		}
		if !target.IsExecutable() {
			return nil, &InterpError{
				Kind:     KindResolution,
				Code:     "REF_TARGET_NOT_EXECUTABLE",
				Message:  "commandRef target \"" + current.RefName + "\" is not executable",
				Variable: current.RefName,
			}
		}
		if err := r.stack.Push(current.RefName); err != nil {
			return nil, err
		}
		defer r.stack.Pop()

		currentName = current.RefName
		current = target.ExecutableDef()
	}
	return current, nil
}

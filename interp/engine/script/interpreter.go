// Package script provides the sandboxed embedded scripting VM backing
// mlld's `js`/`javascript`/`node`/`nodejs` code execution. The two
// internal pseudo-languages `mlld-when`/`mlld-exe-block` do not run
// here; the exec invoker hands them back to the evaluator.
package script

import (
	"context"
	"fmt"
	"reflect"

	"github.com/deepnoodle-ai/risor/v2"
	"github.com/deepnoodle-ai/risor/v2/object"
)

// Interpreter wraps Risor's Eval with sandboxing. WithoutDefaultGlobals
// removes os/exec/file builtins; only explicitly injected globals
// (shadow environments, transformer globals) are visible to code.
type Interpreter struct{}

// Eval runs code with globals as its only visible scope.
func (i *Interpreter) Eval(ctx context.Context, code string, globals map[string]any) (any, error) {
	converted := convertGlobals(globals)

	result, err := risor.Eval(ctx, code,
		risor.WithoutDefaultGlobals(),
		risor.WithGlobals(converted),
	)
	if err != nil {
		return nil, err
	}
	return objectToGo(result), nil
}

// convertGlobals converts a Go map into a Risor-safe globals map. Raw Go
// funcs and nested maps containing funcs would otherwise panic in the
// VM, since object.AsObjects doesn't handle reflect.Func.
func convertGlobals(globals map[string]any) map[string]any {
	result := make(map[string]any, len(globals))
	for k, v := range globals {
		result[k] = goToRisor(k, v)
	}
	return result
}

// goToRisor converts a single Go value to a Risor-compatible type.
func goToRisor(name string, v any) any {
	if v == nil {
		return nil
	}

	if _, ok := v.(object.Object); ok {
		return v
	}

	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Func:
		return wrapGoFunc(name, v)

	case reflect.Map:
		if m, ok := v.(map[string]any); ok {
			hasFuncs := false
			for _, val := range m {
				if val != nil && reflect.TypeOf(val).Kind() == reflect.Func {
					hasFuncs = true
					break
				}
			}
			if hasFuncs {
				return mapToModule(name, m)
			}
			converted := make(map[string]any, len(m))
			for k, val := range m {
				converted[k] = goToRisor(k, val)
			}
			return converted
		}
		return v

	default:
		return v
	}
}

// wrapGoFunc wraps an arbitrary Go function as a Risor *object.Builtin.
func wrapGoFunc(name string, fn any) *object.Builtin {
	fnValue := reflect.ValueOf(fn)
	fnType := fnValue.Type()

	return object.NewBuiltin(name, func(ctx context.Context, args ...object.Object) object.Object {
		goArgs := make([]reflect.Value, len(args))
		for i, arg := range args {
			goVal := objectToGo(arg)
			switch {
			case i < fnType.NumIn():
				goArgs[i] = convertToExpectedType(goVal, fnType.In(i))
			case fnType.IsVariadic() && i >= fnType.NumIn()-1:
				elemType := fnType.In(fnType.NumIn() - 1).Elem()
				goArgs[i] = convertToExpectedType(goVal, elemType)
			default:
				goArgs[i] = reflect.ValueOf(goVal)
			}
		}

		results := fnValue.Call(goArgs)

		if len(results) == 0 {
			return object.Nil
		}

		lastIdx := len(results) - 1
		if fnType.NumOut() > 0 && fnType.Out(lastIdx).Implements(reflect.TypeOf((*error)(nil)).Elem()) {
			if !results[lastIdx].IsNil() {
				return object.NewError(results[lastIdx].Interface().(error))
			}
			if len(results) > 1 {
				return goValueToObject(results[0].Interface())
			}
			return object.Nil
		}

		return goValueToObject(results[0].Interface())
	})
}

func convertToExpectedType(val any, expected reflect.Type) reflect.Value {
	if val == nil {
		return reflect.Zero(expected)
	}
	actual := reflect.ValueOf(val)
	if actual.Type().AssignableTo(expected) {
		return actual
	}
	if actual.Type().ConvertibleTo(expected) {
		return actual.Convert(expected)
	}
	return actual
}

func goValueToObject(v any) object.Object {
	if v == nil {
		return object.Nil
	}
	obj := object.FromGoType(v)
	if obj == nil {
		return object.Nil
	}
	return obj
}

// mapToModule converts a map[string]any with function values into a
// Risor module, enabling `keychain.get(...)`-style call syntax.
func mapToModule(name string, m map[string]any) *object.Module {
	contents := make(map[string]object.Object, len(m))
	for k, v := range m {
		if v == nil {
			contents[k] = object.Nil
			continue
		}
		if reflect.ValueOf(v).Kind() == reflect.Func {
			contents[k] = wrapGoFunc(fmt.Sprintf("%s.%s", name, k), v)
		} else {
			contents[k] = goValueToObject(v)
		}
	}
	return object.NewBuiltinsModule(name, contents)
}

// objectToGo recursively converts a Risor object.Object to a native Go
// value — the inverse of goToRisor, used on every return value.
func objectToGo(obj object.Object) any {
	if obj == nil {
		return nil
	}

	switch o := obj.(type) {
	case *object.Map:
		goMap := make(map[string]any)
		for k, v := range o.Value() {
			goMap[k] = objectToGo(v)
		}
		return goMap
	case *object.List:
		items := o.Value()
		goSlice := make([]any, len(items))
		for i, v := range items {
			goSlice[i] = objectToGo(v)
		}
		return goSlice
	case *object.NilType:
		return nil
	default:
		return obj.Interface()
	}
}

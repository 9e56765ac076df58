package plugin

import "github.com/mlld-lang/mlld/interp"

// Input is the type alias for map-based transformer argument bundles.
//
// Transformer developers can use either the explicit `plugin.Input` or
// `map[string]any` in task method signatures — they're identical.
//
//	func (p *MyPlugin) Process(ic *plugin.InvocationContext, args plugin.Input) (plugin.Output, error) {
//	    name, _ := args["name"].(string)
//	    return plugin.Output{"result": name}, nil
//	}
//
// Values come from the static args/hint literal of a pipeline stage entry
// or exec invocation, already bound by the evaluator before dispatch.
type Input = map[string]any

// Output is the type alias for map-based transformer results.
//
// Values returned in Output are wrapped into a StructuredValue by the
// evaluator and become the next pipeline stage's input or the invocation's
// bound result (§4.2, §4.7).
//
//	func (p *MyPlugin) FetchUser(ic *plugin.InvocationContext, args plugin.Input) (plugin.Output, error) {
//	    return plugin.Output{"id": 123, "email": "a@example.com"}, nil
//	}
type Output = map[string]any

// TransformerFunc is the normalized form every discovered task method is
// wrapped into before registration in a Container (§4.7). Transformer
// developers don't implement this directly — RegisterPlugin's reflection
// pass builds it from whatever signature the method actually has, typed
// or map-based.
type TransformerFunc = interp.BuiltinTransformerFunc

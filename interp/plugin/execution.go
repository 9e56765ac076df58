package plugin

import "github.com/mlld-lang/mlld/interp"

// InvocationContext is passed to every transformer task method. It carries
// the pipeline/guard context stack and the environment the invocation runs
// against — the same InvocationContext the evaluator builds for builtin
// transformer dispatch (§4.7).
//
// This is a type alias to interp.InvocationContext; the actual type lives
// in the parent interp package. Transformer developers use this alias in
// their task method signatures so they never need to import interp.
//
// # Available Access
//
//	ic.Ctx // *interp.ContextManager — current @ctx stack (pipe/guard state)
//	ic.Env // *interp.Environment — variable lookup, isolation root, cwd
//
// # Usage Example
//
//	func (p *HTTPPlugin) Request(ic *plugin.InvocationContext, args plugin.Input) (plugin.Output, error) {
//	    url, _ := args["url"].(string)
//	    resp, err := http.Get(url)
//	    if err != nil {
//	        return nil, err
//	    }
//	    defer resp.Body.Close()
//	    return plugin.Output{"status": resp.StatusCode}, nil
//	}
type InvocationContext = interp.InvocationContext

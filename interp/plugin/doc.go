// Package plugin is the minimal surface for builtin-transformer authors.
//
// Transformer code should import only this package and never the parent
// "interp" package directly — interp carries the full evaluator, pipeline
// executor, and environment internals that a transformer has no business
// touching.
//
// # Import Restriction
//
// Transformer developers should ONLY import:
//
//	import "github.com/mlld-lang/mlld/interp/plugin"
//
// NEVER import:
//
//	import "github.com/mlld-lang/mlld/interp"  // too much access to internals
//
// # Transformer Structure
//
// A minimal transformer requires:
//  1. A struct (can be empty)
//  2. At least one exported method matching the task signature
//
// Example:
//
//	type Greeter struct{}
//
//	func (g *Greeter) Hello(ic *plugin.InvocationContext, args plugin.Input) (plugin.Output, error) {
//	    name, _ := args["name"].(string)
//	    return plugin.Output{"message": "Hello, " + name}, nil
//	}
//
// # Configuration
//
// Transformers can define a Config struct with declarative tags, processed
// the same way interp.ExecutionConfig is (creasty/defaults + validator):
//
//	type Config struct {
//	    Timeout time.Duration `yaml:"timeout" default:"30s" validate:"gte=1s"`
//	}
//
// # Lifecycle
//
// Transformers can optionally implement Initializer/Shutdowner:
//
//	func (g *Greeter) Initialize() error { return nil }
//	func (g *Greeter) Shutdown() error   { return nil }
//
// # Task Methods
//
// Exported methods matching either of these signatures are auto-registered:
//
//	func (p *PluginType) MethodName(ic *plugin.InvocationContext, args plugin.Input) (plugin.Output, error)
//	func (p *PluginType) MethodName(ic *plugin.InvocationContext, args SomeTypedArgs) (SomeTypedResult, error)
//
// Naming: registering a struct as "payment" and exposing Charge() yields
// the transformer name "payment.charge" (§4.7 builtin transformers).
//
// # What Transformer Developers Don't Do
//
//   - Never call config validation functions (the framework does this)
//   - Never register methods manually (reflection discovers them)
//   - Never manage lifecycle directly beyond implementing Initializer/Shutdowner
//   - Never import "interp" directly (use "interp/plugin" instead)
package plugin

package interp

// OutputFormat names the `as <format>` clause's forced serialization
// (§6 "Output sinks").
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

// OutputRequest is the fully-resolved destination and payload an
// `output` directive hands to a sink: the target (path, stream name,
// env var name, or resolver path), the value, and an optional forced
// format.
type OutputRequest struct {
	Target string
	Value  *StructuredValue
	Format OutputFormat
	Env    *Environment
}

// OutputSink writes a resolved output request to its destination.
// Sinks are registered by scheme name ("file", "stdout", "stderr",
// "env", "resolver") so the registry stays open to extension instead of
// a closed switch statement (supplemented feature 4, grounded on
// runtime/response_handler.go's ResponseHandlerRegistry).
type OutputSink interface {
	Write(req OutputRequest) error
}

// OutputSinkRegistry manages the pluggable output sinks addressed by an
// `output` directive's `to` clause.
type OutputSinkRegistry struct {
	sinks map[string]OutputSink
}

// NewOutputSinkRegistry constructs a registry with the builtin sinks
// already registered (§6 "/output @v to ...").
func NewOutputSinkRegistry() *OutputSinkRegistry {
	r := &OutputSinkRegistry{sinks: make(map[string]OutputSink)}
	r.Register("file", &FileOutputSink{})
	r.Register("stdout", &StreamOutputSink{stream: streamStdout})
	r.Register("stderr", &StreamOutputSink{stream: streamStderr})
	r.Register("env", &EnvOutputSink{})
	return r
}

// Register adds or replaces a named sink, letting a resolver manager
// (external to this module) register "resolver" at startup.
func (r *OutputSinkRegistry) Register(scheme string, sink OutputSink) {
	r.sinks[scheme] = sink
}

// Get retrieves a sink by scheme.
func (r *OutputSinkRegistry) Get(scheme string) (OutputSink, bool) {
	s, ok := r.sinks[scheme]
	return s, ok
}

// All returns every registered sink, keyed by scheme (the registry's own
// map, not a copy).
func (r *OutputSinkRegistry) All() map[string]OutputSink {
	return r.sinks
}

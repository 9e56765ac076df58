package interp

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
)

// InvocationContext is the host-facing argument passed to every builtin
// transformer call: the exec invocation's pipeline/operation context and
// its environment (§4.7 "a host-provided function receiving already-
// evaluated args").
type InvocationContext struct {
	Ctx *ContextManager
	Env *Environment
}

// BuiltinTransformerFunc is the map-based builtin transformer signature.
type BuiltinTransformerFunc func(ic *InvocationContext, args map[string]any) (map[string]any, error)

// Initializer is implemented by transformers that need a one-time setup
// hook before first use.
type Initializer interface {
	Initialize() error
}

// Shutdowner is implemented by transformers that need teardown on
// interpreter shutdown.
type Shutdowner interface {
	Shutdown() error
}

const (
	interfaceInitializer = "Initializer"
	interfaceShutdowner  = "Shutdowner"
)

// Container is the builtin-transformer registry: it auto-discovers a
// plugin's exported methods via reflection and registers each valid one
// as a named, invocable transformer (§4.7).
type Container struct {
	Transformers       map[string]BuiltinTransformerFunc
	plugins            map[string]any
	pluginsByInterface map[string][]any
}

// NewContainer returns an empty Container.
func NewContainer() *Container {
	return &Container{
		Transformers:       make(map[string]BuiltinTransformerFunc),
		plugins:            make(map[string]any),
		pluginsByInterface: make(map[string][]any),
	}
}

// GetTransformer looks up a registered transformer by name.
func (c *Container) GetTransformer(name string) (BuiltinTransformerFunc, bool) {
	fn, ok := c.Transformers[name]
	return fn, ok
}

// SetTransformer registers fn directly under name, bypassing reflection
// discovery. Used for the handful of transformers (keychain get/set/
// delete) whose registration needs explicit policy gating.
func (c *Container) SetTransformer(name string, fn BuiltinTransformerFunc) {
	c.Transformers[name] = fn
}

// RegisterPlugin registers a plugin instance and auto-discovers its
// transformer methods and lifecycle interfaces.
func (c *Container) RegisterPlugin(name string, plugin any) error {
	if plugin == nil {
		return fmt.Errorf("plugin cannot be nil")
	}

	c.plugins[name] = plugin
	c.detectPluginInterfaces(plugin)

	pluginType := reflect.TypeOf(plugin)
	pluginValue := reflect.ValueOf(plugin)

	for i := 0; i < pluginType.NumMethod(); i++ {
		method := pluginType.Method(i)
		if !method.IsExported() {
			continue
		}
		if !isValidTaskSignature(method.Type) {
			continue
		}

		transformerName := fmt.Sprintf("%s.%s", name, toLowerFirst(method.Name))
		c.Transformers[transformerName] = createTransformer(pluginValue, method)
	}

	return nil
}

func (c *Container) detectPluginInterfaces(plugin any) {
	if _, ok := plugin.(Initializer); ok {
		c.pluginsByInterface[interfaceInitializer] = append(c.pluginsByInterface[interfaceInitializer], plugin)
	}
	if _, ok := plugin.(Shutdowner); ok {
		c.pluginsByInterface[interfaceShutdowner] = append(c.pluginsByInterface[interfaceShutdowner], plugin)
	}
}

// GetPlugin returns a registered plugin instance by name.
func (c *Container) GetPlugin(name string) any {
	return c.plugins[name]
}

// Initialize calls Initialize on every plugin implementing Initializer.
func (c *Container) Initialize() error {
	for i, p := range c.pluginsByInterface[interfaceInitializer] {
		if err := p.(Initializer).Initialize(); err != nil {
			return fmt.Errorf("plugin #%d initialization failed: %w", i, err)
		}
	}
	return nil
}

// Shutdown calls Shutdown on every plugin implementing Shutdowner, in
// reverse registration order.
func (c *Container) Shutdown() error {
	plugins := c.pluginsByInterface[interfaceShutdowner]
	var errs []error
	for i := len(plugins) - 1; i >= 0; i-- {
		if err := plugins[i].(Shutdowner).Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("plugin #%d shutdown failed: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// isValidTaskSignature accepts either the map-based builtin transformer
// signature func(*InvocationContext, map[string]any) (map[string]any, error)
// or a typed signature func(*InvocationContext, TIn) (TOut, error) where
// TIn/TOut are structs (supplemented feature 5).
func isValidTaskSignature(methodType reflect.Type) bool {
	if methodType.NumIn() != 3 || methodType.NumOut() != 2 {
		return false
	}

	icPtrType := reflect.TypeOf((*InvocationContext)(nil))
	if methodType.In(1) != icPtrType {
		return false
	}

	if !isMapOrStruct(methodType.In(2)) {
		return false
	}
	if !isMapOrStruct(methodType.Out(0)) {
		return false
	}

	errType := reflect.TypeOf((*error)(nil)).Elem()
	return methodType.Out(1) == errType
}

func isMapOrStruct(t reflect.Type) bool {
	if t.Kind() == reflect.Map {
		return t == reflect.TypeOf(map[string]any(nil))
	}
	return t.Kind() == reflect.Struct
}

func isTypedSignature(methodType reflect.Type) bool {
	return methodType.In(2).Kind() == reflect.Struct || methodType.Out(0).Kind() == reflect.Struct
}

func toLowerFirst(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func createTransformer(pluginValue reflect.Value, method reflect.Method) BuiltinTransformerFunc {
	if isTypedSignature(method.Type) {
		w := &typedTransformerWrapper{
			plugin:    pluginValue,
			method:    method,
			inputType: method.Type.In(2),
		}
		return w.Execute
	}
	w := &mapTransformerWrapper{plugin: pluginValue, method: method}
	return w.Execute
}

type mapTransformerWrapper struct {
	plugin reflect.Value
	method reflect.Method
}

func (w *mapTransformerWrapper) Execute(ic *InvocationContext, args map[string]any) (map[string]any, error) {
	results := w.method.Func.Call([]reflect.Value{
		w.plugin,
		reflect.ValueOf(ic),
		reflect.ValueOf(args),
	})

	resultMap, _ := results[0].Interface().(map[string]any)
	var err error
	if !results[1].IsNil() {
		err = results[1].Interface().(error)
	}
	return resultMap, err
}

type typedTransformerWrapper struct {
	plugin    reflect.Value
	method    reflect.Method
	inputType reflect.Type
}

func (w *typedTransformerWrapper) Execute(ic *InvocationContext, args map[string]any) (map[string]any, error) {
	inputPtr := reflect.New(w.inputType)
	if err := mapToStruct(args, inputPtr.Interface()); err != nil {
		slog.Error("transformer input conversion failed", "transformer", w.method.Name, "error", err)
		return nil, fmt.Errorf("invalid input for transformer %s: %w", w.method.Name, err)
	}

	if err := validateConfig(inputPtr.Interface()); err != nil {
		slog.Error("transformer input validation failed", "transformer", w.method.Name, "error", err)
		return nil, fmt.Errorf("validation failed for transformer %s: %w", w.method.Name, err)
	}

	results := w.method.Func.Call([]reflect.Value{
		w.plugin,
		reflect.ValueOf(ic),
		inputPtr.Elem(),
	})

	output := results[0].Interface()
	var err error
	if !results[1].IsNil() {
		err = results[1].Interface().(error)
	}

	resultMap, convertErr := structToMap(output)
	if convertErr != nil {
		slog.Error("transformer output conversion failed", "transformer", w.method.Name, "error", convertErr)
		return nil, fmt.Errorf("failed to convert output for transformer %s: %w", w.method.Name, convertErr)
	}

	return resultMap, err
}

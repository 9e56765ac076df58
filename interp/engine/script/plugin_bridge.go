package script

import "strings"

// GroupByPrefix regroups a flat "prefix.method" -> func map into a
// nested map keyed by prefix, so Risor sees `prefix.method(...)`
// call syntax for a module-like group of functions. Used to turn the
// builtin-transformer container's flat registry into code-execution
// globals (§4.7 builtin transformers exposed to `js`/`node` bodies).
func GroupByPrefix(flat map[string]any) map[string]any {
	grouped := make(map[string]map[string]any)
	ungrouped := make(map[string]any)

	for name, fn := range flat {
		parts := strings.SplitN(name, ".", 2)
		if len(parts) != 2 {
			ungrouped[name] = fn
			continue
		}
		prefix, method := parts[0], parts[1]
		if grouped[prefix] == nil {
			grouped[prefix] = make(map[string]any)
		}
		grouped[prefix][method] = fn
	}

	result := make(map[string]any, len(grouped)+len(ungrouped))
	for k, v := range grouped {
		result[k] = v
	}
	for k, v := range ungrouped {
		result[k] = v
	}
	return result
}

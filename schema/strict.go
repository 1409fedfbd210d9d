package schema

// Keyword groups walked by applyStrictMode, matching the standard JSON
// Schema keyword set.
var (
	mapValuedKeywords = []string{
		"properties", "patternProperties", "dependentSchemas", "$defs", "definitions",
	}
	singleSchemaKeywords = []string{
		"propertyNames", "additionalProperties", "unevaluatedProperties",
		"items", "contains", "additionalItems", "unevaluatedItems",
		"not", "if", "then", "else",
	}
	arrayValuedKeywords = []string{
		"prefixItems", "allOf", "anyOf", "oneOf",
	}
	objectKeywordHints = []string{
		"properties", "required", "patternProperties", "propertyNames",
	}
)

// isObjectTypeSchema reports whether schema's "type" keyword names (or
// includes) "object".
func isObjectTypeSchema(schema map[string]interface{}) bool {
	t, ok := schema["type"]
	if !ok {
		return false
	}
	switch v := t.(type) {
	case string:
		return v == "object"
	case []interface{}:
		for _, e := range v {
			if s, ok := e.(string); ok && s == "object" {
				return true
			}
		}
	}
	return false
}

// isObjectKeywordSchema reports whether schema looks object-shaped via
// its keywords even without an explicit "type": "object".
func isObjectKeywordSchema(schema map[string]interface{}) bool {
	for _, k := range objectKeywordHints {
		if _, ok := schema[k]; ok {
			return true
		}
	}
	return false
}

// applyStrictMode recursively imposes additionalProperties=false on
// every object-shaped subschema that doesn't already specify it.
func applyStrictMode(node interface{}) interface{} {
	obj, ok := node.(map[string]interface{})
	if !ok {
		return node
	}
	if isObjectTypeSchema(obj) || isObjectKeywordSchema(obj) {
		if _, has := obj["additionalProperties"]; !has {
			obj["additionalProperties"] = false
		}
	}
	for _, k := range mapValuedKeywords {
		if sub, ok := obj[k].(map[string]interface{}); ok {
			for key, v := range sub {
				sub[key] = applyStrictMode(v)
			}
		}
	}
	for _, k := range singleSchemaKeywords {
		if sub, ok := obj[k].(map[string]interface{}); ok {
			obj[k] = applyStrictMode(sub)
		}
	}
	for _, k := range arrayValuedKeywords {
		if arr, ok := obj[k].([]interface{}); ok {
			for i, v := range arr {
				arr[i] = applyStrictMode(v)
			}
		}
	}
	return obj
}

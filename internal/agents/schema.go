package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const evaluationSchemaJSON = `{
  "type": "object",
  "required": ["has_error", "replacement_query", "explanation"],
  "properties": {
    "has_error": {"type": "boolean"},
    "replacement_query": {"type": "string"},
    "explanation": {"type": "string"}
  }
}`

const selectionSchemaJSON = `{
  "type": "object",
  "required": ["choice"],
  "properties": {
    "choice": {"type": "integer", "minimum": 1},
    "reason": {"type": "string"}
  }
}`

var (
	evaluationSchema = mustCompile("evaluation.json", evaluationSchemaJSON)
	selectionSchema  = mustCompile("selection.json", selectionSchemaJSON)
)

func mustCompile(name, doc string) *jsonschema.Schema {
	var schemaDoc any
	if err := json.Unmarshal([]byte(doc), &schemaDoc); err != nil {
		panic(fmt.Sprintf("unmarshal schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, schemaDoc); err != nil {
		panic(fmt.Sprintf("add schema resource %s: %v", name, err))
	}
	return c.MustCompile(name)
}

// decodeValidated normalizes raw model output, validates it against schema and
// decodes it into out.
func decodeValidated(raw string, schema *jsonschema.Schema, out any) error {
	text := normalizeJSONText(raw)
	if text == "" {
		return fmt.Errorf("empty output")
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return err
	}
	return json.Unmarshal([]byte(text), out)
}

// normalizeJSONText strips code fences and any prose around the first JSON
// object in s.
func normalizeJSONText(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "```") {
		t = strings.TrimPrefix(t, "```")
		// drop possible language hint, e.g., json
		if idx := strings.IndexByte(t, '\n'); idx != -1 {
			t = t[idx+1:]
		}
		if j := strings.LastIndex(t, "```"); j != -1 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}
	if !strings.HasPrefix(t, "{") {
		if obj := extractJSONObject(t); obj != "" {
			return obj
		}
	}
	return t
}

// extractJSONObject returns the first balanced {...} in s, ignoring braces
// inside string literals.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type shapeKind int

const (
	shapeUnknown shapeKind = iota
	shapeArray
	shapeObject
)

var (
	arraySchema          = jsonschema.MustCompileString("shape-array.json", `{"type":"array"}`)
	arrayOfObjectsSchema = jsonschema.MustCompileString("shape-array-objects.json", `{"type":"array","items":{"type":"object"}}`)
	objectSchema         = jsonschema.MustCompileString("shape-object.json", `{"type":"object"}`)
)

// shape is the structure a caller expects, derived from a template string.
type shape struct {
	kind   shapeKind
	fields []string
	schema *jsonschema.Schema
}

func parseShape(template string) shape {
	trimmed := strings.TrimSpace(template)
	if trimmed == "" {
		return shape{}
	}
	fields := fieldNames(trimmed)
	switch trimmed[0] {
	case '[':
		s := shape{kind: shapeArray, fields: fields, schema: arraySchema}
		if len(fields) > 0 {
			s.schema = arrayOfObjectsSchema
		}
		return s
	case '{':
		return shape{kind: shapeObject, fields: fields, schema: objectSchema}
	default:
		return shape{fields: fields}
	}
}

func (s shape) delimiters() (open, close byte, ok bool) {
	switch s.kind {
	case shapeArray:
		return '[', ']', true
	case shapeObject:
		return '{', '}', true
	default:
		return 0, 0, false
	}
}

// conforms reports whether candidate is a single JSON value accepted by the shape schema.
func (s shape) conforms(candidate string) bool {
	if s.schema == nil {
		return false
	}
	value, err := decodeSingle(candidate)
	if err != nil {
		return false
	}
	return s.schema.Validate(value) == nil
}

func decodeSingle(raw string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after json value")
	}
	return value, nil
}

var looseKeyPattern = regexp.MustCompile(`"([^"\\]+)"\s*:`)

// fieldNames returns the keys of the template's object (or first array element)
// in the order they are written.
func fieldNames(template string) []string {
	if names := orderedKeys(template); len(names) > 0 {
		return names
	}
	var names []string
	seen := map[string]struct{}{}
	for _, m := range looseKeyPattern.FindAllStringSubmatch(template, -1) {
		name := strings.TrimSpace(m[1])
		if _, dup := seen[name]; dup || name == "" {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

func orderedKeys(template string) []string {
	dec := json.NewDecoder(strings.NewReader(template))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if tok == json.Delim('[') {
		if tok, err = dec.Token(); err != nil {
			return nil
		}
	}
	if tok != json.Delim('{') {
		return nil
	}

	var names []string
	seen := map[string]struct{}{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return names
		}
		key, ok := keyTok.(string)
		if !ok {
			return names
		}
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			names = append(names, key)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return names
		}
	}
	return names
}

// render assembles found values in field order as the given shape.
func render(kind shapeKind, fields []string, values map[string]string) string {
	var b bytes.Buffer
	if kind == shapeArray {
		b.WriteByte('[')
	}
	b.WriteByte('{')
	first := true
	for _, field := range fields {
		value, ok := values[field]
		if !ok {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.Write(quote(field))
		b.WriteByte(':')
		b.Write(quote(value))
	}
	b.WriteByte('}')
	if kind == shapeArray {
		b.WriteByte(']')
	}
	return b.String()
}

func quote(s string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return bytes.TrimRight(buf.Bytes(), "\n")
}

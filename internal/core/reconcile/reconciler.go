// Package reconcile turns a free-form model reply into the structured shape a
// caller asked for. Reconciliation is best effort and has no error outcome.
package reconcile

import (
	"log/slog"
	"strings"
)

// Method records which step produced a reconciled value.
type Method string

const (
	MethodPassthrough    Method = "passthrough"
	MethodWhole          Method = "whole_reply"
	MethodEmbedded       Method = "embedded_value"
	MethodTemplateFields Method = "template_fields"
	MethodExampleFields  Method = "example_fields"
	MethodFallback       Method = "fallback"
)

type Result struct {
	Value  string
	Method Method
	// Fields lists the field names recovered by per-field extraction.
	Fields []string
}

type Reconciler struct {
	matchers []FieldMatcher
	logger   *slog.Logger
}

type Option func(*Reconciler)

// WithMatchers replaces the default matcher set. Order is priority.
func WithMatchers(matchers ...FieldMatcher) Option {
	return func(r *Reconciler) {
		r.matchers = matchers
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		matchers: DefaultMatchers(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Reconcile(reply, format, example string) string {
	return r.ReconcileDetailed(reply, format, example).Value
}

func (r *Reconciler) ReconcileDetailed(reply, format, example string) (result Result) {
	trimmed := strings.TrimSpace(reply)
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("reconcile_panic", "panic", recovered)
			result = Result{Value: trimmed, Method: MethodFallback}
		}
	}()

	if strings.TrimSpace(format) == "" {
		return Result{Value: trimmed, Method: MethodPassthrough}
	}

	target := parseShape(format)
	exampleShape := parseShape(example)
	if target.kind == shapeUnknown {
		target.kind, target.schema = exampleShape.kind, exampleShape.schema
	}

	if target.conforms(trimmed) {
		return Result{Value: trimmed, Method: MethodWhole}
	}

	if embedded, ok := firstEmbedded(trimmed, target); ok {
		return Result{Value: embedded, Method: MethodEmbedded}
	}

	if value, found, ok := r.extractFields(trimmed, target.kind, target.fields); ok {
		return Result{Value: value, Method: MethodTemplateFields, Fields: found}
	}

	if len(exampleShape.fields) > 0 {
		kind := target.kind
		if kind == shapeUnknown {
			kind = exampleShape.kind
		}
		if value, found, ok := r.extractFields(trimmed, kind, exampleShape.fields); ok {
			return Result{Value: value, Method: MethodExampleFields, Fields: found}
		}
	}

	r.logger.Warn("reconcile_fallback", "reply_chars", len(trimmed))
	return Result{Value: trimmed, Method: MethodFallback}
}

// firstEmbedded finds the first balanced substring with the shape's outer
// delimiters that parses as the shape.
func firstEmbedded(text string, s shape) (string, bool) {
	open, close, ok := s.delimiters()
	if !ok {
		return "", false
	}
	for start := 0; start < len(text); start++ {
		if text[start] != open {
			continue
		}
		end, ok := matchingClose(text, start, open, close)
		if !ok {
			continue
		}
		candidate := text[start : end+1]
		if s.conforms(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// matchingClose returns the index of the delimiter closing text[start],
// ignoring delimiters inside JSON strings.
func matchingClose(text string, start int, open, close byte) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func (r *Reconciler) extractFields(text string, kind shapeKind, fields []string) (string, []string, bool) {
	if len(fields) == 0 || text == "" {
		return "", nil, false
	}
	values := make(map[string]string, len(fields))
	var found []string
	for _, field := range fields {
		for _, m := range orderFor(r.matchers, field) {
			if value, ok := m.Match(text, field, fields); ok && value != "" {
				values[field] = value
				found = append(found, field)
				break
			}
		}
	}
	if len(found) == 0 {
		return "", nil, false
	}
	if kind == shapeUnknown {
		kind = shapeObject
	}
	return render(kind, fields, values), found, true
}

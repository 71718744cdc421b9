package reader

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/brook/internal/brook"
)

// Filter is a compiled CEL predicate over positioned events. The zero value
// matches everything.
//
// Variables: position, id, source, event_type, content_type, time_ms, size, text,
// json (parsed payload), now_ms.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// NewFilter compiles expr. An empty expression matches everything.
func NewFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("position", cel.IntType),
		cel.Variable("id", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("content_type", cel.StringType),
		cel.Variable("time_ms", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		cel.Variable("json", cel.DynType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, brook.NewError(brook.KindInvalidArgument, iss.Err(), "filter %q", expr)
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return Filter{}, brook.InvalidArgument("filter %q must evaluate to bool, not %s", expr, t)
	}
	prog, err := env.Program(ast)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Enabled reports whether the filter has an expression.
func (f Filter) Enabled() bool { return f.enabled }

// Match evaluates the filter. Evaluation errors do not match.
func (f Filter) Match(pe brook.PositionedEvent) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal(pe.Event.Data, &jsonObj)
	out, _, err := f.prog.Eval(map[string]any{
		"position":     int64(pe.Position),
		"id":           pe.Event.ID,
		"source":       pe.Event.Source,
		"event_type":   pe.Event.EventType,
		"content_type": pe.Event.DataContentType,
		"time_ms":      pe.Event.Time.UnixMilli(),
		"size":         int64(len(pe.Event.Data)),
		"text":         string(pe.Event.Data),
		"json":         jsonObj,
		"now_ms":       time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

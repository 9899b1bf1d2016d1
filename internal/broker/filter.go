package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/kilnmq/kiln/internal/event"
)

// ErrInvalidFilter wraps CEL compile errors for a fetch filter expression.
var ErrInvalidFilter = errors.New("broker: invalid filter expression")

// eventFilter wraps a compiled CEL program evaluated against fetched events.
// When disabled, Eval always returns true.
type eventFilter struct {
	prog    cel.Program
	enabled bool
}

func newEventFilter(expr string) (eventFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return eventFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("topic", cel.StringType),
		cel.Variable("partition", cel.IntType),
		cel.Variable("offset", cel.IntType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("key", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		// Parsed JSON payload for field filtering
		cel.Variable("json", cel.DynType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return eventFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return eventFilter{}, fmt.Errorf("%w: %v", ErrInvalidFilter, iss.Err())
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return eventFilter{}, fmt.Errorf("%w: %v", ErrInvalidFilter, iss2.Err())
	}
	prog, err := env.Program(checked)
	if err != nil {
		return eventFilter{}, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return eventFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the expression against one event. Evaluation errors fail
// closed.
func (f eventFilter) Eval(topic string, e event.Event) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal(e.Value, &jsonObj)
	headers := make(map[string]string, len(e.Headers))
	for k, v := range e.Headers {
		headers[k] = string(v)
	}
	out, _, err := f.prog.Eval(map[string]any{
		"topic":     topic,
		"partition": int64(e.Partition),
		"offset":    e.Offset,
		"ts_ms":     e.TimestampMs,
		"key":       string(e.Key),
		"size":      int64(len(e.Value)),
		"text":      string(e.Value),
		"json":      jsonObj,
		"headers":   headers,
		"now_ms":    time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

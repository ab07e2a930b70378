package bootscript

import (
	"fmt"
	"strings"
)

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func binaryArith(op func(a, b float64) float64) func(args []any) (any, error) {
	return func(args []any) (any, error) {
		if len(args) != 2 { //nolint:mnd
			return nil, fmt.Errorf("jsonlisp: arithmetic operator requires exactly 2 arguments, got %d", len(args))
		}
		return op(toFloat(args[0]), toFloat(args[1])), nil
	}
}

func binaryCompare(op func(a, b float64) bool) func(args []any) (any, error) {
	return func(args []any) (any, error) {
		if len(args) != 2 { //nolint:mnd
			return nil, fmt.Errorf("jsonlisp: comparison operator requires exactly 2 arguments, got %d", len(args))
		}
		return op(toFloat(args[0]), toFloat(args[1])), nil
	}
}

func length(v any) int {
	switch t := v.(type) {
	case []any:
		return len(t)
	case map[string]any:
		return len(t)
	case string:
		return len(t)
	default:
		return 0
	}
}

// contains reports whether item appears in container (a list, a dict's
// keys, or as a substring of a string) — the shared implementation behind
// both "in" and "contains" (which take the arguments in opposite order).
func contains(container, item any) (any, error) {
	switch c := container.(type) {
	case []any:
		for _, v := range c {
			if v == item {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		key, ok := item.(string)
		if !ok {
			return false, nil
		}
		_, found := c[key]
		return found, nil
	case string:
		needle, ok := item.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(c, needle), nil
	default:
		return false, fmt.Errorf("jsonlisp: value is not a container: %#v", container)
	}
}

func rangeBuiltin(args []any) (any, error) {
	var start, stop, step int
	switch len(args) {
	case 1:
		start, stop, step = 0, int(toFloat(args[0])), 1
	case 2: //nolint:mnd
		start, stop, step = int(toFloat(args[0])), int(toFloat(args[1])), 1
	case 3: //nolint:mnd
		start, stop, step = int(toFloat(args[0])), int(toFloat(args[1])), int(toFloat(args[2]))
	default:
		return nil, fmt.Errorf("jsonlisp: range takes 1 to 3 arguments, got %d", len(args))
	}
	if step == 0 {
		return nil, fmt.Errorf("jsonlisp: range step must not be zero")
	}
	out := []any{}
	if step > 0 {
		for i := start; i < stop; i += step {
			out = append(out, float64(i))
		}
	} else {
		for i := start; i > stop; i += step {
			out = append(out, float64(i))
		}
	}
	return out, nil
}

// formatBuiltin approximates Python's `x % args` printf-style string
// formatting by passing the template and arguments to fmt.Sprintf
// unchanged. Verbs are not rewritten: numbers arrive as float64, so %d with a
// number renders Go's bad-verb marker rather than an integer.
func formatBuiltin(args []any) (any, error) {
	if len(args) == 0 {
		return "", nil
	}
	tmpl, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("jsonlisp: format requires a string template")
	}
	rest := make([]any, len(args)-1)
	for i, a := range args[1:] {
		rest[i] = a
	}
	return fmt.Sprintf(tmpl, rest...), nil
}

package bootscript

import (
	"fmt"
	"reflect"
)

// DefaultEnv builds the root scope: arithmetic/logic/typecheck/sequence/
// mapping/misc builtins, the terminal key-name constants, and the
// defmacro/defproc prelude interpreted from std_lib (spec §4.9). Host
// bindings (read_until, write, writeline, wait, RegExp, interact) are not
// part of this package — the Terminal Bridge defines them on top of this
// scope for each batch run.
func DefaultEnv() *Env {
	env := NewEnv(nil)
	for name, fn := range builtins() {
		env.Define(name, BuiltinFunc{Name: name, Fn: fn})
	}

	env.Define("key_up", "\x1b[A")
	env.Define("key_down", "\x1b[B")
	env.Define("key_right", "\x1b[C")
	env.Define("key_left", "\x1b[D")
	env.Define("key_home", "\x1b[H")
	env.Define("key_end", "\x1b[F")
	env.Define("key_ctrl_space", "\x00")
	env.Define("key_escape", "\x1b")
	env.Define("key_tab", "\t")
	env.Define("key_enter", "\n")
	env.Define("key_backspace", "\x7f")

	if _, err := Interp(stdLib, env); err != nil {
		// std_lib is a fixed, internally-consistent program; a failure here
		// is a bug in this package, not a boot-script author's problem.
		panic(fmt.Sprintf("bootscript: std_lib prelude failed to load: %v", err))
	}
	return env
}

// stdLib defines defmacro and defproc in terms of def/macro/lambda,
// transcribed from jsonlisp.py's std_lib.
var stdLib = []any{
	"begin",
	[]any{
		"def", "defmacro",
		[]any{
			"macro", []any{"name", "params", "body"},
			[]any{
				"list",
				[]any{"quote", "def"},
				"name",
				[]any{"list", []any{"quote", "macro"}, "params", "body"},
			},
		},
	},
	[]any{
		"defmacro", "defproc", []any{"name", "params", "body"},
		[]any{
			"list",
			[]any{"quote", "def"},
			"name",
			[]any{"list", []any{"quote", "lambda"}, "params", "body"},
		},
	},
}

func builtins() map[string]func(args []any) (any, error) {
	return map[string]func(args []any) (any, error){
		// Operators — strictly binary, matching operator.add et al.
		"*":  binaryArith(func(a, b float64) float64 { return a * b }),
		"+":  binaryArith(func(a, b float64) float64 { return a + b }),
		"-":  binaryArith(func(a, b float64) float64 { return a - b }),
		"/":  binaryArith(func(a, b float64) float64 { return a / b }),
		"<":  binaryCompare(func(a, b float64) bool { return a < b }),
		"<=": binaryCompare(func(a, b float64) bool { return a <= b }),
		"=":  func(args []any) (any, error) { return reflect.DeepEqual(args[0], args[1]), nil },
		">":  binaryCompare(func(a, b float64) bool { return a > b }),
		">=": binaryCompare(func(a, b float64) bool { return a >= b }),
		"^": func(args []any) (any, error) {
			a, b := int64(toFloat(args[0])), int64(toFloat(args[1]))
			return float64(a ^ b), nil
		},
		"and":      func(args []any) (any, error) { return truthy(args[0]) && truthy(args[1]), nil },
		"or":       func(args []any) (any, error) { return truthy(args[0]) || truthy(args[1]), nil },
		"not":      func(args []any) (any, error) { return !truthy(args[0]), nil },
		"xor":      func(args []any) (any, error) { return truthy(args[0]) != truthy(args[1]), nil },
		"is":       func(args []any) (any, error) { return reflect.DeepEqual(args[0], args[1]), nil },
		"is-not":   func(args []any) (any, error) { return !reflect.DeepEqual(args[0], args[1]), nil },
		"in":       func(args []any) (any, error) { return contains(args[1], args[0]) },
		"contains": func(args []any) (any, error) { return contains(args[0], args[1]) },

		// Typechecks.
		"dict?":   func(args []any) (any, error) { _, ok := args[0].(map[string]any); return ok, nil },
		"list?":   func(args []any) (any, error) { _, ok := args[0].([]any); return ok, nil },
		"macro?":  func(args []any) (any, error) { _, ok := args[0].(*Macro); return ok, nil },
		"null?":   func(args []any) (any, error) { return args[0] == nil, nil },
		"number?": func(args []any) (any, error) { _, ok := args[0].(float64); return ok, nil },
		"proc?":   func(args []any) (any, error) { _, ok := args[0].(Callable); return ok, nil },
		"symbol?": func(args []any) (any, error) { _, ok := args[0].(string); return ok, nil },

		// Sequence functions.
		"begin": func(args []any) (any, error) {
			if len(args) == 0 {
				return nil, nil
			}
			return args[len(args)-1], nil
		},
		"cons": func(args []any) (any, error) {
			tail, ok := args[1].([]any)
			if !ok {
				return nil, fmt.Errorf("jsonlisp: cons second argument must be a list")
			}
			return append([]any{args[0]}, tail...), nil
		},
		"head": func(args []any) (any, error) {
			list, ok := args[0].([]any)
			if !ok || len(list) == 0 {
				return nil, fmt.Errorf("jsonlisp: head of empty or non-list value")
			}
			return list[0], nil
		},
		"tail": func(args []any) (any, error) {
			list, ok := args[0].([]any)
			if !ok || len(list) == 0 {
				return []any{}, nil
			}
			return append([]any{}, list[1:]...), nil
		},
		"len": func(args []any) (any, error) { return float64(length(args[0])), nil },
		"list": func(args []any) (any, error) {
			return append([]any{}, args...), nil
		},
		"map": func(args []any) (any, error) {
			if len(args) == 0 {
				return []any{}, nil
			}
			fn, ok := args[0].(Callable)
			if !ok {
				return nil, fmt.Errorf("jsonlisp: map requires a callable as its first argument")
			}
			lists := make([][]any, len(args)-1)
			minLen := -1
			for i, a := range args[1:] {
				l, ok := a.([]any)
				if !ok {
					return nil, fmt.Errorf("jsonlisp: map arguments must be lists")
				}
				lists[i] = l
				if minLen == -1 || len(l) < minLen {
					minLen = len(l)
				}
			}
			out := make([]any, 0, minLen)
			for i := 0; i < minLen; i++ {
				call := make([]any, len(lists))
				for j, l := range lists {
					call[j] = l[i]
				}
				v, err := fn.Call(call)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
			return out, nil
		},
		"range": rangeBuiltin,

		// Dict functions.
		"dict": func(args []any) (any, error) {
			pairs, ok := args[0].([]any)
			if !ok {
				return nil, fmt.Errorf("jsonlisp: dict requires a list of pairs")
			}
			out := map[string]any{}
			for _, p := range pairs {
				pair, ok := p.([]any)
				if !ok || len(pair) != 2 { //nolint:mnd
					return nil, fmt.Errorf("jsonlisp: dict pair must be a 2-element list")
				}
				key, ok := pair[0].(string)
				if !ok {
					return nil, fmt.Errorf("jsonlisp: dict keys must be strings")
				}
				out[key] = pair[1]
			}
			return out, nil
		},
		"dict-del": func(args []any) (any, error) {
			d, key := args[0].(map[string]any), fmt.Sprint(args[1])
			out := map[string]any{}
			for k, v := range d {
				if k != key {
					out[k] = v
				}
			}
			return out, nil
		},
		"dict-get": func(args []any) (any, error) {
			d, ok := args[0].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("jsonlisp: dict-get requires a dict")
			}
			return d[fmt.Sprint(args[1])], nil
		},
		"dict-items": func(args []any) (any, error) {
			d, ok := args[0].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("jsonlisp: dict-items requires a dict")
			}
			out := make([]any, 0, len(d))
			for k, v := range d {
				out = append(out, []any{k, v})
			}
			return out, nil
		},
		"dict-set": func(args []any) (any, error) {
			d, ok := args[0].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("jsonlisp: dict-set requires a dict")
			}
			out := make(map[string]any, len(d)+1)
			for k, v := range d {
				out[k] = v
			}
			out[fmt.Sprint(args[1])] = args[2]
			return out, nil
		},

		// Misc.
		"apply": func(args []any) (any, error) {
			fn, ok := args[0].(Callable)
			if !ok {
				return nil, fmt.Errorf("jsonlisp: apply requires a callable as its first argument")
			}
			argList, ok := args[1].([]any)
			if !ok {
				return nil, fmt.Errorf("jsonlisp: apply requires a list as its second argument")
			}
			return fn.Call(argList)
		},
		"print": func(args []any) (any, error) {
			fmt.Println(args...)
			return nil, nil
		},
		"literal": func(args []any) (any, error) { return args[0], nil },
		"str":     func(args []any) (any, error) { return fmt.Sprint(args[0]), nil },
		"format":  formatBuiltin,
	}
}

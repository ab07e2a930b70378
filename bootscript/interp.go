package bootscript

import (
	"fmt"
	"strings"
)

// Interp evaluates x in env, mirroring jsonlisp.py's interp() form for form.
func Interp(x any, env *Env) (any, error) {
	if m, ok := x.(map[string]any); ok && len(m) == 1 {
		return interpOneKeyCall(m, env)
	}

	if s, ok := x.(string); ok {
		if strings.HasPrefix(s, "key_") && len(s) == 5 { //nolint:mnd
			return string(s[4]), nil
		}
		v, ok := env.Get(s)
		if !ok {
			return nil, fmt.Errorf("jsonlisp: undefined symbol %q", s)
		}
		return v, nil
	}

	list, ok := x.([]any)
	if !ok {
		return x, nil
	}
	if len(list) == 0 {
		return list, nil
	}

	head, headIsSymbol := list[0].(string)
	if headIsSymbol {
		switch head {
		case "quote", "'":
			return list[1], nil
		case "flat_quote", "_'":
			return append([]any{}, list[1:]...), nil
		case "if":
			test, err := Interp(list[1], env)
			if err != nil {
				return nil, err
			}
			if truthy(test) {
				return Interp(list[2], env) //nolint:mnd
			}
			return Interp(list[3], env) //nolint:mnd
		case "def":
			name, ok := list[1].(string)
			if !ok {
				return nil, fmt.Errorf("jsonlisp: def target must be a symbol, got %#v", list[1])
			}
			val, err := Interp(list[2], env)
			if err != nil {
				return nil, err
			}
			env.Define(name, val)
			return val, nil
		case "lambda":
			params, err := symbolList(list[1])
			if err != nil {
				return nil, err
			}
			return &Proc{Params: params, Body: list[2], Env: env}, nil //nolint:mnd
		case "macro":
			params, err := symbolList(list[1])
			if err != nil {
				return nil, err
			}
			return &Macro{Params: params, Body: list[2], Env: env}, nil //nolint:mnd
		}
	}

	procVal, err := Interp(list[0], env)
	if err != nil {
		return nil, err
	}
	if macro, ok := procVal.(*Macro); ok {
		return macro.Expand(list[1:], env)
	}

	args := make([]any, 0, len(list)-1)
	for _, a := range list[1:] {
		v, err := Interp(a, env)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return callValue(procVal, args)
}

func interpOneKeyCall(m map[string]any, env *Env) (any, error) {
	for k, v0 := range m {
		items, isList := v0.([]any)
		if !isList {
			items = []any{v0}
		}
		args := make([]any, 0, len(items))
		for _, a := range items {
			switch a.(type) {
			case []any, map[string]any:
				evaluated, err := Interp(a, env)
				if err != nil {
					return nil, err
				}
				a = evaluated
			}
			args = append(args, a)
		}

		fval, ok := env.Get(k)
		if !ok {
			return nil, fmt.Errorf("jsonlisp: undefined function %q", k)
		}
		return callValue(fval, args)
	}
	panic("unreachable: m has exactly one key")
}

func symbolList(x any) ([]string, error) {
	list, ok := x.([]any)
	if !ok {
		return nil, fmt.Errorf("jsonlisp: expected a param list, got %#v", x)
	}
	names := make([]string, 0, len(list))
	for _, p := range list {
		name, ok := p.(string)
		if !ok {
			return nil, fmt.Errorf("jsonlisp: param name must be a symbol, got %#v", p)
		}
		names = append(names, name)
	}
	return names, nil
}

// truthy mirrors Python's bool() coercion for the values this language's
// JSON surface can produce: nil, false, 0, "", and empty lists/maps are
// falsy; everything else is truthy.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

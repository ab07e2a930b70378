package bootscript

import "testing"

func evalString(t *testing.T, program any) any {
	t.Helper()
	env := DefaultEnv()
	v, err := Interp(program, env)
	if err != nil {
		t.Fatalf("Interp(%#v) error = %v", program, err)
	}
	return v
}

func TestInterpArithmetic(t *testing.T) {
	got := evalString(t, []any{"+", 1.0, 2.0})
	if got != 3.0 {
		t.Errorf("(+ 1 2) = %v, want 3", got)
	}
}

func TestInterpNestedArithmetic(t *testing.T) {
	got := evalString(t, []any{"*", []any{"+", 1.0, 2.0}, 4.0})
	if got != 12.0 {
		t.Errorf("(* (+ 1 2) 4) = %v, want 12", got)
	}
}

func TestInterpIfTrueBranch(t *testing.T) {
	env := DefaultEnv()
	env.Define("yes", "taken-true")
	env.Define("no", "taken-false")
	v, err := Interp([]any{"if", []any{"<", 1.0, 2.0}, "yes", "no"}, env)
	if err != nil {
		t.Fatalf("Interp error = %v", err)
	}
	if v != "taken-true" {
		t.Errorf("if-true branch = %v, want taken-true", v)
	}
}

func TestInterpIfFalseBranch(t *testing.T) {
	env := DefaultEnv()
	env.Define("yes", "taken-true")
	env.Define("no", "taken-false")
	v, err := Interp([]any{"if", []any{"<", 2.0, 1.0}, "yes", "no"}, env)
	if err != nil {
		t.Fatalf("Interp error = %v", err)
	}
	if v != "taken-false" {
		t.Errorf("if-false branch = %v, want taken-false", v)
	}
}

func TestInterpDefAndLookup(t *testing.T) {
	env := DefaultEnv()
	if _, err := Interp([]any{"def", "x", 42.0}, env); err != nil {
		t.Fatalf("def error = %v", err)
	}
	v, err := Interp("x", env)
	if err != nil {
		t.Fatalf("lookup error = %v", err)
	}
	if v != 42.0 {
		t.Errorf("x = %v, want 42", v)
	}
}

func TestInterpUndefinedSymbolErrors(t *testing.T) {
	env := DefaultEnv()
	if _, err := Interp("nonexistent", env); err == nil {
		t.Error("expected an error for an undefined symbol")
	}
}

func TestInterpLambdaCall(t *testing.T) {
	env := DefaultEnv()
	if _, err := Interp([]any{"def", "double", []any{"lambda", []any{"n"}, []any{"*", "n", 2.0}}}, env); err != nil {
		t.Fatalf("def lambda error = %v", err)
	}
	v, err := Interp([]any{"double", 21.0}, env)
	if err != nil {
		t.Fatalf("call error = %v", err)
	}
	if v != 42.0 {
		t.Errorf("(double 21) = %v, want 42", v)
	}
}

func TestInterpOneKeyCallForm(t *testing.T) {
	got := evalString(t, map[string]any{"+": []any{1.0, 2.0}})
	if got != 3.0 {
		t.Errorf("{+: [1, 2]} = %v, want 3", got)
	}
}

func TestInterpQuoteDoesNotEvaluate(t *testing.T) {
	got := evalString(t, []any{"quote", []any{"+", 1.0, 2.0}})
	list, ok := got.([]any)
	if !ok || len(list) != 3 {
		t.Errorf("quote result = %#v, want unevaluated 3-element list", got)
	}
}

func TestInterpKeyNameExpandsToSingleChar(t *testing.T) {
	got := evalString(t, "key_a")
	if got != "a" {
		t.Errorf("key_a = %q, want %q", got, "a")
	}
}

func TestInterpDefmacroFromStdLib(t *testing.T) {
	env := DefaultEnv()
	if _, err := Interp([]any{"defproc", "inc", []any{"n"}, []any{"+", "n", 1.0}}, env); err != nil {
		t.Fatalf("defproc error = %v", err)
	}
	v, err := Interp([]any{"inc", 9.0}, env)
	if err != nil {
		t.Fatalf("call error = %v", err)
	}
	if v != 10.0 {
		t.Errorf("(inc 9) = %v, want 10", v)
	}
}

func TestDefaultEnvDefinesKeyConstants(t *testing.T) {
	env := DefaultEnv()
	v, ok := env.Get("key_enter")
	if !ok || v != "\n" {
		t.Errorf("key_enter = (%v, %v), want (\\n, true)", v, ok)
	}
}

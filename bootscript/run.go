package bootscript

import "fmt"

// RunProgram interprets a top-level boot-command list: cmds is wrapped as
// an implicit `begin` block and evaluated in env, matching the original's
// run_batch ("transpiled_cmds = ['begin'] + cmds"). env is expected to
// already carry DefaultEnv()'s bindings plus the Terminal Bridge's host
// bindings (read_until, write, writeline, wait, RegExp, interact).
func RunProgram(cmds []any, env *Env) (any, error) {
	program := append([]any{"begin"}, cmds...)
	val, err := Interp(program, env)
	if err != nil {
		return nil, fmt.Errorf("boot script: %w", err)
	}
	return val, nil
}

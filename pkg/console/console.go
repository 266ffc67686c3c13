// Package console runs Starlark scripts against a live core session.
// Scripts see the core through builtins such as graphs(), rule(name) and
// call(verb, *args); top-level globals become the script's output.
package console

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/quantomatic/quanto-client/pkg/core"
	"github.com/quantomatic/quanto-client/pkg/telemetry"
)

// DefaultTimeout bounds a script run when none is configured.
const DefaultTimeout = 30 * time.Second

// Result is what a script produced.
type Result struct {
	// Output holds the script's public globals converted to Go values.
	Output map[string]interface{}

	// Printed collects the lines the script passed to print.
	Printed []string

	ExecutionTime time.Duration
}

// Console executes scripts with a core bound to the builtins.
type Console struct {
	core    *core.Core
	timeout time.Duration
	logger  *telemetry.Logger
}

// New creates a console over c. A zero timeout means DefaultTimeout.
func New(c *core.Core, timeout time.Duration, logger *telemetry.Logger) *Console {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Console{
		core:    c,
		timeout: timeout,
		logger:  logger.NewComponentLogger("console"),
	}
}

// Run executes script. input values are predeclared as globals. A
// structured error raised by the core aborts the script unless it used
// try_call; the returned error then names the code.
func (c *Console) Run(ctx context.Context, filename, script string, input map[string]interface{}) (*Result, error) {
	startTime := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result := &Result{}
	thread := &starlark.Thread{
		Name: filename,
		Print: func(_ *starlark.Thread, msg string) {
			result.Printed = append(result.Printed, msg)
			c.logger.WithField("script", filename).Debug(msg)
		},
	}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}
	for name, fn := range c.builtins(runCtx) {
		predeclared[name] = starlark.NewBuiltin(name, fn)
	}
	for key, val := range input {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	type outcome struct {
		globals starlark.StringDict
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		globals, err := starlark.ExecFile(thread, filename, script, predeclared)
		done <- outcome{globals, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
		thread.Cancel(runCtx.Err().Error())
		out = <-done
		if out.err != nil {
			out.err = fmt.Errorf("script %s stopped: %w", filename, runCtx.Err())
		}
	}
	result.ExecutionTime = time.Since(startTime)
	if out.err != nil {
		return result, fmt.Errorf("starlark execution failed: %w", out.err)
	}

	result.Output = make(map[string]interface{})
	for name, val := range out.globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return result, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		result.Output[name] = goVal
	}
	return result, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		return stringList(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			if err := dict.SetKey(starlark.String(k), starlark.String(v)); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Tuple:
		return fromIterable(val, val.Len())
	case *starlark.List:
		return fromIterable(val, val.Len())
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromIterable(it starlark.Iterable, n int) ([]interface{}, error) {
	list := make([]interface{}, 0, n)
	iter := it.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		item, err := fromStarlarkValue(x)
		if err != nil {
			return nil, err
		}
		list = append(list, item)
	}
	return list, nil
}

func stringList(ss []string) *starlark.List {
	list := make([]starlark.Value, len(ss))
	for i, s := range ss {
		list[i] = starlark.String(s)
	}
	return starlark.NewList(list)
}

package console

import (
	"context"
	"errors"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/quantomatic/quanto-client/pkg/core/protocol"
	"github.com/quantomatic/quanto-client/pkg/model"
)

type builtinFunc = func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)

func (c *Console) builtins(ctx context.Context) map[string]builtinFunc {
	return map[string]builtinFunc{
		"hello": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			greeting, err := c.core.Hello(ctx)
			if err != nil {
				return nil, coreError(b, err)
			}
			return starlark.String(greeting), nil
		},

		"graphs": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			names, err := c.core.ListGraphs(ctx)
			if err != nil {
				return nil, coreError(b, err)
			}
			return stringList(names), nil
		},

		"rules": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			names, err := c.core.ListRules(ctx)
			if err != nil {
				return nil, coreError(b, err)
			}
			return stringList(names), nil
		},

		"graph": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			g, err := c.core.GraphXML(ctx, name)
			if err != nil {
				return nil, coreError(b, err)
			}
			return graphValue(name, g), nil
		},

		"rule": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			r, err := c.core.Rule(ctx, name)
			if err != nil {
				return nil, coreError(b, err)
			}
			return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
				"name": starlark.String(r.Name),
				"lhs":  graphValue("", r.LHS),
				"rhs":  graphValue("", r.RHS),
			}), nil
		},

		"rewrites": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "graph", &name); err != nil {
				return nil, err
			}
			if _, err := c.core.AttachRewrites(ctx, name); err != nil {
				return nil, coreError(b, err)
			}
			rewrites, err := c.core.ShowRewrites(ctx, name)
			if err != nil {
				return nil, coreError(b, err)
			}
			list := make([]starlark.Value, len(rewrites))
			for i, rw := range rewrites {
				list[i] = starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
					"index":    starlark.MakeInt(rw.Index),
					"rule":     starlark.String(rw.Rule.Name),
					"newgraph": graphValue("", rw.NewGraph),
				})
			}
			return starlark.NewList(list), nil
		},

		"apply": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			var index int
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "graph", &name, "index", &index); err != nil {
				return nil, err
			}
			if err := c.core.ApplyRewrite(ctx, name, index); err != nil {
				return nil, coreError(b, err)
			}
			return starlark.None, nil
		},

		"user_data": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name, key string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "graph", &name, "key", &key); err != nil {
				return nil, err
			}
			v, ok, err := c.core.GraphUserData(ctx, name, key)
			if err != nil {
				return nil, coreError(b, err)
			}
			if !ok {
				return starlark.None, nil
			}
			return starlark.String(v), nil
		},

		"set_user_data": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name, key, value string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "graph", &name, "key", &key, "value", &value); err != nil {
				return nil, err
			}
			if err := c.core.SetGraphUserData(ctx, name, key, value); err != nil {
				return nil, coreError(b, err)
			}
			return starlark.None, nil
		},

		"call": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			verb, rest, err := verbArgs(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			lines, err := c.core.Raw(ctx, verb, rest...)
			if err != nil {
				return nil, coreError(b, err)
			}
			return stringList(lines), nil
		},

		// try_call never raises for structured errors; it reports them.
		"try_call": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			verb, rest, err := verbArgs(b, args, kwargs)
			if err != nil {
				return nil, err
			}
			lines, err := c.core.Raw(ctx, verb, rest...)
			var se *protocol.StructuredError
			switch {
			case err == nil:
				return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
					"ok":      starlark.True,
					"code":    starlark.None,
					"message": starlark.None,
					"lines":   stringList(lines),
				}), nil
			case errors.As(err, &se):
				return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
					"ok":      starlark.False,
					"code":    starlark.String(se.Code),
					"message": starlark.String(se.Message),
					"lines":   stringList(se.Detail),
				}), nil
			default:
				return nil, coreError(b, err)
			}
		},
	}
}

func verbArgs(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (string, []string, error) {
	if len(kwargs) > 0 {
		return "", nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("%s: missing verb", b.Name())
	}
	out := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case starlark.String:
			out[i] = string(v)
		case starlark.Int:
			out[i] = v.String()
		default:
			return "", nil, fmt.Errorf("%s: argument %d must be a string or int, got %s", b.Name(), i, a.Type())
		}
	}
	return out[0], out[1:], nil
}

// coreError names the builtin and keeps err in the chain so callers can
// still find the structured error code.
func coreError(b *starlark.Builtin, err error) error {
	return fmt.Errorf("%s: %w", b.Name(), err)
}

func graphValue(name string, g *model.Graph) starlark.Value {
	vertices := make([]string, len(g.Vertices))
	for i, v := range g.Vertices {
		vertices[i] = v.Name
	}
	edges := make([]starlark.Value, len(g.Edges))
	for i, e := range g.Edges {
		edges[i] = starlark.Tuple{starlark.String(e.Source), starlark.String(e.Target)}
	}
	if name == "" {
		name = g.Name
	}
	annotations := starlark.NewDict(g.Annotations.Len())
	for _, k := range g.Annotations.Keys() {
		v, _ := g.Annotations.Get(k)
		_ = annotations.SetKey(starlark.String(k), starlark.String(v))
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"name":      starlark.String(name),
		"vertices":  stringList(vertices),
		"edges":     starlark.NewList(edges),
		"user_data": annotations,
	})
}

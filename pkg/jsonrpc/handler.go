package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// ErrInvalidHandler is returned when a value cannot be adapted into a Handler.
var ErrInvalidHandler = errors.New("invalid handler")

// Handler handles an invocation of a registered method.
type Handler interface {
	ServeRPC(ctx context.Context, params Params) (any, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, params Params) (any, error)

// ServeRPC calls f(ctx, params).
func (f HandlerFunc) ServeRPC(ctx context.Context, params Params) (any, error) {
	return f(ctx, params)
}

// Binder is implemented by handlers that declare the arguments they accept.
// The dispatcher calls Bind before invoking the handler; a non-nil error is
// reported as Invalid params and the handler is not invoked.
type Binder interface {
	Bind(params Params) error
}

// Describer is implemented by handlers that can describe their parameters.
type Describer interface {
	Signature() string
}

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	anyType     = reflect.TypeOf((*any)(nil)).Elem()
)

// FuncHandler invokes an ordinary Go function. Positional arguments fill the
// function parameters in order, named arguments fill them by name, and any
// surplus positional arguments go to a variadic tail.
type FuncHandler struct {
	fn       reflect.Value
	withCtx  bool
	in       []reflect.Type
	variadic reflect.Type
	names    []string
	index    map[string]int
	results  int
}

// Func adapts fn into a Handler. fn may take a leading context.Context, any
// number of parameters and an optional variadic tail, and must return (),
// (R), (error) or (R, error). names, when given, name the fixed parameters in
// order and enable named arguments.
func Func(fn any, names ...string) (*FuncHandler, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%w: expected a function, got %T", ErrInvalidHandler, fn)
	}
	t := v.Type()

	h := &FuncHandler{fn: v, index: make(map[string]int, len(names))}

	first := 0
	if t.NumIn() > 0 && t.In(0) == contextType {
		h.withCtx = true
		first = 1
	}

	last := t.NumIn()
	if t.IsVariadic() {
		last--
		h.variadic = t.In(last).Elem()
	}
	for i := first; i < last; i++ {
		h.in = append(h.in, t.In(i))
	}

	switch t.NumOut() {
	case 0:
	case 1:
	case 2:
		if t.Out(1) != errorType {
			return nil, fmt.Errorf("%w: second result must be error", ErrInvalidHandler)
		}
	default:
		return nil, fmt.Errorf("%w: too many results", ErrInvalidHandler)
	}
	h.results = t.NumOut()

	if len(names) > 0 && len(names) != len(h.in) {
		return nil, fmt.Errorf("%w: %d names for %d parameters", ErrInvalidHandler, len(names), len(h.in))
	}
	for i, name := range names {
		if _, dup := h.index[name]; dup {
			return nil, fmt.Errorf("%w: duplicate parameter name %q", ErrInvalidHandler, name)
		}
		h.index[name] = i
	}
	h.names = names

	return h, nil
}

// MustFunc is like Func but panics on error.
func MustFunc(fn any, names ...string) *FuncHandler {
	h, err := Func(fn, names...)
	if err != nil {
		panic(err)
	}
	return h
}

// Signature describes the parameters h accepts, for example
// "(minuend float64, subtrahend float64)" or "(...float64)".
func (h *FuncHandler) Signature() string {
	parts := make([]string, 0, len(h.in)+1)
	for i, t := range h.in {
		if len(h.names) > i {
			parts = append(parts, h.names[i]+" "+t.String())
		} else {
			parts = append(parts, t.String())
		}
	}
	if h.variadic != nil {
		parts = append(parts, "..."+h.variadic.String())
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Bind implements Binder.
func (h *FuncHandler) Bind(params Params) error {
	_, err := h.bind(params)
	return err
}

// ServeRPC implements Handler.
func (h *FuncHandler) ServeRPC(ctx context.Context, params Params) (any, error) {
	args, err := h.bind(params)
	if err != nil {
		return nil, NewError(CodeInvalidParams, err.Error())
	}
	if h.withCtx {
		args = append([]reflect.Value{reflect.ValueOf(&ctx).Elem()}, args...)
	}

	out := h.fn.Call(args)

	switch h.results {
	case 0:
		return nil, nil
	case 1:
		if h.fn.Type().Out(0) == errorType {
			return nil, asError(out[0])
		}
		return out[0].Interface(), nil
	default:
		if err := asError(out[1]); err != nil {
			return nil, err
		}
		return out[0].Interface(), nil
	}
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}

// bind matches params against the function signature and converts every argument.
func (h *FuncHandler) bind(params Params) ([]reflect.Value, error) {
	fixed := len(h.in)
	npos := len(params.Positional)

	if npos > fixed && h.variadic == nil {
		return nil, fmt.Errorf("takes %d positional arguments but %d were given", fixed, npos)
	}

	args := make([]reflect.Value, fixed)
	filled := make([]bool, fixed)

	for i := 0; i < npos && i < fixed; i++ {
		arg, err := convertArg(params.Positional[i], h.in[i])
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", h.argName(i), err)
		}
		args[i] = arg
		filled[i] = true
	}

	for _, name := range slices.Sorted(maps.Keys(params.Named)) {
		value := params.Named[name]
		i, ok := h.index[name]
		if !ok {
			return nil, fmt.Errorf("got an unexpected keyword argument %q", name)
		}
		if filled[i] {
			return nil, fmt.Errorf("got multiple values for argument %q", name)
		}
		arg, err := convertArg(value, h.in[i])
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", h.argName(i), err)
		}
		args[i] = arg
		filled[i] = true
	}

	for i, ok := range filled {
		if !ok {
			return nil, fmt.Errorf("missing required argument %s", h.argName(i))
		}
	}

	for i := fixed; i < npos; i++ {
		arg, err := convertArg(params.Positional[i], h.variadic)
		if err != nil {
			return nil, fmt.Errorf("argument #%d: %w", i+1, err)
		}
		args = append(args, arg)
	}

	return args, nil
}

func (h *FuncHandler) argName(i int) string {
	if len(h.names) > i {
		return fmt.Sprintf("%q", h.names[i])
	}
	return fmt.Sprintf("#%d", i+1)
}

// convertArg converts a decoded value to the parameter type, going through a
// JSON round trip when the value is not directly assignable.
func convertArg(value any, t reflect.Type) (reflect.Value, error) {
	if t == anyType {
		if value == nil {
			return reflect.Zero(t), nil
		}
		return reflect.ValueOf(&value).Elem(), nil
	}
	if value == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		default:
			return reflect.Value{}, fmt.Errorf("cannot use null as %s", t)
		}
	}
	if v := reflect.ValueOf(value); v.Type().AssignableTo(t) {
		return v, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return reflect.Value{}, err
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return reflect.Value{}, fmt.Errorf("cannot use %s as %s", typeErr.Value, t)
		}
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}

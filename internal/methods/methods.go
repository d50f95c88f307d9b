// Package methods contains the built-in RPC methods.
package methods

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/samber/lo"

	"norelock.dev/rpcdispatch/internal/utils"
	"norelock.dev/rpcdispatch/pkg/jsonrpc"
)

// Handlers holds the built-in methods.
type Handlers struct {
	table  *jsonrpc.MethodTable
	logger *utils.Logger
}

// RegisterAll registers every built-in method on table.
func RegisterAll(table *jsonrpc.MethodTable, logger *utils.Logger) error {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	h := &Handlers{table: table, logger: logger.Named("methods")}

	funcs := []struct {
		method string
		fn     any
		names  []string
	}{
		{"system.listMethods", h.listMethods, nil},
		{"system.ping", h.ping, nil},
		{"subtract", h.subtract, []string{"minuend", "subtrahend"}},
		{"sum", h.sum, nil},
		{"echo", h.echo, []string{"value"}},
		{"get_data", h.getData, nil},
		{"notify_hello", h.notifyHello, []string{"value"}},
	}
	for _, f := range funcs {
		if err := table.RegisterFunc(f.method, f.fn, f.names...); err != nil {
			return err
		}
	}

	if err := table.Register("greet", greetHandler{}); err != nil {
		return err
	}

	h.logger.Info("Registered built-in methods", "count", table.Len())
	return nil
}

func (h *Handlers) listMethods() []string {
	return h.table.Methods()
}

func (h *Handlers) ping() string {
	return "pong"
}

func (h *Handlers) subtract(minuend, subtrahend float64) float64 {
	return minuend - subtrahend
}

func (h *Handlers) sum(numbers ...float64) float64 {
	return lo.Sum(numbers)
}

func (h *Handlers) echo(value any) any {
	return value
}

func (h *Handlers) getData() []any {
	return []any{"hello", 5}
}

func (h *Handlers) notifyHello(ctx context.Context, value any) {
	info, _ := jsonrpc.RequestInfoFromContext(ctx)
	h.logger.Info("Hello", "value", value, "notification", info.Notification, "peer", jsonrpc.PeerFromContext(ctx))
}

// greetHandler takes a required name and an optional greeting, positionally
// or by name.
type greetHandler struct{}

var greetParams = []string{"name", "greeting"}

func (greetHandler) Signature() string {
	return "(name string, greeting string = \"Hello\")"
}

func (greetHandler) Bind(params jsonrpc.Params) error {
	_, _, err := bindGreet(params)
	return err
}

func (greetHandler) ServeRPC(_ context.Context, params jsonrpc.Params) (any, error) {
	name, greeting, err := bindGreet(params)
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error())
	}
	return fmt.Sprintf("%s, %s!", greeting, name), nil
}

func bindGreet(params jsonrpc.Params) (name, greeting string, err error) {
	if len(params.Positional) > len(greetParams) {
		return "", "", fmt.Errorf("takes at most %d positional arguments but %d were given", len(greetParams), len(params.Positional))
	}

	values := map[string]any{}
	for i, v := range params.Positional {
		values[greetParams[i]] = v
	}
	for _, k := range slices.Sorted(maps.Keys(params.Named)) {
		v := params.Named[k]
		if !lo.Contains(greetParams, k) {
			return "", "", fmt.Errorf("got an unexpected keyword argument %q", k)
		}
		if _, dup := values[k]; dup {
			return "", "", fmt.Errorf("got multiple values for argument %q", k)
		}
		values[k] = v
	}

	name, ok := values["name"].(string)
	if !ok {
		return "", "", fmt.Errorf("argument \"name\" must be a string")
	}
	greeting = "Hello"
	if g, present := values["greeting"]; present {
		if greeting, ok = g.(string); !ok {
			return "", "", fmt.Errorf("argument \"greeting\" must be a string")
		}
	}
	return name, greeting, nil
}

package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Observer is notified once for every processed request, including invalid
// ones (method is then empty). code is zero on success.
type Observer interface {
	ObserveCall(method string, code ErrorCode, notification bool, duration time.Duration)
}

// BatchObserver is an optional Observer extension notified of every batch
// payload before its elements are processed.
type BatchObserver interface {
	ObserveBatch(size int)
}

var defaultValidator = sync.OnceValue(func() Validator {
	return MustSchemaValidator()
})

// Dispatcher is a JSON-RPC 2.0 dispatch engine. It is safe for concurrent use.
type Dispatcher struct {
	table       *MethodTable
	codec       Codec
	validator   Validator
	logger      *zap.Logger
	observer    Observer
	sentinel    string
	concurrency int
	maxBatch    int

	// middleware is a list of middleware functions to apply to handlers.
	middleware []Middleware
	mwMutex    sync.RWMutex
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCodec sets the codec used by Call. The default is a JSONCodec.
func WithCodec(c Codec) Option {
	return func(d *Dispatcher) { d.codec = c }
}

// WithValidator sets the request validator. The default is a SchemaValidator.
func WithValidator(v Validator) Option {
	return func(d *Dispatcher) { d.validator = v }
}

// WithLogger sets the logger that receives handler failures.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithObserver sets the observer notified of every processed request.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithSentinelKey sets the params member that carries positional arguments
// inside a named-parameter object.
func WithSentinelKey(key string) Option {
	return func(d *Dispatcher) { d.sentinel = key }
}

// WithBatchConcurrency sets how many batch elements may be processed at once.
// Values below 2 process batches sequentially.
func WithBatchConcurrency(n int) Option {
	return func(d *Dispatcher) { d.concurrency = n }
}

// WithMaxBatchSize rejects batches with more than n elements. Zero means no limit.
func WithMaxBatchSize(n int) Option {
	return func(d *Dispatcher) { d.maxBatch = n }
}

// WithMiddleware adds middleware applied to every handler invocation.
func WithMiddleware(mw ...Middleware) Option {
	return func(d *Dispatcher) { d.middleware = append(d.middleware, mw...) }
}

// New creates a dispatcher with an empty method table.
func New(opts ...Option) *Dispatcher {
	return NewWithTable(NewMethodTable(), opts...)
}

// NewWithTable creates a dispatcher serving the methods of table.
func NewWithTable(table *MethodTable, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		table:       table,
		sentinel:    DefaultSentinelKey,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.codec == nil {
		d.codec = NewJSONCodec()
	}
	if d.validator == nil {
		d.validator = defaultValidator()
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// Table returns the method table served by the dispatcher.
func (d *Dispatcher) Table() *MethodTable {
	return d.table
}

// Codec returns the codec used by Call.
func (d *Dispatcher) Codec() Codec {
	return d.codec
}

// Register registers a handler for a method.
func (d *Dispatcher) Register(method string, handler Handler) error {
	return d.table.Register(method, handler)
}

// RegisterFunc adapts fn with Func and registers it.
func (d *Dispatcher) RegisterFunc(method string, fn any, names ...string) error {
	return d.table.RegisterFunc(method, fn, names...)
}

// Use adds middleware to the dispatcher.
func (d *Dispatcher) Use(mw ...Middleware) {
	d.mwMutex.Lock()
	defer d.mwMutex.Unlock()
	d.middleware = append(d.middleware, mw...)
}

// Call processes a raw payload and returns the raw reply. A nil reply with a
// nil error means there is nothing to send back. The error is only non-nil
// when the reply cannot be serialized at all.
func (d *Dispatcher) Call(ctx context.Context, raw []byte) ([]byte, error) {
	v, err := d.codec.Parse(raw)
	if err != nil {
		d.observe("", CodeParseError, false, 0)
		return d.serialize(NewErrorResponse(nil, CodeParseError, err.Error()))
	}

	out := d.Handle(ctx, v)
	if out == nil {
		return nil, nil
	}
	return d.serialize(out)
}

// Handle processes an already parsed payload. It returns nil when there is
// nothing to send back, a *Response for a single request or an invalid batch,
// and a []*Response for a batch.
func (d *Dispatcher) Handle(ctx context.Context, v any) any {
	batch, ok := v.([]any)
	if !ok {
		if resp := d.handleRequest(ctx, v); resp != nil {
			return resp
		}
		return nil
	}

	if bo, ok := d.observer.(BatchObserver); ok {
		bo.ObserveBatch(len(batch))
	}

	if len(batch) == 0 {
		d.observe("", CodeInvalidRequest, false, 0)
		return NewErrorResponse(nil, CodeInvalidRequest, "empty batch request")
	}
	if d.maxBatch > 0 && len(batch) > d.maxBatch {
		d.observe("", CodeInvalidRequest, false, 0)
		return NewErrorResponse(nil, CodeInvalidRequest,
			fmt.Sprintf("batch of %d requests exceeds the limit of %d", len(batch), d.maxBatch))
	}

	responses := d.handleBatch(ctx, batch)
	if len(responses) == 0 {
		return nil
	}
	return responses
}

// handleBatch processes every element in isolation and keeps the responses
// in input order.
func (d *Dispatcher) handleBatch(ctx context.Context, batch []any) []*Response {
	results := make([]*Response, len(batch))

	if d.concurrency < 2 || len(batch) == 1 {
		for i, item := range batch {
			results[i] = d.handleRequest(ctx, item)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(d.concurrency)
		for i, item := range batch {
			g.Go(func() error {
				results[i] = d.handleRequest(ctx, item)
				return nil
			})
		}
		_ = g.Wait()
	}

	return lo.Compact(results)
}

// handleRequest processes a single request value. It returns nil for notifications.
func (d *Dispatcher) handleRequest(ctx context.Context, v any) *Response {
	start := time.Now()

	if err := d.validator.Validate(v); err != nil {
		d.observe("", CodeInvalidRequest, false, time.Since(start))
		return NewErrorResponse(nil, CodeInvalidRequest, err.Error())
	}

	req := requestFromValue(v)
	resp := d.dispatch(ctx, req)

	var code ErrorCode
	if resp.Error != nil {
		code = resp.Error.Code
	}
	d.observe(req.Method, code, req.IsNotification(), time.Since(start))

	if req.IsNotification() {
		return nil
	}
	return resp
}

// dispatch resolves and invokes the method. It always builds a response; the
// caller drops it for notifications.
func (d *Dispatcher) dispatch(ctx context.Context, req *Request) *Response {
	handler, ok := d.table.Lookup(req.Method)
	if !ok {
		if req.IsNotification() {
			d.logger.Debug("Dropping notification for unknown method", zap.String("method", req.Method))
		}
		return NewErrorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("Method %q not found", req.Method))
	}

	params, err := SplitParams(req.Params, d.sentinel)
	if err != nil {
		return NewErrorResponse(req.ID, CodeInvalidParams, err.Error())
	}

	result, err := d.invoke(withRequestInfo(ctx, req), handler, params)
	if err != nil {
		return d.failure(req, err)
	}
	return NewResponse(req.ID, result)
}

// panicError is a recovered handler panic.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// invoke calls the handler through the middleware chain, turning panics into errors.
func (d *Dispatcher) invoke(ctx context.Context, handler Handler, params Params) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()

	if binder, ok := handler.(Binder); ok {
		handler = &preflight{Handler: handler, binder: binder}
	}

	d.mwMutex.RLock()
	for i := len(d.middleware) - 1; i >= 0; i-- {
		handler = d.middleware[i](handler)
	}
	d.mwMutex.RUnlock()

	return handler.ServeRPC(ctx, params)
}

// preflight checks the arguments against the registered handler once the
// middleware chain has let the invocation through.
type preflight struct {
	Handler
	binder Binder
}

func (p *preflight) ServeRPC(ctx context.Context, params Params) (any, error) {
	if err := p.binder.Bind(params); err != nil {
		return nil, NewError(CodeInvalidParams, err.Error())
	}
	return p.Handler.ServeRPC(ctx, params)
}

// failure converts a handler error into an error response. Errors that carry
// their own *Error keep it; everything else is an internal error.
func (d *Dispatcher) failure(req *Request, err error) *Response {
	var resp *Response
	var rpcErr *Error
	if errors.As(err, &rpcErr) && rpcErr != nil {
		resp = &Response{Error: rpcErr, ID: req.ID}
	} else {
		resp = NewErrorResponse(req.ID, CodeInternalError, err.Error())
	}

	if resp.Error.Code == CodeInternalError {
		fields := []zap.Field{
			zap.String("method", req.Method),
			zap.Any("id", req.ID),
			zap.Bool("notification", req.IsNotification()),
			zap.Error(err),
		}
		var pe *panicError
		if errors.As(err, &pe) {
			fields = append(fields, zap.ByteString("stack", pe.stack))
		}
		d.logger.Warn("Method handler failed", fields...)
	}

	return resp
}

// serialize encodes the reply. When that fails, responses that cannot be
// encoded are replaced by internal errors so the rest of the reply survives.
func (d *Dispatcher) serialize(out any) ([]byte, error) {
	data, err := d.codec.Serialize(out)
	if err == nil {
		return data, nil
	}

	switch o := out.(type) {
	case *Response:
		out = d.encodable(o)
	case []*Response:
		fixed := make([]*Response, len(o))
		for i, r := range o {
			fixed[i] = d.encodable(r)
		}
		out = fixed
	}

	data, err = d.codec.Serialize(out)
	if err != nil {
		return nil, fmt.Errorf("serialize reply: %w", err)
	}
	return data, nil
}

func (d *Dispatcher) encodable(r *Response) *Response {
	if _, err := d.codec.Serialize(r); err != nil {
		d.logger.Warn("Reply could not be serialized", zap.Any("id", r.ID), zap.Error(err))
		return NewErrorResponse(r.ID, CodeInternalError, err.Error())
	}
	return r
}

func (d *Dispatcher) observe(method string, code ErrorCode, notification bool, duration time.Duration) {
	if d.observer != nil {
		d.observer.ObserveCall(method, code, notification, duration)
	}
}

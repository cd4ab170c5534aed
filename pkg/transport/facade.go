package transport

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/halverson/webtap/pkg/pipeline"
	"github.com/halverson/webtap/pkg/plugin"
	"github.com/halverson/webtap/pkg/trace"
)

// FacadeOptions configure the interception facade.
type FacadeOptions struct {
	// Traces receives one exchange per round trip when non-nil.
	Traces *trace.Store
	// MaxBodySize caps how many body bytes are retained per trace record.
	// Zero keeps whole bodies.
	MaxBodySize int
	Logger      *slog.Logger
}

// Facade wraps an underlying Transport with the interception chain:
// requests run through the request stage before forwarding, responses
// through the response stage before returning, and stream messages in both
// directions through the message stage.
type Facade struct {
	inner    Transport
	chain    *pipeline.Chain
	registry *plugin.Registry
	traces   *trace.Store
	bodyCap  int
	logger   *slog.Logger
}

// NewFacade wraps inner. registry may be nil when no persistent plugins
// are configured.
func NewFacade(inner Transport, chain *pipeline.Chain, registry *plugin.Registry, opts FacadeOptions) *Facade {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{
		inner:    inner,
		chain:    chain,
		registry: registry,
		traces:   opts.Traces,
		bodyCap:  opts.MaxBodySize,
		logger:   logger,
	}
}

// Chain exposes the interception chain so callers can register middleware.
func (f *Facade) Chain() *pipeline.Chain { return f.chain }

// Registry exposes the plugin registry, or nil when none is configured.
func (f *Facade) Registry() *plugin.Registry { return f.registry }

// Init loads persisted plugins into the chain and initializes the inner
// transport.
func (f *Facade) Init(ctx context.Context) error {
	if f.registry != nil {
		if err := f.registry.Load(ctx); err != nil {
			return err
		}
	}
	return f.inner.Init(ctx)
}

// Reload rebuilds the plugin handler set from the persistent store.
// In-flight requests finish on the chain snapshot they started with.
func (f *Facade) Reload(ctx context.Context) error {
	if f.registry == nil {
		return nil
	}
	return f.registry.Load(ctx)
}

// Meta reports the inner transport's metadata.
func (f *Facade) Meta() Meta { return f.inner.Meta() }

// RoundTrip runs the request stage, forwards through the inner transport,
// and runs the response stage. Transport errors propagate to the caller
// unchanged.
func (f *Facade) RoundTrip(req *pipeline.Request) (*pipeline.Response, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	req = f.chain.ProcessRequest(req)

	var ex *trace.Exchange
	if f.traces != nil {
		ex = trace.NewExchange(req, f.bodyCap)
		f.traces.Add(ex)
	}

	resp, err := f.inner.RoundTrip(req)
	if err != nil {
		if ex != nil {
			ex.Fail(err)
			f.traces.Update(ex, trace.EventError)
		}
		return nil, err
	}

	resp.Request = req
	resp = f.chain.ProcessResponse(resp)

	if ex != nil {
		ex.Complete(resp, f.bodyCap)
		f.traces.Update(ex, trace.EventComplete)
	}
	return resp, nil
}

// Connect opens a message stream through the inner transport, passing the
// handshake options along unchanged. Inbound messages pass through the
// message stage before reaching the caller's handler, and outbound messages
// sent on the returned Conn pass through it before the wire. A message
// dropped by the stage is not delivered.
func (f *Facade) Connect(ctx context.Context, address string, opts ConnectOptions, handlers ConnectHandlers) (Conn, error) {
	wrapped := handlers
	inner := handlers.OnMessage
	wrapped.OnMessage = func(msg pipeline.Message) {
		out := f.chain.ProcessMessage(msg, pipeline.Inbound)
		if out.IsNil() || inner == nil {
			return
		}
		inner(out)
	}
	if handlers.OnOpen != nil {
		wrapped.OnOpen = func(conn Conn) {
			handlers.OnOpen(&facadeConn{inner: conn, chain: f.chain})
		}
	}

	conn, err := f.inner.Connect(ctx, address, opts, wrapped)
	if err != nil {
		return nil, err
	}
	return &facadeConn{inner: conn, chain: f.chain}, nil
}

// facadeConn routes outbound messages through the message stage.
type facadeConn struct {
	inner Conn
	chain *pipeline.Chain
}

func (c *facadeConn) Send(msg pipeline.Message) error {
	out := c.chain.ProcessMessage(msg, pipeline.Outbound)
	if out.IsNil() {
		return nil
	}
	return c.inner.Send(out)
}

func (c *facadeConn) Close() error { return c.inner.Close() }

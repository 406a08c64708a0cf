// Package kit holds the transport-independent plumbing shared by the
// HTTP and MCP surfaces: the endpoint abstraction, context metadata,
// and tool registration glue.
package kit

import "context"

// Endpoint is the transport-agnostic unit of work. HTTP handlers and
// MCP tools both decode the incoming request into a value and hand it
// to one of these.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour such as
// logging or timing.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares into one. The first middleware given is
// the outermost: Chain(a, b)(ep) runs a before b before ep.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Package gateway defines the contract shared by kazi's serving
// surfaces: the MCP transports and the operational HTTP server.
package gateway

import "context"

// Gateway is one serving surface (MCP streamable HTTP, MCP SSE, ops).
type Gateway interface {
	// Start launches the surface and blocks until it exits or the
	// context is canceled. Returns an error only on failure.
	Start(ctx context.Context) error

	// Stop performs graceful shutdown. The context carries the grace
	// deadline; in-flight requests should drain before returning.
	Stop(ctx context.Context) error
}

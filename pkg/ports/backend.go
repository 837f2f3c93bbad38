package ports

import "context"

// Backend is the port graph of the real-time audio server.
// Port handles are the server's full port names ("client:port").
type Backend interface {
	// ListPorts returns the names of ports matching a regular expression.
	ListPorts(ctx context.Context, pattern string) ([]string, error)

	// Connections returns the ports currently connected to port.
	Connections(ctx context.Context, port string) ([]string, error)

	Connect(ctx context.Context, source, target string) error
	Disconnect(ctx context.Context, source, target string) error
}

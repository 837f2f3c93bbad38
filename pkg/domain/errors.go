package domain

import "errors"

var (
	// ErrMalformedAddress is returned when a port or node address does not follow the
	// `type.id[port]` grammar.
	ErrMalformedAddress = errors.New("malformed address")

	// ErrNodeNotFound is returned when an address references a node that is not loaded.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNodeExists is returned when a batch declares a node that is already loaded.
	ErrNodeExists = errors.New("node already exists")

	// ErrPortNotFound is returned when a node has no port with the requested id and direction.
	ErrPortNotFound = errors.New("port not found")

	// ErrUnknownNodeType is returned when no implementation is registered for a node type.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrInvalidConfig is returned when a node rejects its configuration.
	ErrInvalidConfig = errors.New("invalid node configuration")

	// ErrDuplicateLink is returned when a declaration lists the same link twice.
	ErrDuplicateLink = errors.New("duplicate link")

	// ErrStartTimeout is returned when a node's backend ports do not appear in time.
	ErrStartTimeout = errors.New("timed out waiting for backend ports")

	// ErrUnsupported is returned when a node is asked for a capability it does not implement.
	ErrUnsupported = errors.New("operation not supported by node")

	// ErrDeclarationNotFound is returned when a declaration store holds no topology yet.
	ErrDeclarationNotFound = errors.New("declaration not found")

	// ErrNotStarted is returned when a node is asked to route before Start completed.
	ErrNotStarted = errors.New("node not started")
)

/*
Package domain contains the core data model of the patchbay control plane.

It defines the addressable entities of the routing graph: Nodes (identified by
type and instance), Ports (named connection points on a node), Links (directed
edges from an output port to an input port) and the Declaration, which is the
serialized form of a whole topology. This package is kept pure and free of
I/O; adapters convert between these types and files, Redis or HTTP payloads.

# Key Entities

  - NodeID: "type.instance" identity of a node.
  - Port: a node-scoped connection point, addressed as "type.instance[port]".
  - Link: a declared (source output, target input) pair.
  - Declaration: node configurations keyed by type and instance, plus links.
  - Config: the opaque string map handed to a node implementation.
*/
package domain

/*
Package ports defines the boundaries between the patchbay core and the outside world.

These interfaces decouple the topology store and reconciliation engine from the
concrete node implementations, the audio server, process spawning and
persistence.

# Key Interfaces

  - Node: lifecycle contract of a routable unit. Optional capabilities are
    separate interfaces (LateStarter, InputResolver, LinkReconciler) so the
    engine can check for them instead of calling stubs.
  - ReconcileContext: handed to nodes; lets a node request reconciliation of
    itself or of its peers and read the link table.
  - Backend: the audio-server port graph (list, query, connect, disconnect).
  - Launcher: spawns the long-running processes behind source and sink nodes.
  - DeclarationStore: persists the serialized topology.
  - DistributedLocker: serializes mutations across control-plane replicas.
*/
package ports

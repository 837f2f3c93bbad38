/*
Package patchbay is the control plane of a live audio-routing graph.

It keeps a declared topology of nodes (players, encoders, selectors) and
directed links between their ports, and continuously reconciles the
connections on an audio server (JACK) with that declaration.

# Concept

A node owns whatever produces or consumes audio (an mpv or ffmpeg process) and
declares named input and output ports. A link connects an output port to an
input port. Links are a declaration only: after every change the owning node
of each link source diffs the declared routing against the connections that
actually exist on the audio server, and issues the minimal set of connect and
disconnect operations, one stereo channel at a time.

Nodes may route through each other. A selector owns no audio ports of its
own; an upstream player linked to its active input resolves straight to
whatever the selector's output is linked to. Switching the active input
therefore re-routes the players, not the selector.

# Key Features

  - Idempotent reconciliation: re-running it on a converged graph issues no backend operation.
  - Reentrancy guard: reconcile requests made by nodes while a pass is running are dropped.
  - Hexagonal Architecture: the audio server, the process launcher and persistence are ports.
  - Declarations in TOML, YAML or JSON; state saved after every change (file or Redis).
  - HTTP and MCP control surfaces, Prometheus metrics, SSE topology events.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/patchbay"
		"github.com/aretw0/patchbay/pkg/domain"
	)

	func main() {
		ctx := context.Background()

		// JACK backend and a process supervisor by default.
		bay := patchbay.New()
		if err := bay.LoadFile(ctx, "patchbay.toml"); err != nil {
			log.Fatal(err)
		}
		defer bay.Shutdown(ctx)

		// Route the backup player through the selector.
		mux := domain.NodeID{Type: "mux", Instance: "main"}
		if err := bay.SetField(ctx, mux, "active", "1"); err != nil {
			log.Fatal(err)
		}
	}
*/
package patchbay

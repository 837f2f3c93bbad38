package nodes

import (
	"context"
	"fmt"
	"slices"

	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/ports"
	"github.com/hashicorp/go-multierror"
)

// reconcileOutputs makes the live connections of every output port match the
// declared links. own maps an output port id to the node's backend ports.
//
// Each channel is diffed on its own: the declared set is the union of what
// every link target resolves to, live connections outside it are dropped and
// missing ones are made. Failing operations are collected and the rest still
// run, so a second pass with the same links performs no operation.
func (b *base) reconcileOutputs(ctx context.Context, own map[string]domain.ChannelPorts, links []domain.Link) error {
	var result *multierror.Error

	for _, out := range b.outputs {
		channels, ok := own[out.ID]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("%w: %s", domain.ErrNotStarted, out))
			continue
		}

		var resolved []domain.ChannelPorts
		for _, link := range links {
			if link.Source != out {
				continue
			}
			targets, err := b.resolveTarget(ctx, link.Target)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("resolve %s: %w", link, err))
				continue
			}
			resolved = append(resolved, targets...)
		}

		for ch := range domain.Channels {
			var declared []string
			for _, pair := range resolved {
				if name := pair[ch]; name != "" && !slices.Contains(declared, name) {
					declared = append(declared, name)
				}
			}
			if err := b.diffChannel(ctx, channels[ch], declared); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	return result.ErrorOrNil()
}

func (b *base) resolveTarget(ctx context.Context, target domain.Port) ([]domain.ChannelPorts, error) {
	node, ok := b.topo.Lookup(target.Node)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNodeNotFound, target.Node)
	}
	resolver, ok := node.(ports.InputResolver)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no inputs", domain.ErrUnsupported, target.Node)
	}
	return resolver.InputPorts(ctx, target)
}

// diffChannel disconnects live-but-undeclared and connects declared-but-not-live.
func (b *base) diffChannel(ctx context.Context, port string, declared []string) error {
	live, err := b.backend.Connections(ctx, port)
	if err != nil {
		return fmt.Errorf("list connections of %s: %w", port, err)
	}

	var result *multierror.Error
	for _, peer := range live {
		if slices.Contains(declared, peer) {
			continue
		}
		b.logger.Debug("disconnecting", "from", port, "to", peer)
		if err := b.backend.Disconnect(ctx, port, peer); err != nil {
			b.logger.Warn("disconnect failed", "from", port, "to", peer, "err", err)
			result = multierror.Append(result, err)
		}
	}
	for _, peer := range declared {
		if slices.Contains(live, peer) {
			continue
		}
		b.logger.Debug("connecting", "from", port, "to", peer)
		if err := b.backend.Connect(ctx, port, peer); err != nil {
			b.logger.Warn("connect failed", "from", port, "to", peer, "err", err)
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

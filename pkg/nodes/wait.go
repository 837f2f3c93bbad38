package nodes

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/ports"
)

// waitForPorts polls the backend until want ports match pattern and returns
// them sorted. It gives up after the start timeout, when ctx is done, or when
// proc exits first.
func (b *base) waitForPorts(ctx context.Context, proc ports.Process, pattern string, want int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.startTimeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		found, err := b.backend.ListPorts(ctx, pattern)
		if err != nil {
			b.logger.Debug("listing ports failed, retrying", "pattern", pattern, "err", err)
		} else if len(found) >= want {
			sort.Strings(found)
			return found[:want], nil
		}

		select {
		case <-ticker.C:
		case <-proc.Done():
			return nil, fmt.Errorf("%s exited before creating its ports", b.clientName())
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s after %s", domain.ErrStartTimeout, b.clientName(), b.startTimeout)
		}
	}
}

// waitForPortsGone polls until no port matches pattern. It reports whether
// the ports disappeared in time.
func (b *base) waitForPortsGone(ctx context.Context, pattern string) bool {
	ctx, cancel := context.WithTimeout(ctx, b.startTimeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		found, err := b.backend.ListPorts(ctx, pattern)
		if err == nil && len(found) == 0 {
			return true
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false
		}
	}
}

// stopProcess signals proc and kills it if it outlives the grace period.
func (b *base) stopProcess(ctx context.Context, proc ports.Process, sig os.Signal) error {
	ctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	if err := proc.Stop(ctx, sig); err != nil {
		return fmt.Errorf("stop %s: %w", b.clientName(), err)
	}
	return nil
}

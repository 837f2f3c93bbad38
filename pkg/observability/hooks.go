package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/patchbay/pkg/domain"
)

// LoggingHooks logs every lifecycle event at info level, errors at warn.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	node := func(ctx context.Context, e *domain.NodeEvent) {
		if e.Error != "" {
			logger.WarnContext(ctx, string(e.Type), "node", e.NodeID, "duration", e.Duration, "err", e.Error)
			return
		}
		logger.InfoContext(ctx, string(e.Type), "node", e.NodeID, "duration", e.Duration)
	}
	return domain.LifecycleHooks{
		OnNodeStart:  node,
		OnNodeStop:   node,
		OnNodeUpdate: node,
		OnLink: func(ctx context.Context, e *domain.LinkEvent) {
			logger.InfoContext(ctx, string(e.Type), "from", e.From, "to", e.To)
		},
		OnReconcile: func(ctx context.Context, e *domain.ReconcileEvent) {
			if e.Error != "" {
				logger.WarnContext(ctx, "reconcile", "scope", e.Scope, "links", e.Links, "err", e.Error)
				return
			}
			logger.DebugContext(ctx, "reconcile", "scope", e.Scope, "links", e.Links, "duration", e.Duration)
		},
	}
}

package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeStart  EventType = "node_start"
	EventNodeStop   EventType = "node_stop"
	EventNodeUpdate EventType = "node_update"
	EventLink       EventType = "link"
	EventUnlink     EventType = "unlink"
	EventReconcile  EventType = "reconcile"
)

// ScopeAll is the ReconcileEvent scope of a global reconciliation pass.
const ScopeAll = "*"

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
}

// NodeEvent reports a lifecycle transition of a node.
type NodeEvent struct {
	EventBase
	NodeID   string        `json:"node_id"`
	NodeType string        `json:"node_type"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// LinkEvent reports a link added to or removed from the topology.
type LinkEvent struct {
	EventBase
	From string `json:"from"`
	To   string `json:"to"`
}

// ReconcileEvent reports one reconcile pass, either of a single node or global.
type ReconcileEvent struct {
	EventBase
	Scope    string        `json:"scope"`
	Links    int           `json:"links"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// LifecycleHooks defines callbacks for topology observability.
type LifecycleHooks struct {
	OnNodeStart  func(context.Context, *NodeEvent)
	OnNodeStop   func(context.Context, *NodeEvent)
	OnNodeUpdate func(context.Context, *NodeEvent)
	OnLink       func(context.Context, *LinkEvent)
	OnReconcile  func(context.Context, *ReconcileEvent)
}

// CombineHooks fans every callback out to all given hook sets, in order.
func CombineHooks(sets ...LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnNodeStart: func(ctx context.Context, e *NodeEvent) {
			for _, s := range sets {
				if s.OnNodeStart != nil {
					s.OnNodeStart(ctx, e)
				}
			}
		},
		OnNodeStop: func(ctx context.Context, e *NodeEvent) {
			for _, s := range sets {
				if s.OnNodeStop != nil {
					s.OnNodeStop(ctx, e)
				}
			}
		},
		OnNodeUpdate: func(ctx context.Context, e *NodeEvent) {
			for _, s := range sets {
				if s.OnNodeUpdate != nil {
					s.OnNodeUpdate(ctx, e)
				}
			}
		},
		OnLink: func(ctx context.Context, e *LinkEvent) {
			for _, s := range sets {
				if s.OnLink != nil {
					s.OnLink(ctx, e)
				}
			}
		},
		OnReconcile: func(ctx context.Context, e *ReconcileEvent) {
			for _, s := range sets {
				if s.OnReconcile != nil {
					s.OnReconcile(ctx, e)
				}
			}
		},
	}
}

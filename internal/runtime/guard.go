package runtime

import (
	"log/slog"
)

// phase is the state of the reconciliation guard.
//
//	loading --activate--> idle --begin--> reconciling --end--> idle
//
// Requests raised by nodes only run in the idle phase.
type phase int

const (
	phaseLoading phase = iota
	phaseIdle
	phaseReconciling
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseReconciling:
		return "reconciling"
	default:
		return "loading"
	}
}

type guard struct {
	phase  phase
	scope  string
	logger *slog.Logger
}

func newGuard(logger *slog.Logger) *guard {
	return &guard{phase: phaseLoading, logger: logger}
}

// activate leaves the loading phase. It is called once the initial topology
// has been loaded and reconciled globally.
func (g *guard) activate() {
	if g.phase == phaseLoading {
		g.phase = phaseIdle
	}
}

// suspend returns to the loading phase (used by teardown).
func (g *guard) suspend() {
	g.phase = phaseLoading
}

// begin enters the reconciling phase for scope and returns the function that
// restores the previous phase.
func (g *guard) begin(scope string) func() {
	prevPhase, prevScope := g.phase, g.scope
	g.phase, g.scope = phaseReconciling, scope
	return func() {
		g.phase, g.scope = prevPhase, prevScope
	}
}

// allow reports whether a request from a node may run now, logging the ones
// that are dropped.
func (g *guard) allow(request string) bool {
	if g.phase == phaseIdle {
		return true
	}
	g.logger.Debug("reconcile request ignored",
		"request", request,
		"phase", g.phase.String(),
		"scope", g.scope,
	)
	return false
}

// Package core is the orchestration layer.  It composes the resolver,
// the transport connector and the relay into complete runs and
// provides a builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  capability  →  session  →  core  →  cmd (CLI)
package core

import (
	"context"
	"fmt"
)

// Mode represents a complete operational mode of qnc (connect-and-relay
// or resolve-only).  Each mode owns its full lifecycle from resolution
// to teardown.
type Mode interface {
	Run(ctx context.Context) error
}

// State is the progress of a Pipeline.
type State int

const (
	StateStart State = iota
	StateResolving
	StateConnecting
	StateRelaying
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateStart:      "start",
	StateResolving:  "resolving",
	StateConnecting: "connecting",
	StateRelaying:   "relaying",
	StateDone:       "done",
	StateFailed:     "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// next lists the states reachable from each state.  Done and Failed
// are terminal.
var next = map[State][]State{
	StateStart:      {StateResolving, StateFailed},
	StateResolving:  {StateConnecting, StateFailed},
	StateConnecting: {StateRelaying, StateFailed},
	StateRelaying:   {StateDone, StateFailed},
}

// CanTransition reports whether a run in state s may move to to.
func (s State) CanTransition(to State) bool {
	for _, n := range next[s] {
		if n == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s is Done or Failed.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

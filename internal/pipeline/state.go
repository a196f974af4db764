package pipeline

import (
	"fmt"
)

// State is a step of a run.
type State string

const (
	StateResolveInputs  State = "resolve_inputs"
	StateProbeMetadata  State = "probe_metadata"
	StateDeriveConfig   State = "derive_config"
	StateDecideCache    State = "decide_cache"
	StateBuild          State = "build"
	StateVerifyArtifact State = "verify_artifact"
	StateExecute        State = "execute"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s State) bool {
	return s == StateDone || s == StateFailed
}

// Transition validates a move from one state to the next.
func Transition(from, to State) error {
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", from, to)
	}
	return nil
}

func isAllowedTransition(from, to State) bool {
	if to == StateFailed {
		return !IsTerminal(from)
	}
	switch from {
	case StateResolveInputs:
		// bare image runs skip the probe
		return to == StateProbeMetadata || to == StateDeriveConfig
	case StateProbeMetadata:
		return to == StateDeriveConfig
	case StateDeriveConfig:
		return to == StateDecideCache
	case StateDecideCache:
		return to == StateBuild || to == StateExecute
	case StateBuild:
		// solution generation ends the run after the build state
		return to == StateVerifyArtifact || to == StateDone
	case StateVerifyArtifact:
		return to == StateExecute
	case StateExecute:
		return to == StateDone
	default:
		return false
	}
}

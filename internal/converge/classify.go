package converge

import "strings"

// Outcome is the classified result of one host's convergence run.
type Outcome int

const (
	// OutcomeSuccess: the agent reported a completed run.
	OutcomeSuccess Outcome = iota
	// OutcomeSkipped: dummy node, nothing was attempted.
	OutcomeSkipped
	// OutcomeAgentMissing: the agent binary is not installed on the
	// host. Fatal for the whole run.
	OutcomeAgentMissing
	// OutcomeAgentFailed: the agent ran but did not converge the node.
	OutcomeAgentFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeAgentMissing:
		return "agent-missing"
	case OutcomeAgentFailed:
		return "agent-failed"
	default:
		return "unknown"
	}
}

// The agent's textual output is the only observable contract of a run;
// the exit status alone is never trusted. These markers are pinned to
// the agent's exact log wording. When a new agent version changes
// them, this file and its tests are the only place to touch.
const (
	markerAgentMissing     = "chef-solo: command not found"
	markerStacktrace       = "FATAL: Stacktrace dumped"
	markerRunComplete      = "Chef Run complete"
	markerHandlersComplete = "Report handlers complete"
)

// Classify maps the agent's combined output text to an outcome.
// invocationFailed is the transport-level success flag of the remote
// command. Checks are case-sensitive substring tests, first match wins:
// a missing-agent marker dominates everything else, then any of
// {failed invocation, stack trace, neither completion marker present}
// means the run failed.
func Classify(output string, invocationFailed bool) Outcome {
	if strings.Contains(output, markerAgentMissing) {
		return OutcomeAgentMissing
	}
	if invocationFailed ||
		strings.Contains(output, markerStacktrace) ||
		(!strings.Contains(output, markerRunComplete) &&
			!strings.Contains(output, markerHandlersComplete)) {
		return OutcomeAgentFailed
	}
	return OutcomeSuccess
}

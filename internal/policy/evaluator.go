package policy

import "github.com/xsswatch/xsswatch/internal/rules"

type Action string

const (
	ActionAllow   Action = "allow"
	ActionBlock   Action = "block"
	ActionMonitor Action = "monitor"
)

// DecideAction maps a verdict to what the gateway does with the request.
// Only block mode with a risk at or above threshold stops the request.
func DecideAction(mode string, detected bool, risk, threshold rules.Severity) (Action, bool) {
	if !detected {
		return ActionAllow, false
	}
	if risk < threshold {
		return ActionMonitor, false
	}

	switch mode {
	case "block":
		return ActionBlock, true
	default:
		return ActionMonitor, false
	}
}

// Package review defines the assertion review model: action records, lifecycle
// grouping and the consensus state machine evaluated over a lifecycle.
package review

import "strings"

// Action identifies the kind of a review action record.
type Action uint8

const (
	ActionUnknown Action = iota
	ActionAdd
	ActionAccept
	ActionModify
	ActionReject
	ActionUncertain
	ActionArbitrate
	ActionArbitrateUndo
)

var actionNames = [...]string{
	ActionUnknown:       "unknown",
	ActionAdd:           "add",
	ActionAccept:        "accept",
	ActionModify:        "modify",
	ActionReject:        "reject",
	ActionUncertain:     "uncertain",
	ActionArbitrate:     "arbitrate",
	ActionArbitrateUndo: "arbitrate_undo",
}

// ReviewActions lists the actions a reviewer (or arbitrator) may use as a verdict.
var ReviewActions = []Action{ActionAccept, ActionModify, ActionReject, ActionUncertain}

// ParseAction maps a name to an Action. Unrecognized names yield ActionUnknown.
func ParseAction(s string) Action {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range actionNames {
		if i > 0 && name == s {
			return Action(i)
		}
	}
	return ActionUnknown
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return actionNames[ActionUnknown]
}

// IsReview reports whether a is one of accept, modify, reject or uncertain.
func (a Action) IsReview() bool {
	switch a {
	case ActionAccept, ActionModify, ActionReject, ActionUncertain:
		return true
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names decode to
// ActionUnknown rather than failing so that old logs stay readable.
func (a *Action) UnmarshalText(b []byte) error {
	*a = ParseAction(string(b))
	return nil
}

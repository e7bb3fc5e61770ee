package notify

import (
	"encoding/json"
	"fmt"
)

// ActionType tags an envelope with the kind of event it carries. The set is
// closed: serialization is explicit and unknown tags are a decode error.
type ActionType int

const (
	ActionUnknown ActionType = iota
	ActionLeaveRequested
	ActionLeaveApproved
	ActionLeaveRejected
	ActionAnnouncement
	ActionSystem
)

var actionNames = map[ActionType]string{
	ActionLeaveRequested: "leave.requested",
	ActionLeaveApproved:  "leave.approved",
	ActionLeaveRejected:  "leave.rejected",
	ActionAnnouncement:   "announcement",
	ActionSystem:         "system",
}

var actionValues = func() map[string]ActionType {
	m := make(map[string]ActionType, len(actionNames))
	for k, v := range actionNames {
		m[v] = k
	}
	return m
}()

// String returns the wire name of the action, or "unknown".
func (a ActionType) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// ParseActionType converts a wire name into an ActionType.
func ParseActionType(s string) (ActionType, error) {
	if a, ok := actionValues[s]; ok {
		return a, nil
	}
	return ActionUnknown, fmt.Errorf("unknown action type %q", s)
}

// MarshalJSON renders the action as its wire name.
func (a ActionType) MarshalJSON() ([]byte, error) {
	name, ok := actionNames[a]
	if !ok {
		return nil, fmt.Errorf("cannot marshal unknown action type %d", int(a))
	}
	return json.Marshal(name)
}

// UnmarshalJSON parses a wire name, rejecting tags outside the closed set.
func (a *ActionType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseActionType(name)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

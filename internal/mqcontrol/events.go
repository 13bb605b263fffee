package mqcontrol

import (
	"encoding/json"
	"time"

	"github.com/notnil/odrivecan/odrive"
)

// Event types published on the events exchange.
const (
	EventGoalReached = "goal_reached"
	EventFault       = "fault"
)

// Event is the JSON body of an event message.
type Event struct {
	Type     string    `json:"type"`
	Node     int       `json:"node_id"`
	Time     time.Time `json:"time"`
	Target   *float64  `json:"target,omitempty"`
	Position *float64  `json:"position,omitempty"`
	Error    string    `json:"error,omitempty"`
	Code     uint32    `json:"code,omitempty"`
	State    string    `json:"state,omitempty"`
}

// GoalReachedEvent describes a completed position move. target is in device
// turns, position relative to the zero offset.
func GoalReachedEvent(node odrive.NodeID, g odrive.Goal, position float64, now time.Time) Event {
	return Event{
		Type:     EventGoalReached,
		Node:     int(node),
		Time:     now.UTC(),
		Target:   &g.Target,
		Position: &position,
	}
}

// FaultEvent describes a device fault that was stopped and cleared.
func FaultEvent(f odrive.DeviceFault, now time.Time) Event {
	return Event{
		Type:  EventFault,
		Node:  int(f.Node),
		Time:  now.UTC(),
		Error: f.Code.String(),
		Code:  uint32(f.Code),
		State: f.State.String(),
	}
}

func (e Event) marshal() ([]byte, error) { return json.Marshal(e) }

package conversation

import "time"

type EventType string

const (
	EventTreeCreated    EventType = "tree-created"
	EventNodeAdded      EventType = "node-added"
	EventBranchSwitched EventType = "branch-switched"
	EventTreeDeleted    EventType = "tree-deleted"
)

// TreeEvent describes one committed mutation of a tree.
type TreeEvent struct {
	Type     EventType `json:"type"`
	TreeID   string    `json:"tree_id"`
	NodeID   string    `json:"node_id,omitempty"`
	ParentID string    `json:"parent_id,omitempty"`
	Node     *Node     `json:"node,omitempty"`
	Time     time.Time `json:"time"`
}

// EventSink receives tree events after the mutation is committed and the
// tree lock has been released. Implementations must not block for long.
type EventSink interface {
	HandleTreeEvent(event TreeEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(event TreeEvent)

func (f EventSinkFunc) HandleTreeEvent(event TreeEvent) {
	f(event)
}

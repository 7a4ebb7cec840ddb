package conversation

import (
	"time"

	"github.com/huandu/go-clone"
)

// Tree holds one simulated conflict conversation, including every branch
// explored from it.
//
// Nodes are linked through Node.ParentID; the reverse links live in
// Node.Children. A tree may have several roots, recorded in RootNodes in
// insertion order. CurrentBranch is the node new turns continue from by
// default and always names a node present in Nodes when set.
//
// A Tree is not safe for concurrent use. Trees handed out by the Manager are
// snapshots, so mutating them has no effect on the registry.
type Tree struct {
	ID            string            `json:"id" yaml:"id"`
	Setup         ConversationSetup `json:"setup" yaml:"setup"`
	Nodes         map[string]*Node  `json:"nodes" yaml:"nodes"`
	RootNodes     []string          `json:"root_nodes" yaml:"root_nodes"`
	CurrentBranch string            `json:"current_branch,omitempty" yaml:"current_branch,omitempty"`
	CreatedAt     time.Time         `json:"created_at" yaml:"created_at"`
}

func NewTree(id string, setup ConversationSetup) *Tree {
	return &Tree{
		ID:        id,
		Setup:     setup,
		Nodes:     make(map[string]*Node),
		RootNodes: []string{},
		CreatedAt: time.Now(),
	}
}

// insertMessage links a new node under parentID (or as a new root when
// parentID is empty) and moves the current branch to it. The parent is
// resolved before anything is touched, so a failed insert leaves the tree
// as it was.
func (t *Tree) insertMessage(nodeID string, msg Message, parentID string) (*Node, error) {
	path := nodeID
	var parent *Node
	if parentID != "" {
		var ok bool
		parent, ok = t.Nodes[parentID]
		if !ok {
			return nil, &ParentNotFoundError{TreeID: t.ID, NodeID: parentID}
		}
		path = parent.Path + PathSeparator + nodeID
	}

	node := &Node{
		ID:       nodeID,
		Message:  msg,
		ParentID: parentID,
		Children: []string{},
		Path:     path,
	}

	if parent != nil {
		parent.Children = append(parent.Children, nodeID)
	} else {
		t.RootNodes = append(t.RootNodes, nodeID)
	}
	t.Nodes[nodeID] = node
	t.CurrentBranch = nodeID

	return node, nil
}

func (t *Tree) GetNode(id string) (*Node, bool) {
	n, ok := t.Nodes[id]
	return n, ok
}

// GetConversationThread returns the messages from the root down to id.
//
// The walk follows ParentID links. Parents always exist before their
// children are inserted, so the chain is acyclic; the step bound only guards
// against a tree assembled by hand.
func (t *Tree) GetConversationThread(id string) (Conversation, error) {
	node, ok := t.Nodes[id]
	if !ok {
		return nil, &NodeNotFoundError{TreeID: t.ID, NodeID: id}
	}

	var thread Conversation
	for steps := 0; node != nil && steps <= len(t.Nodes); steps++ {
		thread = append(thread, node.Message)
		if node.IsRoot() {
			break
		}
		node = t.Nodes[node.ParentID]
	}

	for i, j := 0, len(thread)-1; i < j; i, j = i+1, j-1 {
		thread[i], thread[j] = thread[j], thread[i]
	}
	return thread, nil
}

// FindChildren returns the ids of the direct continuations of id.
func (t *Tree) FindChildren(id string) []string {
	node, ok := t.Nodes[id]
	if !ok {
		return nil
	}
	return append([]string(nil), node.Children...)
}

// FindSiblings returns the ids of the alternative continuations of id's
// parent, id excluded. Roots are siblings of each other.
func (t *Tree) FindSiblings(id string) []string {
	node, ok := t.Nodes[id]
	if !ok {
		return nil
	}

	candidates := t.RootNodes
	if !node.IsRoot() {
		parent, ok := t.Nodes[node.ParentID]
		if !ok {
			return nil
		}
		candidates = parent.Children
	}

	var siblings []string
	for _, sibling := range candidates {
		if sibling != id {
			siblings = append(siblings, sibling)
		}
	}
	return siblings
}

// GetLeftMostThread follows the first child from id down to a leaf.
func (t *Tree) GetLeftMostThread(id string) Conversation {
	var thread Conversation
	for id != "" {
		node, ok := t.Nodes[id]
		if !ok {
			break
		}
		thread = append(thread, node.Message)
		id = ""
		if len(node.Children) > 0 {
			id = node.Children[0]
		}
	}
	return thread
}

// MaxDepth is the depth of the deepest node, 0 for an empty tree.
func (t *Tree) MaxDepth() int {
	ret := 0
	for _, n := range t.Nodes {
		if d := n.Depth(); d > ret {
			ret = d
		}
	}
	return ret
}

func (t *Tree) Clone() *Tree {
	return clone.Clone(t).(*Tree)
}

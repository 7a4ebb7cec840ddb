package conversation

import (
	"sync"
	"time"

	"github.com/go-go-golems/conflict-sim/pkg/ids"
	"github.com/huandu/go-clone"
	"github.com/rs/zerolog/log"
)

// treeEntry pairs a tree with the lock that serializes its writers.
type treeEntry struct {
	mu   sync.RWMutex
	tree *Tree
}

// ManagerImpl is the in-memory tree registry.
//
// The registry map has its own lock, held only while looking up, inserting
// or removing an entry. Every tree carries a separate RWMutex: appends and
// branch switches take it exclusively, reads share it. Work on different
// trees therefore never waits on itself beyond the map lookup.
type ManagerImpl struct {
	mu    sync.RWMutex
	trees map[string]*treeEntry

	sinks      []EventSink
	generateID func(kind ids.Kind) (string, error)
}

var _ Manager = (*ManagerImpl)(nil)

type ManagerOption func(*ManagerImpl)

// WithEventSinks registers sinks notified after each committed mutation.
func WithEventSinks(sinks ...EventSink) ManagerOption {
	return func(m *ManagerImpl) {
		m.sinks = append(m.sinks, sinks...)
	}
}

// WithIDGenerator replaces ids.Generate, mostly for tests that want stable ids.
func WithIDGenerator(f func(kind ids.Kind) (string, error)) ManagerOption {
	return func(m *ManagerImpl) {
		m.generateID = f
	}
}

func NewManager(options ...ManagerOption) *ManagerImpl {
	ret := &ManagerImpl{
		trees:      make(map[string]*treeEntry),
		generateID: ids.Generate,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (m *ManagerImpl) entry(treeID string) (*treeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.trees[treeID]
	if !ok {
		return nil, &TreeNotFoundError{TreeID: treeID}
	}
	return e, nil
}

func (m *ManagerImpl) notify(event TreeEvent) {
	if len(m.sinks) == 0 {
		return
	}
	event.Time = time.Now()
	for _, sink := range m.sinks {
		sink.HandleTreeEvent(event)
	}
}

// CreateTree registers a new, empty tree for setup and returns a snapshot.
func (m *ManagerImpl) CreateTree(setup ConversationSetup) (*Tree, error) {
	id, err := m.generateID(ids.KindConversation)
	if err != nil {
		return nil, err
	}

	tree := NewTree(id, clone.Clone(setup).(ConversationSetup))
	snapshot := tree.Clone()

	m.mu.Lock()
	m.trees[id] = &treeEntry{tree: tree}
	m.mu.Unlock()

	log.Debug().
		Str("tree_id", id).
		Str("agent_a", setup.AgentA.Name).
		Str("agent_b", setup.AgentB.Name).
		Msg("Created conversation tree")
	m.notify(TreeEvent{Type: EventTreeCreated, TreeID: id})

	return snapshot, nil
}

// AddMessage appends msg under parentNodeID, or as a new root when
// parentNodeID is empty, and moves the current branch to the new node.
//
// Path computation, parent linking, registration and the branch move happen
// under the tree's write lock, so readers never see half of an insert and
// concurrent appends under the same parent both land.
func (m *ManagerImpl) AddMessage(treeID string, msg Message, parentNodeID string) (*Node, error) {
	e, err := m.entry(treeID)
	if err != nil {
		return nil, err
	}

	nodeID, err := m.generateID(ids.KindNode)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	node, err := e.tree.insertMessage(nodeID, msg, parentNodeID)
	var ret *Node
	var nodeCount int
	if err == nil {
		ret = node.clone()
		nodeCount = len(e.tree.Nodes)
	}
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("tree_id", treeID).
		Str("node_id", ret.ID).
		Str("parent_id", parentNodeID).
		Str("agent_id", msg.AgentID).
		Bool("user_override", msg.IsUserOverride).
		Int("tree_node_count", nodeCount).
		Msg("Added message to tree")
	m.notify(TreeEvent{
		Type:     EventNodeAdded,
		TreeID:   treeID,
		NodeID:   ret.ID,
		ParentID: parentNodeID,
		Node:     ret.clone(),
	})

	return ret, nil
}

// BranchFromNode starts an alternative continuation below nodeID.
func (m *ManagerImpl) BranchFromNode(treeID string, nodeID string, msg Message) (*Node, error) {
	e, err := m.entry(treeID)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	_, ok := e.tree.Nodes[nodeID]
	e.mu.RUnlock()
	if !ok {
		return nil, &NodeNotFoundError{TreeID: treeID, NodeID: nodeID}
	}

	return m.AddMessage(treeID, msg, nodeID)
}

// GetConversationPath returns the messages from the root down to nodeID.
func (m *ManagerImpl) GetConversationPath(treeID string, nodeID string) (Conversation, error) {
	e, err := m.entry(treeID)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tree.GetConversationThread(nodeID)
}

// GetCurrentConversation returns the path to the current branch. A missing
// tree or an unset branch yields an empty conversation rather than an error,
// so callers can probe for history without special-casing.
func (m *ManagerImpl) GetCurrentConversation(treeID string) Conversation {
	e, err := m.entry(treeID)
	if err != nil {
		return Conversation{}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.tree.CurrentBranch == "" {
		return Conversation{}
	}
	thread, err := e.tree.GetConversationThread(e.tree.CurrentBranch)
	if err != nil {
		return Conversation{}
	}
	return thread
}

// SetCurrentBranch moves the cursor to nodeID.
func (m *ManagerImpl) SetCurrentBranch(treeID string, nodeID string) error {
	e, err := m.entry(treeID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	_, ok := e.tree.Nodes[nodeID]
	if ok {
		e.tree.CurrentBranch = nodeID
	}
	e.mu.Unlock()

	if !ok {
		return &NodeNotFoundError{TreeID: treeID, NodeID: nodeID}
	}

	log.Debug().Str("tree_id", treeID).Str("node_id", nodeID).Msg("Switched current branch")
	m.notify(TreeEvent{Type: EventBranchSwitched, TreeID: treeID, NodeID: nodeID})
	return nil
}

// GetSiblings lists the alternative continuations next to nodeID.
func (m *ManagerImpl) GetSiblings(treeID string, nodeID string) ([]string, error) {
	e, err := m.entry(treeID)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.tree.Nodes[nodeID]; !ok {
		return nil, &NodeNotFoundError{TreeID: treeID, NodeID: nodeID}
	}
	siblings := e.tree.FindSiblings(nodeID)
	if siblings == nil {
		siblings = []string{}
	}
	return siblings, nil
}

// GetTree returns a snapshot of the tree.
func (m *ManagerImpl) GetTree(treeID string) (*Tree, bool) {
	e, err := m.entry(treeID)
	if err != nil {
		return nil, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tree.Clone(), true
}

// GetAllTrees returns a snapshot of every registered tree keyed by id.
func (m *ManagerImpl) GetAllTrees() map[string]*Tree {
	m.mu.RLock()
	entries := make(map[string]*treeEntry, len(m.trees))
	for id, e := range m.trees {
		entries[id] = e
	}
	m.mu.RUnlock()

	ret := make(map[string]*Tree, len(entries))
	for id, e := range entries {
		e.mu.RLock()
		ret[id] = e.tree.Clone()
		e.mu.RUnlock()
	}
	return ret
}

// DeleteTree drops a tree and all its nodes from the registry.
func (m *ManagerImpl) DeleteTree(treeID string) error {
	m.mu.Lock()
	_, ok := m.trees[treeID]
	delete(m.trees, treeID)
	m.mu.Unlock()

	if !ok {
		return &TreeNotFoundError{TreeID: treeID}
	}

	log.Debug().Str("tree_id", treeID).Msg("Deleted conversation tree")
	m.notify(TreeEvent{Type: EventTreeDeleted, TreeID: treeID})
	return nil
}

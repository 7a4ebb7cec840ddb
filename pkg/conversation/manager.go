// Package conversation provides the branching conversation tree behind the
// conflict simulator.
//
// A tree records every message of one simulated conversation. Any node can be
// continued more than once, which gives alternative branches; the tree keeps a
// single "current branch" cursor that new turns continue from by default.
//
// The Manager interface is the only way state changes:
// - Creating trees from a conversation setup
// - Appending messages under a parent node or as a new root
// - Reconstructing the linear history leading to any node
// - Moving the current branch cursor
//
// Trees returned by the Manager are snapshots and may be read freely.
package conversation

// Manager defines the registry and operation surface for conversation trees.
type Manager interface {
	CreateTree(setup ConversationSetup) (*Tree, error)
	AddMessage(treeID string, msg Message, parentNodeID string) (*Node, error)
	BranchFromNode(treeID string, nodeID string, msg Message) (*Node, error)
	GetConversationPath(treeID string, nodeID string) (Conversation, error)
	GetCurrentConversation(treeID string) Conversation
	SetCurrentBranch(treeID string, nodeID string) error
	GetSiblings(treeID string, nodeID string) ([]string, error)
	GetTree(treeID string) (*Tree, bool)
	GetAllTrees() map[string]*Tree
	DeleteTree(treeID string) error
}

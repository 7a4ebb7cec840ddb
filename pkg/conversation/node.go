package conversation

import "strings"

// PathSeparator joins node ids in Node.Path.
const PathSeparator = ":"

// Node places a Message at one point of a tree's branch structure.
//
// Path is the root-to-node id chain, this node included. It is computed once
// when the node is inserted and is only used for display; ancestry is walked
// through ParentID.
type Node struct {
	ID       string   `json:"id" yaml:"id"`
	Message  Message  `json:"message" yaml:"message"`
	ParentID string   `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Children []string `json:"children" yaml:"children"`
	Path     string   `json:"path" yaml:"path"`
}

func (n *Node) IsRoot() bool {
	return n.ParentID == ""
}

// Depth is the number of ancestors, read off the cached path.
func (n *Node) Depth() int {
	return strings.Count(n.Path, PathSeparator)
}

// PathIDs splits Path into node ids.
func (n *Node) PathIDs() []string {
	if n.Path == "" {
		return nil
	}
	return strings.Split(n.Path, PathSeparator)
}

func (n *Node) clone() *Node {
	ret := *n
	ret.Children = append(make([]string, 0, len(n.Children)), n.Children...)
	return &ret
}
